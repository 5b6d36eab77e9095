package domain

import "time"

// RunMode режим прогона пайплайна.
type RunMode string

const (
	// ModeDeliver обычная доставка новых элементов.
	ModeDeliver RunMode = "deliver"
	// ModeCursorOnly только сдвиг курсора без отправки.
	ModeCursorOnly RunMode = "cursor_only"
	// ModeCreateLabels создание меток и правил.
	ModeCreateLabels RunMode = "create_labels"
)

// RunOptions параметры одного прогона.
type RunOptions struct {
	Mode               RunMode
	TryLoadFullContent bool
	AssumeYes          bool
}

// RunReport итоги прогона.
type RunReport struct {
	RunID          string    `json:"run_id"`
	Mode           RunMode   `json:"mode"`
	FeedsTotal     int       `json:"feeds_total"`
	FeedsWithItems int       `json:"feeds_with_items"`
	FeedsFailed    int       `json:"feeds_failed"`
	Sent           int       `json:"sent"`
	Failed         int       `json:"failed"`
	Skipped        int       `json:"skipped"`
	FailedSubjects []string  `json:"failed_subjects,omitempty"`
	CursorAdvanced bool      `json:"cursor_advanced"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Error          string    `json:"error,omitempty"`
}

// ProvisionReport итоги создания меток и правил.
type ProvisionReport struct {
	LabelsCreated  []string `json:"labels_created,omitempty"`
	LabelsExisting int      `json:"labels_existing"`
	RulesCreated   []string `json:"rules_created,omitempty"`
	RulesExisting  int      `json:"rules_existing"`
	Failures       []string `json:"failures,omitempty"`
}

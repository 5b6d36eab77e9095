package domain

import (
	"context"
	"time"
)

// ConfigSource отдаёт дерево групп и лент.
type ConfigSource interface {
	Load(ctx context.Context) (FeedConfig, error)
}

// FeedFetcher читает ленту и отбрасывает элементы не новее since.
type FeedFetcher interface {
	FetchSince(ctx context.Context, url string, since *time.Time, fallbackTitle string) (FetchResult, error)
}

// CursorStore хранит водяные знаки лент.
type CursorStore interface {
	Load(ctx context.Context) (Cursor, bool, error)
	Persist(ctx context.Context, cursor Cursor) error
	Exists(ctx context.Context) (bool, error)
}

// MailSender отправляет одно письмо.
type MailSender interface {
	Send(ctx context.Context, msg MailMessage) error
}

// ContentExtractor вытаскивает основной текст статьи.
type ContentExtractor interface {
	Extract(ctx context.Context, url string) (string, error)
}

// LabelProvider управляет метками и правилами почтового ящика.
type LabelProvider interface {
	ListLabels(ctx context.Context) ([]Label, error)
	CreateLabel(ctx context.Context, name string) (Label, error)
	ListFilters(ctx context.Context) ([]FilterRule, error)
	CreateFilter(ctx context.Context, rule FilterRule) (FilterRule, error)
}

// LabelProvisioner создаёт иерархию меток по таксономии.
type LabelProvisioner interface {
	Provision(ctx context.Context, cfg FeedConfig) (ProvisionReport, error)
}

// SeenSet помнит ключи уже отправленных элементов без даты.
type SeenSet interface {
	// MarkIfNew возвращает true, если ключ встретился впервые.
	MarkIfNew(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

// Confirmer запрашивает подтверждение у оператора.
type Confirmer interface {
	Confirm(prompt string) (bool, error)
}

// Notifier сообщает оператору об итогах прогона с ошибками.
type Notifier interface {
	NotifyRun(ctx context.Context, report RunReport) error
}

// Clock источник текущего времени.
type Clock interface {
	Now() time.Time
}

// SystemClock использует time.Now.
type SystemClock struct{}

// Now возвращает текущее время в UTC.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Runner выполняет прогон пайплайна.
type Runner interface {
	Run(ctx context.Context, opts RunOptions) (RunReport, error)
}

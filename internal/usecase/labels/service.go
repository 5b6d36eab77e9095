// Package labels создаёт иерархию меток и правил сортировки по таксономии лент.
package labels

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"rss-mail-digest/internal/domain"
	"rss-mail-digest/internal/infra/retry"
	"rss-mail-digest/internal/usecase/taxonomy"
)

// Service реализует domain.LabelProvisioner.
type Service struct {
	provider domain.LabelProvider
	root     string
	sender   string
	retry    retry.Policy
	log      zerolog.Logger
}

var _ domain.LabelProvisioner = (*Service)(nil)

// NewService создаёт сервис меток. sender адрес отправителя для общего правила.
func NewService(provider domain.LabelProvider, root, sender string, policy retry.Policy, logger zerolog.Logger) *Service {
	if root == "" {
		root = taxonomy.DefaultRootLabel
	}
	if policy.Retryable == nil {
		policy.Retryable = isThrottled
	}
	return &Service{provider: provider, root: root, sender: sender, retry: policy, log: logger}
}

// Provision идемпотентно создаёт метки и правила. Ошибки отдельных меток и правил
// только логируются; ошибка получения списков прерывает работу.
func (s *Service) Provision(ctx context.Context, cfg domain.FeedConfig) (domain.ProvisionReport, error) {
	var report domain.ProvisionReport

	existingLabels, err := s.provider.ListLabels(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: метки: %w", domain.ErrLabelListing, err)
	}
	existingFilters, err := s.provider.ListFilters(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: правила: %w", domain.ErrLabelListing, err)
	}

	labelMap := make(domain.LabelMap, len(existingLabels))
	for _, l := range existingLabels {
		labelMap[l.Name] = l.ID
	}

	groupPaths := taxonomy.GroupPaths(cfg)
	feeds := taxonomy.Flatten(cfg)
	feedPaths := taxonomy.FeedPaths(cfg)
	known := uniq(append(append([]string{}, groupPaths...), feedPaths...))

	ensured := make(domain.LabelMap, len(known)+1)
	s.ensureLabel(ctx, s.root, labelMap, ensured, &report)
	for _, path := range known {
		s.ensureLabel(ctx, s.labelName(path), labelMap, ensured, &report)
	}

	subjects := make(map[string]struct{}, len(existingFilters))
	senders := make(map[string]struct{})
	for _, f := range existingFilters {
		if f.Criteria.Subject != "" {
			subjects[subjectKey(f.Criteria.Subject)] = struct{}{}
		}
		if f.Criteria.From != "" && f.Criteria.Subject == "" {
			senders[f.Criteria.From] = struct{}{}
		}
	}

	for _, f := range LeafFeeds(feeds, known) {
		subject := strings.TrimSpace(taxonomy.FormatSubjectPrefix(f.GroupPath) + " " + f.Title)
		s.ensureRule(ctx, subject, s.labelName(feedPath(f)), true, ensured, subjects, &report)
	}

	for _, group := range GroupsWithFeeds(groupPaths, feedPaths) {
		subject := taxonomy.FormatSubjectPrefix(group)
		s.ensureRule(ctx, subject, s.labelName(group), false, ensured, subjects, &report)
	}

	if s.sender != "" {
		if _, ok := senders[s.sender]; ok {
			report.RulesExisting++
		} else {
			s.createRule(ctx, domain.FilterCriteria{From: s.sender}, s.root, true, ensured, &report)
			senders[s.sender] = struct{}{}
		}
	}

	s.log.Info().
		Int("labels_created", len(report.LabelsCreated)).
		Int("labels_existing", report.LabelsExisting).
		Int("rules_created", len(report.RulesCreated)).
		Int("rules_existing", report.RulesExisting).
		Int("failures", len(report.Failures)).
		Msg("labels: провижининг завершён")
	return report, nil
}

func (s *Service) labelName(path string) string {
	return s.root + "/" + path
}

func (s *Service) ensureLabel(ctx context.Context, name string, existing, ensured domain.LabelMap, report *domain.ProvisionReport) {
	if id, ok := existing[name]; ok {
		ensured[name] = id
		report.LabelsExisting++
		return
	}
	var created domain.Label
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.provider.CreateLabel(ctx, name)
		return err
	})
	if err != nil {
		s.log.Error().Err(err).Str("label", name).Msg("labels: не удалось создать метку")
		report.Failures = append(report.Failures, "label "+name+": "+err.Error())
		return
	}
	existing[name] = created.ID
	ensured[name] = created.ID
	report.LabelsCreated = append(report.LabelsCreated, name)
	s.log.Info().Str("label", name).Msg("labels: метка создана")
}

func (s *Service) ensureRule(ctx context.Context, subject, label string, archive bool, ensured domain.LabelMap, subjects map[string]struct{}, report *domain.ProvisionReport) {
	key := subjectKey(subject)
	if _, ok := subjects[key]; ok {
		report.RulesExisting++
		return
	}
	if s.createRule(ctx, domain.FilterCriteria{Subject: subject}, label, archive, ensured, report) {
		subjects[key] = struct{}{}
	}
}

func (s *Service) createRule(ctx context.Context, criteria domain.FilterCriteria, label string, archive bool, ensured domain.LabelMap, report *domain.ProvisionReport) bool {
	desc := describe(criteria)
	labelID, ok := ensured[label]
	if !ok {
		s.log.Error().Str("rule", desc).Str("label", label).Msg("labels: метка правила не создана, пропускаем")
		report.Failures = append(report.Failures, "rule "+desc+": нет метки "+label)
		return false
	}
	rule := domain.FilterRule{
		Criteria: criteria,
		Action:   domain.FilterAction{AddLabelIDs: []string{labelID}, Archive: archive},
	}
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		_, err := s.provider.CreateFilter(ctx, rule)
		return err
	})
	if err != nil {
		s.log.Error().Err(err).Str("rule", desc).Msg("labels: не удалось создать правило")
		report.Failures = append(report.Failures, "rule "+desc+": "+err.Error())
		return false
	}
	report.RulesCreated = append(report.RulesCreated, desc)
	s.log.Info().Str("rule", desc).Bool("archive", archive).Msg("labels: правило создано")
	return true
}

// LeafPaths оставляет из candidates пути, у которых среди known нет потомков.
func LeafPaths(candidates, known []string) []string {
	var out []string
	for _, c := range candidates {
		leaf := true
		for _, k := range known {
			if strings.HasPrefix(k, c+"/") {
				leaf = false
				break
			}
		}
		if leaf {
			out = append(out, c)
		}
	}
	return out
}

// GroupsWithFeeds оставляет группы, под которыми есть хотя бы одна лента.
func GroupsWithFeeds(groups, feeds []string) []string {
	var out []string
	for _, g := range groups {
		for _, f := range feeds {
			if strings.HasPrefix(f, g+"/") {
				out = append(out, g)
				break
			}
		}
	}
	return out
}

// LeafFeeds оставляет ленты, чей путь листовой среди known. Повторы пути отбрасываются.
func LeafFeeds(feeds []domain.FlatFeed, known []string) []domain.FlatFeed {
	seen := make(map[string]struct{}, len(feeds))
	var out []domain.FlatFeed
	for _, f := range feeds {
		path := feedPath(f)
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		if len(LeafPaths([]string{path}, known)) == 1 {
			out = append(out, f)
		}
	}
	return out
}

func feedPath(f domain.FlatFeed) string {
	if f.GroupPath == "" {
		return f.Title
	}
	return f.GroupPath + "/" + f.Title
}

// subjectKey приводит тему правила к каноничному виду: "[A] [B]  x" и "[A][B] x" совпадают.
func subjectKey(subject string) string {
	segments, rest := taxonomy.ParseSubjectPrefix(subject)
	if len(segments) == 0 {
		return strings.TrimSpace(subject)
	}
	key := taxonomy.FormatSubjectPrefix(strings.Join(segments, "/"))
	if rest = strings.TrimSpace(rest); rest != "" {
		key += " " + rest
	}
	return key
}

func describe(c domain.FilterCriteria) string {
	if c.From != "" {
		return "from:" + c.From
	}
	return "subject:" + c.Subject
}

func uniq(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

type statusCoder interface {
	StatusCode() int
}

func isThrottled(err error) bool {
	var sc statusCoder
	if !errors.As(err, &sc) {
		return false
	}
	code := sc.StatusCode()
	return code == 429 || code >= 500
}

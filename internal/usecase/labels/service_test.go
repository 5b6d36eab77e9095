package labels

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"rss-mail-digest/internal/domain"
	"rss-mail-digest/internal/infra/retry"
	"rss-mail-digest/internal/usecase/taxonomy"
)

type memoryProvider struct {
	labels        []domain.Label
	filters       []domain.FilterRule
	labelCreates  int
	filterCreates int
	failLabel     string
	listErr       error
}

func (m *memoryProvider) ListLabels(context.Context) ([]domain.Label, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]domain.Label(nil), m.labels...), nil
}

func (m *memoryProvider) CreateLabel(_ context.Context, name string) (domain.Label, error) {
	if name == m.failLabel {
		return domain.Label{}, errors.New("label rejected")
	}
	for _, l := range m.labels {
		if l.Name == name {
			return domain.Label{}, fmt.Errorf("duplicate label %q", name)
		}
	}
	m.labelCreates++
	l := domain.Label{ID: fmt.Sprintf("L%d", len(m.labels)+1), Name: name}
	m.labels = append(m.labels, l)
	return l, nil
}

func (m *memoryProvider) ListFilters(context.Context) ([]domain.FilterRule, error) {
	return append([]domain.FilterRule(nil), m.filters...), nil
}

func (m *memoryProvider) CreateFilter(_ context.Context, rule domain.FilterRule) (domain.FilterRule, error) {
	m.filterCreates++
	rule.ID = fmt.Sprintf("F%d", len(m.filters)+1)
	m.filters = append(m.filters, rule)
	return rule, nil
}

func (m *memoryProvider) labelID(name string) string {
	for _, l := range m.labels {
		if l.Name == name {
			return l.ID
		}
	}
	return ""
}

func testConfig() domain.FeedConfig {
	return domain.FeedConfig{Groups: []domain.Group{
		{
			Name:  "Tech",
			Feeds: []domain.FeedRef{{Title: "Hacker News", URL: "https://hn.example/rss"}},
			Groups: []domain.Group{
				{Name: "Programming", Feeds: []domain.FeedRef{{Title: "Go Blog", URL: "https://go.example/feed"}}},
				{Name: "Empty"},
			},
		},
	}}
}

func newTestService(p domain.LabelProvider) *Service {
	return NewService(p, "RSS Feeds", "rss@example.com", retry.Policy{}, zerolog.Nop())
}

func TestProvisionCreatesHierarchyAndRules(t *testing.T) {
	p := &memoryProvider{labels: []domain.Label{{ID: "INBOX", Name: "INBOX"}}}
	report, err := newTestService(p).Provision(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	wantLabels := []string{
		"RSS Feeds",
		"RSS Feeds/Tech",
		"RSS Feeds/Tech/Programming",
		"RSS Feeds/Tech/Empty",
		"RSS Feeds/Tech/Hacker News",
		"RSS Feeds/Tech/Programming/Go Blog",
	}
	if diff := cmp.Diff(wantLabels, report.LabelsCreated); diff != "" {
		t.Fatalf("метки (-want +got):\n%s", diff)
	}

	bySubject := map[string]domain.FilterRule{}
	var fromRule *domain.FilterRule
	for i, f := range p.filters {
		if f.Criteria.From != "" {
			fromRule = &p.filters[i]
			continue
		}
		bySubject[f.Criteria.Subject] = f
	}
	var subjects []string
	for s := range bySubject {
		subjects = append(subjects, s)
	}
	sort.Strings(subjects)
	wantSubjects := []string{"[Tech]", "[Tech] Hacker News", "[Tech][Programming]", "[Tech][Programming] Go Blog"}
	if diff := cmp.Diff(wantSubjects, subjects); diff != "" {
		t.Fatalf("правила (-want +got):\n%s", diff)
	}

	leaf := bySubject["[Tech][Programming] Go Blog"]
	if !leaf.Action.Archive || leaf.Action.AddLabelIDs[0] != p.labelID("RSS Feeds/Tech/Programming/Go Blog") {
		t.Fatalf("листовое правило должно архивировать и ставить метку ленты: %+v", leaf)
	}
	group := bySubject["[Tech][Programming]"]
	if group.Action.Archive || group.Action.AddLabelIDs[0] != p.labelID("RSS Feeds/Tech/Programming") {
		t.Fatalf("групповое правило не архивирует: %+v", group)
	}
	if fromRule == nil || fromRule.Criteria.From != "rss@example.com" || !fromRule.Action.Archive ||
		fromRule.Action.AddLabelIDs[0] != p.labelID("RSS Feeds") {
		t.Fatalf("ожидали общее правило по отправителю: %+v", fromRule)
	}
	if _, ok := bySubject["[Tech][Empty]"]; ok {
		t.Fatalf("группа без лент не получает правило")
	}
}

func TestProvisionIsIdempotent(t *testing.T) {
	p := &memoryProvider{}
	svc := newTestService(p)
	if _, err := svc.Provision(context.Background(), testConfig()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	labels, filters := p.labelCreates, p.filterCreates

	report, err := svc.Provision(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if p.labelCreates != labels || p.filterCreates != filters {
		t.Fatalf("повторный запуск создал лишнее: метки %d→%d, правила %d→%d", labels, p.labelCreates, filters, p.filterCreates)
	}
	if len(report.LabelsCreated) != 0 || len(report.RulesCreated) != 0 {
		t.Fatalf("повторный запуск не должен ничего создавать: %+v", report)
	}
	if report.RulesExisting != filters {
		t.Fatalf("ожидали %d существующих правил, получили %d", filters, report.RulesExisting)
	}
}

func TestProvisionSkipsFailedLabel(t *testing.T) {
	p := &memoryProvider{failLabel: "RSS Feeds/Tech/Hacker News"}
	report, err := newTestService(p).Provision(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(report.Failures) != 2 {
		t.Fatalf("ожидали ошибку метки и зависящего правила, получили %v", report.Failures)
	}
	for _, f := range p.filters {
		if f.Criteria.Subject == "[Tech] Hacker News" {
			t.Fatalf("правило без метки не должно создаваться")
		}
	}
	if p.labelID("RSS Feeds/Tech/Programming/Go Blog") == "" {
		t.Fatalf("остальные метки должны создаваться")
	}
}

func TestProvisionListingFailureIsFatal(t *testing.T) {
	p := &memoryProvider{listErr: errors.New("unauthorized")}
	_, err := newTestService(p).Provision(context.Background(), testConfig())
	if !errors.Is(err, domain.ErrLabelListing) {
		t.Fatalf("ожидали ErrLabelListing, получили %v", err)
	}
	if p.labelCreates != 0 {
		t.Fatalf("ничего не должно создаваться")
	}
}

type statusError struct{ code int }

func (e *statusError) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e *statusError) StatusCode() int { return e.code }

func TestProvisionListingFailureKeepsProviderError(t *testing.T) {
	p := &memoryProvider{listErr: &statusError{code: 401}}
	_, err := newTestService(p).Provision(context.Background(), testConfig())
	var se *statusError
	if !errors.As(err, &se) || se.code != 401 {
		t.Fatalf("ошибка провайдера должна быть доступна через errors.As, получили %v", err)
	}
	if !errors.Is(err, domain.ErrLabelListing) {
		t.Fatalf("ожидали ErrLabelListing, получили %v", err)
	}
}

func TestProvisionLeafRuleMatchesSentSubject(t *testing.T) {
	cfg := domain.FeedConfig{Groups: []domain.Group{
		{Name: "Tech", Feeds: []domain.FeedRef{{Title: "AT&T / Blog", URL: "https://att.example/rss"}}},
	}}
	p := &memoryProvider{}
	if _, err := newTestService(p).Provision(context.Background(), cfg); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	sent := taxonomy.FormatSubject("Tech", "AT&T / Blog", "x")
	var leaf *domain.FilterRule
	for i, f := range p.filters {
		if f.Action.Archive && f.Criteria.Subject != "" {
			leaf = &p.filters[i]
		}
	}
	if leaf == nil || leaf.Criteria.Subject != "[Tech] AT&T / Blog" {
		t.Fatalf("неожиданное листовое правило: %+v", leaf)
	}
	if !strings.HasPrefix(sent, leaf.Criteria.Subject) {
		t.Fatalf("правило %q не совпадает с темой %q", leaf.Criteria.Subject, sent)
	}
	if leaf.Action.AddLabelIDs[0] != p.labelID("RSS Feeds/Tech/AT&T / Blog") {
		t.Fatalf("листовое правило должно ставить метку ленты: %+v", leaf)
	}
}

func TestProvisionRecognisesSpacedPrefixRule(t *testing.T) {
	p := &memoryProvider{filters: []domain.FilterRule{
		{ID: "F0", Criteria: domain.FilterCriteria{Subject: "[Tech] [Programming]"}},
	}}
	report, err := newTestService(p).Provision(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	for _, rule := range report.RulesCreated {
		if rule == "subject:[Tech][Programming]" {
			t.Fatalf("правило группы уже есть в другом написании, создано повторно")
		}
	}
	if report.RulesExisting != 1 {
		t.Fatalf("ожидали одно существующее правило, получили %d", report.RulesExisting)
	}
}

func TestLeafFeeds(t *testing.T) {
	feeds := []domain.FlatFeed{
		{Title: "Go", GroupPath: "Tech", URL: "https://a.example"},
		{Title: "Rust", GroupPath: "Tech", URL: "https://b.example"},
		{Title: "Rust", GroupPath: "Tech", URL: "https://c.example"},
	}
	known := []string{"Tech", "Tech/Go", "Tech/Go/Weekly", "Tech/Rust"}
	got := LeafFeeds(feeds, known)
	if diff := cmp.Diff([]domain.FlatFeed{feeds[1]}, got); diff != "" {
		t.Fatalf("LeafFeeds (-want +got):\n%s", diff)
	}
}

func TestLeafPaths(t *testing.T) {
	known := []string{"Tech", "Tech/Go", "Tech/Go/Weekly", "Tech/Rust"}
	got := LeafPaths([]string{"Tech/Go", "Tech/Rust"}, known)
	if diff := cmp.Diff([]string{"Tech/Rust"}, got); diff != "" {
		t.Fatalf("LeafPaths (-want +got):\n%s", diff)
	}
}

func TestGroupsWithFeeds(t *testing.T) {
	got := GroupsWithFeeds([]string{"A", "A/B", "C"}, []string{"A/B/feed"})
	if diff := cmp.Diff([]string{"A", "A/B"}, got); diff != "" {
		t.Fatalf("GroupsWithFeeds (-want +got):\n%s", diff)
	}
}

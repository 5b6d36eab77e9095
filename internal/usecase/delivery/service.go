// Package delivery реализует прогон пайплайна: чтение лент, отправку писем и сдвиг курсора.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"rss-mail-digest/internal/adapters/cursor"
	"rss-mail-digest/internal/adapters/feed"
	"rss-mail-digest/internal/domain"
	"rss-mail-digest/internal/infra/metrics"
	"rss-mail-digest/internal/infra/retry"
	"rss-mail-digest/internal/usecase/taxonomy"
)

const (
	defaultConcurrency    = 8
	defaultEnrichMinWords = 100
)

// Config параметры доставки.
type Config struct {
	From           string
	To             string
	RootLabel      string
	Concurrency    int
	EnrichMinWords int
	Retry          retry.Policy
}

// Deps зависимости пайплайна. Extractor, Seen, Provisioner и Notifier необязательны.
type Deps struct {
	Source      domain.ConfigSource
	Fetcher     domain.FeedFetcher
	Cursor      domain.CursorStore
	Sender      domain.MailSender
	Provisioner domain.LabelProvisioner
	Extractor   domain.ContentExtractor
	Seen        domain.SeenSet
	Confirmer   domain.Confirmer
	Notifier    domain.Notifier
	Clock       domain.Clock
}

// Service выполняет прогоны пайплайна.
type Service struct {
	deps Deps
	cfg  Config
	log  zerolog.Logger
}

var _ domain.Runner = (*Service)(nil)

// NewService создаёт пайплайн доставки.
func NewService(deps Deps, cfg Config, logger zerolog.Logger) *Service {
	if deps.Clock == nil {
		deps.Clock = domain.SystemClock{}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.EnrichMinWords <= 0 {
		cfg.EnrichMinWords = defaultEnrichMinWords
	}
	if cfg.RootLabel == "" {
		cfg.RootLabel = taxonomy.DefaultRootLabel
	}
	return &Service{deps: deps, cfg: cfg, log: logger.With().Str("component", "delivery").Logger()}
}

type fetchSlot struct {
	feed   domain.FlatFeed
	result domain.FetchResult
	err    error
}

// Run выполняет один прогон в выбранном режиме.
func (s *Service) Run(ctx context.Context, opts domain.RunOptions) (report domain.RunReport, err error) {
	if opts.Mode == "" {
		opts.Mode = domain.ModeDeliver
	}
	started := time.Now()
	report = domain.RunReport{
		RunID:     uuid.NewString(),
		Mode:      opts.Mode,
		StartedAt: s.deps.Clock.Now(),
	}
	log := s.log.With().Str("run_id", report.RunID).Str("mode", string(opts.Mode)).Logger()

	defer func() {
		report.FinishedAt = s.deps.Clock.Now()
		if err != nil {
			report.Error = err.Error()
		}
		metrics.ObserveRun(string(opts.Mode), started, err)
		log.Info().
			Int("feeds", report.FeedsTotal).
			Int("feeds_with_items", report.FeedsWithItems).
			Int("feeds_failed", report.FeedsFailed).
			Int("sent", report.Sent).
			Int("failed", report.Failed).
			Int("skipped", report.Skipped).
			Bool("cursor_advanced", report.CursorAdvanced).
			Err(err).
			Msg("delivery: прогон завершён")
		s.notify(ctx, log, report, err)
	}()

	cfg, err := s.deps.Source.Load(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: %w", domain.ErrConfigFetch, err)
	}
	if err := taxonomy.Validate(cfg); err != nil {
		return report, fmt.Errorf("%w: %w", domain.ErrInvalidConfig, err)
	}

	if opts.Mode == domain.ModeCreateLabels {
		return s.provision(ctx, log, cfg, report)
	}

	cur, existed, loadErr := s.deps.Cursor.Load(ctx)
	if loadErr != nil {
		log.Warn().Err(loadErr).Msg("delivery: курсор не прочитан, считаем прогон первым")
		cur = domain.Cursor{}
	}

	feeds := uniqueFeeds(taxonomy.Flatten(cfg))
	report.FeedsTotal = len(feeds)
	slots := s.fetchAll(ctx, log, feeds, cur)
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("delivery: %w", err)
	}

	results := make(map[string][]domain.FeedItem)
	for _, slot := range slots {
		if slot.err != nil {
			report.FeedsFailed++
			continue
		}
		if len(slot.result.Items) > 0 {
			results[slot.feed.URL] = slot.result.Items
		}
	}
	report.FeedsWithItems = len(results)

	switch opts.Mode {
	case domain.ModeCursorOnly:
		if existed && !opts.AssumeYes {
			ok, err := s.confirm(cursorOnlyQuestion(len(results)))
			if err != nil {
				return report, fmt.Errorf("delivery: подтверждение: %w", err)
			}
			if !ok {
				log.Info().Msg("delivery: оператор отказался обновлять курсор")
				return report, domain.ErrAborted
			}
		}
	case domain.ModeDeliver:
		if err := s.deliver(ctx, log, cfg, slots, opts.TryLoadFullContent, &report); err != nil {
			return report, err
		}
	default:
		return report, fmt.Errorf("delivery: неизвестный режим %q", opts.Mode)
	}

	if len(results) == 0 {
		log.Info().Msg("delivery: новых элементов нет, курсор не меняется")
		return report, nil
	}
	next := cursor.Advance(cur, results, s.deps.Clock.Now())
	if err := s.deps.Cursor.Persist(ctx, next); err != nil {
		return report, fmt.Errorf("%w: %w", domain.ErrCursorPersist, err)
	}
	changed := cursor.Changed(cur, next)
	metrics.CursorAdvances.Add(float64(len(changed)))
	report.CursorAdvanced = true
	log.Debug().Strs("feeds", changed).Msg("delivery: курсор сохранён")
	return report, nil
}

func (s *Service) provision(ctx context.Context, log zerolog.Logger, cfg domain.FeedConfig, report domain.RunReport) (domain.RunReport, error) {
	if s.deps.Provisioner == nil {
		return report, fmt.Errorf("%w: не заданы учётные данные почтового провайдера", domain.ErrInvalidConfig)
	}
	pr, err := s.deps.Provisioner.Provision(ctx, cfg)
	if err != nil {
		return report, fmt.Errorf("delivery: создание меток: %w", err)
	}
	report.Failed = len(pr.Failures)
	report.FailedSubjects = pr.Failures
	log.Info().
		Int("labels_created", len(pr.LabelsCreated)).
		Int("labels_existing", pr.LabelsExisting).
		Int("rules_created", len(pr.RulesCreated)).
		Int("rules_existing", pr.RulesExisting).
		Int("failures", len(pr.Failures)).
		Msg("delivery: метки и правила готовы")
	return report, nil
}

func (s *Service) fetchAll(ctx context.Context, log zerolog.Logger, feeds []domain.FlatFeed, cur domain.Cursor) []fetchSlot {
	slots := make([]fetchSlot, len(feeds))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, f := range feeds {
		i, f := i, f
		var since *time.Time
		if ts, ok := cur[f.URL]; ok {
			since = &ts
		}
		g.Go(func() error {
			res, err := s.deps.Fetcher.FetchSince(ctx, f.URL, since, f.Title)
			slots[i] = fetchSlot{feed: f, result: res, err: err}
			if err != nil {
				log.Warn().Err(err).Str("feed", f.Title).Str("url", f.URL).Str("kind", string(feed.KindOf(err))).
					Msg("delivery: лента пропущена")
				return nil
			}
			ev := log.Debug().Str("feed", f.Title).Int("items", len(res.Items))
			if since != nil {
				ev = ev.Str("since", formatTime(*since))
			}
			ev.Msg("delivery: лента прочитана")
			return nil
		})
	}
	_ = g.Wait()
	return slots
}

func (s *Service) deliver(ctx context.Context, log zerolog.Logger, cfg domain.FeedConfig, slots []fetchSlot, fullContent bool, report *domain.RunReport) error {
	for _, slot := range slots {
		if slot.err != nil {
			continue
		}
		feedTitle := slot.result.Title
		if feedTitle == "" {
			feedTitle = slot.feed.Title
		}
		path := taxonomy.ResolveGroupPath(slot.feed.URL, cfg)
		for _, item := range slot.result.Items {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("delivery: отправка прервана: %w", err)
			}
			if item.FeedTitle == "" {
				item.FeedTitle = feedTitle
			}
			if item.FeedURL == "" {
				item.FeedURL = slot.feed.URL
			}
			if fullContent {
				item = s.enrich(ctx, log, item)
			}
			d := domain.DeliverableItem{
				Item:      item,
				GroupPath: path,
				Subject:   taxonomy.FormatSubject(path, feedTitle, strings.TrimSpace(item.Title)),
				Labels:    taxonomy.BuildLabelString(s.cfg.RootLabel, path),
			}
			s.sendOne(ctx, log, d, report)
		}
	}
	return nil
}

// enrich подменяет текст короткого элемента основным содержимым страницы, если оно длиннее.
func (s *Service) enrich(ctx context.Context, log zerolog.Logger, item domain.FeedItem) domain.FeedItem {
	if s.deps.Extractor == nil || strings.TrimSpace(item.Link) == "" {
		return item
	}
	if wordCount(item.Summary) >= s.cfg.EnrichMinWords {
		return item
	}
	content, err := s.deps.Extractor.Extract(ctx, item.Link)
	if err != nil {
		metrics.EnrichTotal.WithLabelValues("error").Inc()
		log.Debug().Err(err).Str("url", item.Link).Msg("delivery: полный текст не получен")
		return item
	}
	if len(content) <= len(bodyOf(item)) {
		metrics.EnrichTotal.WithLabelValues("shorter").Inc()
		return item
	}
	metrics.EnrichTotal.WithLabelValues("ok").Inc()
	item.Content = content
	return item
}

func (s *Service) sendOne(ctx context.Context, log zerolog.Logger, d domain.DeliverableItem, report *domain.RunReport) {
	ilog := log.With().Str("feed", d.Item.FeedTitle).Str("subject", d.Subject).Logger()

	var key string
	if s.deps.Seen != nil && d.Item.Published == nil {
		key = seenKey(d.Item)
		fresh, err := s.deps.Seen.MarkIfNew(ctx, key)
		switch {
		case err != nil:
			ilog.Warn().Err(err).Msg("delivery: seen set недоступен, отправляем")
			key = ""
		case !fresh:
			report.Skipped++
			metrics.SeenSkipped.Inc()
			ilog.Debug().Msg("delivery: элемент без даты уже отправлялся")
			return
		}
	}

	msg := domain.MailMessage{
		From:     s.cfg.From,
		To:       s.cfg.To,
		Subject:  d.Subject,
		HTMLBody: FormatBody(d),
		Labels:   d.Labels,
		Headers: map[string]string{
			"X-RSS-Feed": d.Item.FeedURL,
			"X-RSS-Run":  report.RunID,
		},
	}

	policy := s.cfg.Retry
	onRetry := policy.OnRetry
	policy.OnRetry = func(err error, attempt int, wait time.Duration) {
		metrics.MailSendRetries.Inc()
		ilog.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("delivery: повтор отправки")
		if onRetry != nil {
			onRetry(err, attempt, wait)
		}
	}
	err := policy.Do(ctx, func(ctx context.Context) error {
		return s.deps.Sender.Send(ctx, msg)
	})
	metrics.ObserveSend(err)
	if err != nil {
		report.Failed++
		report.FailedSubjects = append(report.FailedSubjects, d.Subject)
		ilog.Error().Err(err).Msg("delivery: письмо не отправлено")
		if key != "" {
			if ferr := s.deps.Seen.Forget(context.WithoutCancel(ctx), key); ferr != nil {
				ilog.Warn().Err(ferr).Msg("delivery: не удалось снять отметку seen")
			}
		}
		return
	}
	report.Sent++
	ilog.Info().Msg("delivery: письмо отправлено")
}

func (s *Service) confirm(question string) (bool, error) {
	if s.deps.Confirmer == nil {
		return false, nil
	}
	return s.deps.Confirmer.Confirm(question)
}

func (s *Service) notify(ctx context.Context, log zerolog.Logger, report domain.RunReport, err error) {
	if s.deps.Notifier == nil || errors.Is(err, domain.ErrAborted) {
		return
	}
	if report.Failed == 0 && err == nil {
		return
	}
	if nerr := s.deps.Notifier.NotifyRun(context.WithoutCancel(ctx), report); nerr != nil {
		log.Warn().Err(nerr).Msg("delivery: уведомление оператору не отправлено")
	}
}

func cursorOnlyQuestion(feeds int) string {
	return fmt.Sprintf("Курсор уже существует. Отметить новые элементы %d лент как прочитанные без отправки?", feeds)
}

// uniqueFeeds оставляет первое вхождение каждого URL.
func uniqueFeeds(feeds []domain.FlatFeed) []domain.FlatFeed {
	seen := make(map[string]struct{}, len(feeds))
	out := make([]domain.FlatFeed, 0, len(feeds))
	for _, f := range feeds {
		if _, ok := seen[f.URL]; ok {
			continue
		}
		seen[f.URL] = struct{}{}
		out = append(out, f)
	}
	return out
}

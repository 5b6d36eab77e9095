package main

import (
	"context"
	"fmt"
	netmail "net/mail"
	"os"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"rss-mail-digest/internal/adapters/configsource"
	"rss-mail-digest/internal/adapters/cursor"
	"rss-mail-digest/internal/adapters/extract"
	"rss-mail-digest/internal/adapters/feed"
	"rss-mail-digest/internal/adapters/gmail"
	"rss-mail-digest/internal/adapters/mail"
	"rss-mail-digest/internal/adapters/prompt"
	"rss-mail-digest/internal/adapters/repo"
	"rss-mail-digest/internal/adapters/telegram"
	"rss-mail-digest/internal/domain"
	"rss-mail-digest/internal/infra/cache"
	"rss-mail-digest/internal/infra/config"
	"rss-mail-digest/internal/infra/db"
	httpinfra "rss-mail-digest/internal/infra/http"
	"rss-mail-digest/internal/infra/retry"
	"rss-mail-digest/internal/usecase/delivery"
	"rss-mail-digest/internal/usecase/labels"
	"rss-mail-digest/internal/usecase/schedule"
)

type app struct {
	log     zerolog.Logger
	cursors domain.CursorStore
	service *delivery.Service
	closers []func()
}

// Close освобождает соединения в обратном порядке.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg config.AppConfig, flags runFlags, logger zerolog.Logger) (*app, error) {
	a := &app{log: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	source, err := configsource.New(cfg.Source.URL, configsource.WithToken(cfg.Source.Token))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidConfig, err)
	}

	if a.cursors, err = a.cursorStore(ctx, cfg); err != nil {
		return nil, err
	}
	seen, err := a.seenSet(ctx, cfg)
	if err != nil {
		return nil, err
	}

	policy := retry.Policy{MaxRetries: cfg.Delivery.MaxRetries, Delay: cfg.Delivery.RetryDelay}
	deps := delivery.Deps{
		Source: source,
		Fetcher: feed.NewFetcher(feed.Options{
			Timeout:       cfg.Feed.Timeout,
			MaxRedirects:  cfg.Feed.MaxRedirects,
			UserAgent:     cfg.Feed.UserAgent,
			InsecureRetry: cfg.Feed.InsecureRetry,
		}, logger.With().Str("component", "feed").Logger()),
		Cursor: a.cursors,
		Sender: mail.NewSMTPSender(mail.Options{
			Host:        cfg.Mail.Host,
			Port:        cfg.Mail.Port,
			Username:    cfg.Mail.Username,
			Password:    cfg.Mail.Password,
			TLSMode:     mail.TLSMode(cfg.Mail.TLSMode),
			LabelHeader: cfg.Mail.LabelHeader,
			Timeout:     cfg.Mail.Timeout,
		}),
		Seen:      seen,
		Confirmer: prompt.New(os.Stdin, os.Stderr),
		Notifier:  a.notifier(cfg),
		Clock:     domain.SystemClock{},
	}
	if flags.yes {
		deps.Confirmer = prompt.Always{}
	}
	if flags.fullContent {
		deps.Extractor = extract.New(cfg.Delivery.EnrichTimeout, cfg.Feed.UserAgent)
	}
	if cfg.GmailEnabled() {
		if deps.Provisioner, err = a.provisioner(ctx, cfg, policy); err != nil {
			return nil, err
		}
	}

	a.service = delivery.NewService(deps, delivery.Config{
		From:           cfg.Mail.From,
		To:             cfg.Mail.To,
		RootLabel:      cfg.Mail.RootLabel,
		Concurrency:    cfg.Feed.Concurrency,
		EnrichMinWords: cfg.Delivery.EnrichMinWords,
		Retry:          policy,
	}, logger)
	ok = true
	return a, nil
}

func (a *app) cursorStore(ctx context.Context, cfg config.AppConfig) (domain.CursorStore, error) {
	if cfg.Cursor.Backend != "postgres" {
		return cursor.NewFileStore(cfg.Cursor.Path, a.log.With().Str("component", "cursor").Logger()), nil
	}
	pool, err := db.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pool.Close)
	store := repo.NewPostgres(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("схема курсора: %w", err)
	}
	return store, nil
}

func (a *app) seenSet(ctx context.Context, cfg config.AppConfig) (domain.SeenSet, error) {
	switch cfg.Seen.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		a.closers = append(a.closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return cache.NewRedis(client, cfg.Redis.Prefix, cfg.Seen.TTL), nil
	case "sqlite":
		store, err := cache.OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = store.Close() })
		if n, err := store.Prune(ctx, cfg.Seen.TTL); err != nil {
			a.log.Warn().Err(err).Msg("rss2mail: очистка seen set")
		} else if n > 0 {
			a.log.Debug().Int64("removed", n).Msg("rss2mail: seen set очищен")
		}
		return store, nil
	default:
		return nil, nil
	}
}

func (a *app) notifier(cfg config.AppConfig) domain.Notifier {
	if !cfg.TelegramEnabled() {
		return nil
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		a.log.Warn().Err(err).Msg("rss2mail: telegram недоступен, уведомления выключены")
		return nil
	}
	return telegram.NewNotifier(bot, cfg.Telegram.AlertChatID)
}

func (a *app) provisioner(ctx context.Context, cfg config.AppConfig, policy retry.Policy) (domain.LabelProvisioner, error) {
	httpClient, err := gmail.NewOAuthHTTPClient(ctx, gmail.Credentials{
		ClientID:     cfg.Gmail.ClientID,
		ClientSecret: cfg.Gmail.ClientSecret,
		RefreshToken: cfg.Gmail.RefreshToken,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidConfig, err)
	}
	opts := []gmail.Option{gmail.WithHTTPClient(httpClient), gmail.WithTimeout(cfg.Gmail.Timeout)}
	if cfg.Gmail.BaseURL != "" {
		opts = append(opts, gmail.WithBaseURL(cfg.Gmail.BaseURL))
	}
	sender := cfg.Mail.From
	if addr, err := netmail.ParseAddress(cfg.Mail.From); err == nil {
		sender = addr.Address
	}
	return labels.NewService(gmail.New(opts...), cfg.Mail.RootLabel, sender, policy,
		a.log.With().Str("component", "labels").Logger()), nil
}

func (a *app) serve(ctx context.Context, opts domain.RunOptions, interval time.Duration, addr string) error {
	runner, err := schedule.NewRunner(a.service, opts, interval, a.log)
	if err != nil {
		return err
	}
	server := httpinfra.NewServer(a.log, prometheus.DefaultGatherer, runner, a.cursors)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		err := server.Start(ctx, addr)
		if err != nil {
			cancel()
		}
		errCh <- err
	}()

	runner.Start(ctx)
	return <-errCh
}

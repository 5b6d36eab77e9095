package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"rss-mail-digest/internal/domain"
	"rss-mail-digest/internal/infra/config"
	applog "rss-mail-digest/internal/infra/log"
	"rss-mail-digest/internal/infra/metrics"
)

const (
	exitOK = iota
	exitUnexpected
	exitConfig
	exitCursorPersist
	exitFailedSends
	exitAborted
)

type runFlags struct {
	createLabels bool
	cursorOnly   bool
	fullContent  bool
	maxRetries   int
	retryDelayMS int
	yes          bool
}

func (f runFlags) options() domain.RunOptions {
	mode := domain.ModeDeliver
	switch {
	case f.createLabels:
		mode = domain.ModeCreateLabels
	case f.cursorOnly:
		mode = domain.ModeCursorOnly
	}
	return domain.RunOptions{Mode: mode, TryLoadFullContent: f.fullContent, AssumeYes: f.yes}
}

// applyTo переносит явно заданные флаги поверх значений из окружения.
func (f runFlags) applyTo(cmd *cobra.Command, cfg *config.AppConfig) {
	if cmd.Flags().Changed("max-retries") {
		cfg.Delivery.MaxRetries = f.maxRetries
	}
	if cmd.Flags().Changed("retry-delay") {
		cfg.Delivery.RetryDelay = time.Duration(f.retryDelayMS) * time.Millisecond
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func execute(ctx context.Context, args []string) int {
	var (
		flags    runFlags
		interval time.Duration
		code     = exitOK
	)

	root := &cobra.Command{
		Use:           "rss2mail",
		Short:         "Доставка RSS/Atom лент в почту, по письму на элемент",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			code = runOnce(cmd, flags)
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&flags.createLabels, "create-labels", false, "создать метки и правила почты и выйти")
	root.PersistentFlags().BoolVar(&flags.cursorOnly, "update-cursor-only", false, "отметить текущие элементы прочитанными без отправки")
	root.PersistentFlags().BoolVar(&flags.fullContent, "try-load-full-content", false, "подгружать полный текст коротких элементов")
	root.PersistentFlags().IntVar(&flags.maxRetries, "max-retries", 3, "число повторов отправки письма")
	root.PersistentFlags().IntVar(&flags.retryDelayMS, "retry-delay", 5000, "стартовая задержка повтора в мс, удваивается")
	root.PersistentFlags().BoolVar(&flags.yes, "yes", false, "не спрашивать подтверждение")
	root.MarkFlagsMutuallyExclusive("create-labels", "update-cursor-only")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Запускать прогоны по таймеру и поднять административный HTTP сервер",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			code = runServe(cmd, flags, interval)
			return nil
		},
	}
	serve.Flags().DurationVar(&interval, "interval", 30*time.Minute, "период между прогонами")
	root.AddCommand(serve)

	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		root.PrintErrln("rss2mail:", err)
		return exitUnexpected
	}
	return code
}

func setup(cmd *cobra.Command, flags runFlags) (config.AppConfig, zerolog.Logger, bool) {
	cfg, err := config.Load()
	if err != nil {
		logger := applog.NewLogger("prod", os.Getenv("LOG_FORMAT"))
		logger.Error().Err(err).Msg("rss2mail: конфигурация")
		return cfg, logger, false
	}
	flags.applyTo(cmd, &cfg)
	logger := applog.NewLogger(cfg.AppEnv, cfg.LogFormat)
	metrics.MustRegister(prometheus.DefaultRegisterer)
	return cfg, logger, true
}

func runOnce(cmd *cobra.Command, flags runFlags) int {
	ctx := cmd.Context()
	cfg, logger, ok := setup(cmd, flags)
	if !ok {
		return exitConfig
	}
	if cfg.Metrics.Addr != "" {
		metrics.StartServer(ctx, logger, cfg.Metrics.Addr)
	}

	a, err := buildApp(ctx, cfg, flags, logger)
	if err != nil {
		logger.Error().Err(err).Msg("rss2mail: инициализация")
		return exitCode(domain.RunReport{}, err)
	}
	defer a.Close()

	report, err := a.service.Run(ctx, flags.options())
	if perr := metrics.Push(context.WithoutCancel(ctx), cfg.Metrics.PushgatewayURL, "rss2mail", prometheus.DefaultGatherer); perr != nil {
		logger.Warn().Err(perr).Msg("rss2mail: pushgateway недоступен")
	}
	if err != nil {
		logger.Error().Err(err).Str("run_id", report.RunID).Msg("rss2mail: прогон завершился ошибкой")
	}
	return exitCode(report, err)
}

func runServe(cmd *cobra.Command, flags runFlags, interval time.Duration) int {
	ctx := cmd.Context()
	cfg, logger, ok := setup(cmd, flags)
	if !ok {
		return exitConfig
	}
	// Без терминала подтверждение невозможно, режим курсора в serve всегда без вопроса.
	flags.yes = true

	a, err := buildApp(ctx, cfg, flags, logger)
	if err != nil {
		logger.Error().Err(err).Msg("rss2mail: инициализация")
		return exitCode(domain.RunReport{}, err)
	}
	defer a.Close()

	if err := a.serve(ctx, flags.options(), interval, cfg.HTTP.Addr); err != nil {
		logger.Error().Err(err).Msg("rss2mail: serve")
		return exitCode(domain.RunReport{}, err)
	}
	return exitOK
}

// exitCode сопоставляет итог прогона коду завершения процесса.
func exitCode(report domain.RunReport, err error) int {
	switch {
	case err == nil && report.Failed > 0:
		return exitFailedSends
	case err == nil:
		return exitOK
	case errors.Is(err, domain.ErrAborted):
		return exitAborted
	case errors.Is(err, domain.ErrConfigFetch), errors.Is(err, domain.ErrInvalidConfig):
		return exitConfig
	case errors.Is(err, domain.ErrCursorPersist):
		return exitCursorPersist
	default:
		return exitUnexpected
	}
}

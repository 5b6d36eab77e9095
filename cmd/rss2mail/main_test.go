package main

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"rss-mail-digest/internal/domain"
	"rss-mail-digest/internal/infra/config"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		name   string
		report domain.RunReport
		err    error
		want   int
	}{
		{"ok", domain.RunReport{Sent: 2}, nil, exitOK},
		{"failed sends", domain.RunReport{Sent: 1, Failed: 1}, nil, exitFailedSends},
		{"config fetch", domain.RunReport{}, fmt.Errorf("%w: timeout", domain.ErrConfigFetch), exitConfig},
		{"invalid config", domain.RunReport{}, fmt.Errorf("%w: dup", domain.ErrInvalidConfig), exitConfig},
		{"cursor", domain.RunReport{Failed: 1}, fmt.Errorf("%w: disk", domain.ErrCursorPersist), exitCursorPersist},
		{"aborted", domain.RunReport{}, domain.ErrAborted, exitAborted},
		{"unexpected", domain.RunReport{}, errors.New("boom"), exitUnexpected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCode(tc.report, tc.err); got != tc.want {
				t.Fatalf("exitCode = %d, ожидали %d", got, tc.want)
			}
		})
	}
}

func TestRunFlagsOptions(t *testing.T) {
	if got := (runFlags{}).options().Mode; got != domain.ModeDeliver {
		t.Fatalf("по умолчанию доставка, получили %s", got)
	}
	opts := runFlags{cursorOnly: true, yes: true, fullContent: true}.options()
	if opts.Mode != domain.ModeCursorOnly || !opts.AssumeYes || !opts.TryLoadFullContent {
		t.Fatalf("неожиданные опции: %+v", opts)
	}
	if got := (runFlags{createLabels: true}).options().Mode; got != domain.ModeCreateLabels {
		t.Fatalf("ожидали режим меток, получили %s", got)
	}
}

func TestApplyToOverridesOnlyChangedFlags(t *testing.T) {
	var flags runFlags
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().IntVar(&flags.maxRetries, "max-retries", 3, "")
	cmd.Flags().IntVar(&flags.retryDelayMS, "retry-delay", 5000, "")
	if err := cmd.Flags().Parse([]string{"--retry-delay", "250"}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	var cfg config.AppConfig
	cfg.Delivery.MaxRetries = 7
	cfg.Delivery.RetryDelay = time.Second
	flags.applyTo(cmd, &cfg)
	if cfg.Delivery.MaxRetries != 7 {
		t.Fatalf("незаданный флаг не должен менять окружение: %d", cfg.Delivery.MaxRetries)
	}
	if cfg.Delivery.RetryDelay != 250*time.Millisecond {
		t.Fatalf("ожидали 250ms, получили %s", cfg.Delivery.RetryDelay)
	}
}

func TestExecuteRejectsConflictingModes(t *testing.T) {
	code := execute(context.Background(), []string{"--create-labels", "--update-cursor-only"})
	if code != exitUnexpected {
		t.Fatalf("ожидали %d, получили %d", exitUnexpected, code)
	}
}

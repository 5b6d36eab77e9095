// Package schedule запускает пайплайн по таймеру и по запросу, не допуская наложения прогонов.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rss-mail-digest/internal/domain"
)

// ErrInvalidInterval возвращается, если интервал не положительный.
var ErrInvalidInterval = errors.New("invalid interval")

// Runner отвечает за периодические прогоны.
type Runner struct {
	runner   domain.Runner
	opts     domain.RunOptions
	interval time.Duration
	log      zerolog.Logger

	running sync.Mutex

	mu      sync.RWMutex
	last    domain.RunReport
	lastErr error
	hasLast bool
	wg      sync.WaitGroup
}

// NewRunner создаёт планировщик.
func NewRunner(runner domain.Runner, opts domain.RunOptions, interval time.Duration, logger zerolog.Logger) (*Runner, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}
	return &Runner{
		runner:   runner,
		opts:     opts,
		interval: interval,
		log:      logger.With().Str("component", "schedule").Logger(),
	}, nil
}

// Start делает прогон сразу и затем на каждом тике, пока ctx не отменён.
// Дожидается фоновых прогонов перед возвратом.
func (r *Runner) Start(ctx context.Context) {
	defer r.wg.Wait()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("schedule: остановлен")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	if _, err := r.RunOnce(ctx); errors.Is(err, domain.ErrRunInProgress) {
		r.log.Info().Msg("schedule: прогон уже идёт, тик пропущен")
	}
}

// RunOnce выполняет прогон синхронно. Если прогон уже идёт, возвращает ErrRunInProgress.
func (r *Runner) RunOnce(ctx context.Context) (domain.RunReport, error) {
	if !r.running.TryLock() {
		return domain.RunReport{}, domain.ErrRunInProgress
	}
	defer r.running.Unlock()
	return r.run(ctx)
}

// Trigger запускает прогон в фоне. Если прогон уже идёт, возвращает ErrRunInProgress.
func (r *Runner) Trigger(ctx context.Context) error {
	if !r.running.TryLock() {
		return domain.ErrRunInProgress
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.running.Unlock()
		_, _ = r.run(ctx)
	}()
	return nil
}

func (r *Runner) run(ctx context.Context) (domain.RunReport, error) {
	report, err := r.runner.Run(ctx, r.opts)
	if err != nil {
		r.log.Error().Err(err).Str("run_id", report.RunID).Msg("schedule: прогон завершился ошибкой")
	}
	r.mu.Lock()
	r.last, r.lastErr, r.hasLast = report, err, true
	r.mu.Unlock()
	return report, err
}

// Last возвращает отчёт последнего завершённого прогона.
func (r *Runner) Last() (domain.RunReport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last, r.hasLast
}

// Running сообщает, идёт ли сейчас прогон.
func (r *Runner) Running() bool {
	if r.running.TryLock() {
		r.running.Unlock()
		return false
	}
	return true
}

// Wait ждёт завершения фоновых прогонов.
func (r *Runner) Wait() {
	r.wg.Wait()
}

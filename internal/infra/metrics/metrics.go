package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rs/zerolog"
)

var (
	FeedFetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_fetch_total",
		Help: "Чтения лент по исходу",
	}, []string{"kind"})
	FeedItemsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_items_total",
		Help: "Новые элементы лент после фильтра по курсору",
	})
	MailSendTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mail_send_total",
		Help: "Отправленные письма по статусу",
	}, []string{"status"})
	MailSendRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mail_send_retries_total",
		Help: "Повторные попытки отправки писем",
	})
	EnrichTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "content_enrich_total",
		Help: "Попытки подгрузить полный текст статьи",
	}, []string{"status"})
	SeenSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "seen_skipped_total",
		Help: "Элементы без даты, пропущенные как уже отправленные",
	})
	CursorAdvances = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cursor_advances_total",
		Help: "Сдвиги курсора по лентам",
	})
	RunDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "run_duration_seconds",
		Help:    "Длительность прогона пайплайна",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
	}, []string{"mode"})
	RunLastSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "run_last_success_timestamp_seconds",
		Help: "Время последнего успешного прогона",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		FeedFetchTotal,
		FeedItemsTotal,
		MailSendTotal,
		MailSendRetries,
		EnrichTotal,
		SeenSkipped,
		CursorAdvances,
		RunDuration,
		RunLastSuccess,
		NetworkRequestDuration,
		NetworkRequestTotal,
	}
}

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(collectors()...)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// Push отправляет метрики разового прогона в Pushgateway.
func Push(ctx context.Context, url, job string, gatherer prometheus.Gatherer) error {
	if url == "" {
		return nil
	}
	return push.New(url, job).Gatherer(gatherer).PushContext(ctx)
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveFeedFetch учитывает исход чтения ленты.
func ObserveFeedFetch(kind string, items int) {
	if kind == "" {
		kind = "ok"
	}
	FeedFetchTotal.WithLabelValues(kind).Inc()
	if items > 0 {
		FeedItemsTotal.Add(float64(items))
	}
}

// ObserveSend учитывает итог отправки письма.
func ObserveSend(err error) {
	if err != nil {
		MailSendTotal.WithLabelValues("failed").Inc()
		return
	}
	MailSendTotal.WithLabelValues("sent").Inc()
}

// ObserveRun записывает длительность прогона и время успешного завершения.
func ObserveRun(mode string, started time.Time, err error) {
	RunDuration.WithLabelValues(mode).Observe(time.Since(started).Seconds())
	if err == nil {
		RunLastSuccess.SetToCurrentTime()
	}
}

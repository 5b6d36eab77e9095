package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"rss-mail-digest/internal/adapters/cursor"
	"rss-mail-digest/internal/domain"
)

// RunController управляет прогонами пайплайна.
type RunController interface {
	Trigger(ctx context.Context) error
	Last() (domain.RunReport, bool)
	Running() bool
}

// Server оборачивает chi.Router с базовыми middlewares.
type Server struct {
	Router chi.Router
	log    zerolog.Logger

	runs    RunController
	cursors domain.CursorStore
	baseCtx context.Context
	srv     *http.Server
}

// NewServer создаёт административный HTTP сервер.
func NewServer(logger zerolog.Logger, gatherer prometheus.Gatherer, runs RunController, cursors domain.CursorStore) *Server {
	s := &Server{
		log:     logger.With().Str("component", "http").Logger(),
		runs:    runs,
		cursors: cursors,
		baseCtx: context.Background(),
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Route("/api", func(r chi.Router) {
		r.Get("/cursor", s.handleCursor)
		r.Get("/report", s.handleReport)
		r.Post("/run", s.handleRun)
	})
	s.Router = r
	return s
}

// Start запускает http.Server и блокируется до ctx.Done или ошибки.
// Фоновые прогоны, запущенные через API, получают ctx.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.baseCtx = ctx
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http: сервер запущен")
		errCh <- s.srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown корректно останавливает сервер.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "running": s.runs.Running()})
}

func (s *Server) handleCursor(w http.ResponseWriter, r *http.Request) {
	cur, _, err := s.cursors.Load(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("http: чтение курсора")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cursor unavailable"})
		return
	}
	out := make(map[string]string, len(cur))
	for url, ts := range cur {
		out[url] = cursor.FormatTime(ts)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReport(w http.ResponseWriter, _ *http.Request) {
	report, ok := s.runs.Last()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no runs yet"})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRun(w http.ResponseWriter, _ *http.Request) {
	err := s.runs.Trigger(s.baseCtx)
	switch {
	case errors.Is(err, domain.ErrRunInProgress):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case err != nil:
		s.log.Error().Err(err).Msg("http: запуск прогона")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "run failed to start"})
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http: запрос")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

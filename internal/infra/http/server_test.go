package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"rss-mail-digest/internal/adapters/cursor"
	"rss-mail-digest/internal/domain"
)

type stubRuns struct {
	busy     bool
	triggers int
	last     *domain.RunReport
}

func (s *stubRuns) Trigger(context.Context) error {
	if s.busy {
		return domain.ErrRunInProgress
	}
	s.triggers++
	return nil
}

func (s *stubRuns) Last() (domain.RunReport, bool) {
	if s.last == nil {
		return domain.RunReport{}, false
	}
	return *s.last, true
}

func (s *stubRuns) Running() bool { return s.busy }

func newTestServer(t *testing.T, runs *stubRuns) (*Server, *cursor.FileStore) {
	t.Helper()
	store := cursor.NewFileStore(filepath.Join(t.TempDir(), "cursor.json"), zerolog.Nop())
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()
	return NewServer(zerolog.Nop(), reg, runs, store), store
}

func do(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t, &stubRuns{})
	if rec := do(t, s, http.MethodGet, "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
	rec := do(t, s, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "test_total 1") {
		t.Fatalf("metrics: %d\n%s", rec.Code, rec.Body.String())
	}
}

func TestCursorEndpoint(t *testing.T) {
	s, store := newTestServer(t, &stubRuns{})
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if err := store.Persist(context.Background(), domain.Cursor{"https://a.example/rss": ts}); err != nil {
		t.Fatal(err)
	}
	rec := do(t, s, http.MethodGet, "/api/cursor")
	if rec.Code != http.StatusOK {
		t.Fatalf("cursor: %d", rec.Code)
	}
	var got map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if diff := cmp.Diff(map[string]string{"https://a.example/rss": "2024-05-01T10:00:00Z"}, got); diff != "" {
		t.Fatalf("курсор (-want +got):\n%s", diff)
	}
}

func TestReportEndpoint(t *testing.T) {
	runs := &stubRuns{}
	s, _ := newTestServer(t, runs)
	if rec := do(t, s, http.MethodGet, "/api/report"); rec.Code != http.StatusNotFound {
		t.Fatalf("ожидали 404 до первого прогона, получили %d", rec.Code)
	}
	runs.last = &domain.RunReport{RunID: "abc", Sent: 2}
	rec := do(t, s, http.MethodGet, "/api/report")
	var got domain.RunReport
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got.RunID != "abc" || got.Sent != 2 {
		t.Fatalf("неожиданный отчёт: %+v", got)
	}
}

func TestRunEndpoint(t *testing.T) {
	runs := &stubRuns{}
	s, _ := newTestServer(t, runs)
	if rec := do(t, s, http.MethodPost, "/api/run"); rec.Code != http.StatusAccepted {
		t.Fatalf("ожидали 202, получили %d", rec.Code)
	}
	if runs.triggers != 1 {
		t.Fatalf("ожидали запуск прогона")
	}
	runs.busy = true
	if rec := do(t, s, http.MethodPost, "/api/run"); rec.Code != http.StatusConflict {
		t.Fatalf("ожидали 409, получили %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/run"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("ожидали 405, получили %d", rec.Code)
	}
}

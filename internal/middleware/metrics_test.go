package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/n3tuk/time-locked-savings/internal/metrics"
)

func TestMetrics(t *testing.T) {
	m := metrics.NewMetrics("test", nil)

	handler := Metrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz/live", nil))

	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/healthz/live", "200")); got != 1 {
		t.Errorf("request count = %v, want 1", got)
	}
}

func TestMetrics_RoutePattern(t *testing.T) {
	m := metrics.NewMetrics("test", nil)

	r := chi.NewRouter()
	r.Use(Metrics(m))
	r.Get("/accounts/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/accounts/alice", nil))

	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/accounts/{name}", "200")); got != 1 {
		t.Errorf("request count for pattern = %v, want 1", got)
	}
}

func TestMetrics_StatusCodes(t *testing.T) {
	m := metrics.NewMetrics("test", nil)

	tests := []struct {
		name       string
		statusCode int
		label      string
	}{
		{"200 OK", http.StatusOK, "200"},
		{"404 Not Found", http.StatusNotFound, "404"},
		{"503 Service Unavailable", http.StatusServiceUnavailable, "503"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Metrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))

			if rr.Code != tt.statusCode {
				t.Errorf("Status code = %d, want %d", rr.Code, tt.statusCode)
			}
			if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/status", tt.label)); got != 1 {
				t.Errorf("count for %s = %v, want 1", tt.label, got)
			}
		})
	}
}

func TestLogging(t *testing.T) {
	handler := Logging(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))

	if rr.Code != http.StatusAccepted {
		t.Errorf("Status code = %d, want %d", rr.Code, http.StatusAccepted)
	}
}

func TestRecoverer(t *testing.T) {
	handler := Recoverer(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/panic", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("Status code = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
}

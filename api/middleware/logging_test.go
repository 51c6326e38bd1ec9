package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/angelmondragon/donorledger-backend/pkg/logger"
	"github.com/angelmondragon/donorledger-backend/pkg/metrics"
)

func TestLoggingRecordsRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.InfoLevel, Output: &buf})
	reg := prometheus.NewRegistry()

	r := chi.NewRouter()
	r.Use(RequestID(logg), Logging(logg, metrics.NewHTTPMetrics(reg)))
	r.Get("/api/v1/pledges/{pledgeId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/pledges/abc", nil))

	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
	if !strings.Contains(buf.String(), "request.complete") || !strings.Contains(buf.String(), `"status":418`) {
		t.Fatalf("expected completion log with status, got %s", buf.String())
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() != "donorledger_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "route" && l.GetValue() == "/api/v1/pledges/{pledgeId}" {
					found = true
				}
			}
		}
	}
	if !found {
		t.Fatalf("expected request counter labelled with the route pattern")
	}
}

func TestRecovererReturnsInternalError(t *testing.T) {
	handler := Recoverer(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rec.Code)
	}
}

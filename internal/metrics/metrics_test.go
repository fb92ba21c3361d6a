package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCountOutcomes(t *testing.T) {
	m := New()
	m.ObserveGeneration("quiz", nil, time.Second)
	m.ObserveGeneration("quiz", errors.New("boom"), time.Second)
	m.CacheHit("summary")
	m.Upload("pdf", nil)

	if got := testutil.ToFloat64(m.generations.WithLabelValues("quiz", OutcomeOK)); got != 1 {
		t.Fatalf("ok generations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.generations.WithLabelValues("quiz", OutcomeError)); got != 1 {
		t.Fatalf("error generations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.cacheHits.WithLabelValues("summary")); got != 1 {
		t.Fatalf("cache hits = %v, want 1", got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.Upload("text", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `studydeck_uploads_total{outcome="ok",source="text"} 1`) {
		t.Fatalf("uploads counter missing from exposition:\n%s", body)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveGeneration("summary", nil, time.Second)
	m.CacheHit("summary")
	m.Upload("pdf", nil)
	m.RateLimited()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

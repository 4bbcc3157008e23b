package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveUpstream("people_search", "ok", 0.1)
	m.ObserveEnrichment("notes", "ok")
	m.ObserveStreamEvent("initial")
	m.ObserveSearch("ok", 3)
	m.ObserveCache(true)
	m.SetBreakerState("notes", 2)
	m.StreamOpened()
	m.StreamClosed()
}

func TestObserve_CountsAndScrape(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveUpstream("people_search", "ok", 0.2)
	m.ObserveUpstream("people_search", "ok", 0.3)
	m.ObserveEnrichment("summary", "failed")
	m.ObserveCache(false)

	if got := testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("people_search", "ok")); got != 2 {
		t.Errorf("upstream ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.EnrichmentTotal.WithLabelValues("summary", "failed")); got != 1 {
		t.Errorf("summary failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CacheMissesTotal); got != 1 {
		t.Errorf("cache misses = %v, want 1", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "cwsearch_upstream_requests_total") {
		t.Error("scrape output missing upstream counter")
	}
}

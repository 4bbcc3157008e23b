// Package metrics defines the Prometheus metric collectors used by the
// search service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cwsearch"

// Metrics holds all Prometheus collectors for the service. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	UpstreamRequests     *prometheus.CounterVec
	UpstreamLatency      *prometheus.HistogramVec
	SearchesTotal        *prometheus.CounterVec
	CandidatesRanked     prometheus.Histogram
	EnrichmentTotal      *prometheus.CounterVec
	StreamEventsTotal    *prometheus.CounterVec
	ActiveStreams        prometheus.Gauge
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	CircuitBreakerState  *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New creates all collectors and registers them with reg. Passing nil uses
// the default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by method, route, and status.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds. Streaming searches include enrichment time.",
				Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"method", "route"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),
		UpstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_requests_total",
				Help:      "Calls to the ATS and the language model by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		),
		UpstreamLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_request_duration_seconds",
				Help:      "Latency of upstream calls in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		SearchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "searches_total",
				Help:      "Search requests by result (ok, upstream_error, cancelled).",
			},
			[]string{"result"},
		),
		CandidatesRanked: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "candidates_ranked",
				Help:      "Deduplicated candidates per search.",
				Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
			},
		),
		EnrichmentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "enrichment_total",
				Help:      "Per-candidate enrichment steps by stage (notes, summary) and outcome.",
			},
			[]string{"stage", "outcome"},
		),
		StreamEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_events_total",
				Help:      "Progress events written to callers by type.",
			},
			[]string{"type"},
		),
		ActiveStreams: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_streams",
				Help:      "Open search streams.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Ranked-result cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Ranked-result cache misses.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.UpstreamRequests,
		m.UpstreamLatency,
		m.SearchesTotal,
		m.CandidatesRanked,
		m.EnrichmentTotal,
		m.StreamEventsTotal,
		m.ActiveStreams,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CircuitBreakerState,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}

	return m
}

// ObserveUpstream records one upstream call.
func (m *Metrics) ObserveUpstream(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(operation, outcome).Inc()
	m.UpstreamLatency.WithLabelValues(operation).Observe(seconds)
}

// ObserveEnrichment records one enrichment step.
func (m *Metrics) ObserveEnrichment(stage, outcome string) {
	if m == nil {
		return
	}
	m.EnrichmentTotal.WithLabelValues(stage, outcome).Inc()
}

// ObserveStreamEvent counts one written progress event.
func (m *Metrics) ObserveStreamEvent(eventType string) {
	if m == nil {
		return
	}
	m.StreamEventsTotal.WithLabelValues(eventType).Inc()
}

// ObserveSearch records the final result of one search request.
func (m *Metrics) ObserveSearch(result string, ranked int) {
	if m == nil {
		return
	}
	m.SearchesTotal.WithLabelValues(result).Inc()
	if result == "ok" {
		m.CandidatesRanked.Observe(float64(ranked))
	}
}

// ObserveCache counts a cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.Inc()
		return
	}
	m.CacheMissesTotal.Inc()
}

// SetBreakerState publishes a breaker state as a gauge value.
func (m *Metrics) SetBreakerState(name string, state float64) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(state)
}

// StreamOpened and StreamClosed track the active stream gauge.
func (m *Metrics) StreamOpened() {
	if m != nil {
		m.ActiveStreams.Inc()
	}
}

func (m *Metrics) StreamClosed() {
	if m != nil {
		m.ActiveStreams.Dec()
	}
}

// Handler returns the Prometheus scrape HTTP handler for the registry m was
// created with.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

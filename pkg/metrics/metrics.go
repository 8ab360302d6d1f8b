// Package metrics defines the Prometheus collectors of the search service
// and exposes an HTTP handler for scraping. Each Metrics owns its registry so
// that tests and multiple instances never collide on registration.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "linesearch"

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	RPCCallsTotal        *prometheus.CounterVec
	RPCDuration          *prometheus.HistogramVec
	SearchResultsCount   prometheus.Histogram
	CorpusLines          prometheus.Gauge
	IndexTerms           prometheus.Gauge
	ListenersActive      prometheus.Gauge
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
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
				Help:      "HTTP request latency in seconds.",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
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
		RPCCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_calls_total",
				Help:      "JSON-RPC calls by method and result code (0 on success).",
			},
			[]string{"method", "code"},
		),
		RPCDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rpc_duration_seconds",
				Help:      "JSON-RPC handler latency in seconds.",
				Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
			},
			[]string{"method"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_results_count",
				Help:      "Number of matching lines per search.",
				Buckets:   []float64{0, 1, 5, 10, 50, 100, 500, 1000, 10000},
			},
		),
		CorpusLines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "corpus_lines",
				Help:      "Number of lines in the loaded corpus.",
			},
		),
		IndexTerms: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "index_terms",
				Help:      "Number of distinct terms in the inverted index.",
			},
		),
		ListenersActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "listeners_active",
				Help:      "Number of bound HTTP listeners.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.RPCCallsTotal,
		m.RPCDuration,
		m.SearchResultsCount,
		m.CorpusLines,
		m.IndexTerms,
		m.ListenersActive,
		m.CircuitBreakerState,
	)
	return m
}

// Handler returns the scrape handler for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// ObserveRPC records one dispatched JSON-RPC call. Its signature matches
// jsonrpc.Observer.
func (m *Metrics) ObserveRPC(method string, code int, duration time.Duration) {
	m.RPCCallsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.RPCDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// SetBreakerState records a circuit breaker transition. state uses the
// numbering of resilience.State.
func (m *Metrics) SetBreakerState(name string, state int) {
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// CacheStats is the snapshot read on every scrape by RegisterCacheStats.
type CacheStats struct {
	Hits       int64
	RemoteHits int64
	Misses     int64
	Entries    int
}

// RegisterCacheStats exports query-cache counters read from stats at scrape
// time.
func (m *Metrics) RegisterCacheStats(stats func() CacheStats) {
	lookups := prometheus.NewCounterFunc
	m.Registry.MustRegister(
		lookups(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "cache_lookups_total",
			Help:        "Query cache lookups by outcome.",
			ConstLabels: prometheus.Labels{"outcome": "local_hit"},
		}, func() float64 { return float64(stats().Hits) }),
		lookups(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "cache_lookups_total",
			Help:        "Query cache lookups by outcome.",
			ConstLabels: prometheus.Labels{"outcome": "remote_hit"},
		}, func() float64 { return float64(stats().RemoteHits) }),
		lookups(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "cache_lookups_total",
			Help:        "Query cache lookups by outcome.",
			ConstLabels: prometheus.Labels{"outcome": "miss"},
		}, func() float64 { return float64(stats().Misses) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Entries held in the local query cache.",
		}, func() float64 { return float64(stats().Entries) }),
	)
}

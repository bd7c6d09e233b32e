// Package metrics defines the Prometheus metric collectors used across the
// index and search services and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and
// records nothing, so library code can take one optionally.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	DocsAnalyzedTotal    prometheus.Counter
	TokensBuiltTotal     prometheus.Counter
	SessionFlushesTotal  *prometheus.CounterVec
	TreesPublishedTotal  prometheus.Counter
	TreeNodes            *prometheus.GaugeVec
	PostingBytesTotal    *prometheus.CounterVec
	QueriesTotal         *prometheus.CounterVec
	QueryLatency         prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
}

// New creates all collectors and registers them with reg. Passing nil
// registers with the process-wide default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		DocsAnalyzedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_documents_analyzed_total",
				Help: "Total documents passed through the analyze stage.",
			},
		),
		TokensBuiltTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_tokens_built_total",
				Help: "Total tokens inserted into vector trees.",
			},
		),
		SessionFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_session_flushes_total",
				Help: "Index session flushes by status (ok, failed).",
			},
			[]string{"status"},
		),
		TreesPublishedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_trees_published_total",
				Help: "Total vector trees published into the registry.",
			},
		),
		TreeNodes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "index_tree_nodes",
				Help: "Node count of the most recently published tree per collection and key.",
			},
			[]string{"collection", "key"},
		),
		PostingBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postings_bytes_total",
				Help: "Posting bytes moved through the storage engine by operation (read, write).",
			},
			[]string{"op"},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total queries by result type (hit, zero_result, error).",
			},
			[]string{"result_type"},
		),
		QueryLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Query execution latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses.",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.DocsAnalyzedTotal,
		m.TokensBuiltTotal,
		m.SessionFlushesTotal,
		m.TreesPublishedTotal,
		m.TreeNodes,
		m.PostingBytesTotal,
		m.QueriesTotal,
		m.QueryLatency,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)

	return m
}

func (m *Metrics) DocAnalyzed() {
	if m != nil {
		m.DocsAnalyzedTotal.Inc()
	}
}

func (m *Metrics) TokensBuilt(n int) {
	if m != nil {
		m.TokensBuiltTotal.Add(float64(n))
	}
}

func (m *Metrics) SessionFlushed(status string) {
	if m != nil {
		m.SessionFlushesTotal.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) TreePublished(collection, key string, nodes int) {
	if m != nil {
		m.TreesPublishedTotal.Inc()
		m.TreeNodes.WithLabelValues(collection, key).Set(float64(nodes))
	}
}

func (m *Metrics) PostingBytes(op string, n int) {
	if m != nil {
		m.PostingBytesTotal.WithLabelValues(op).Add(float64(n))
	}
}

func (m *Metrics) QueryExecuted(resultType string, elapsed time.Duration) {
	if m != nil {
		m.QueriesTotal.WithLabelValues(resultType).Inc()
		m.QueryLatency.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.Inc()
	} else {
		m.CacheMissesTotal.Inc()
	}
}

// Handler serves the default registry, offering OpenMetrics to scrapers
// that ask for it.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(prometheus.DefaultRegisterer,
		promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{EnableOpenMetrics: true}))
}

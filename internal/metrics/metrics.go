// Package metrics exposes Prometheus instruments for the knowledge store.
//
// Every recorder method is safe on a nil *Metrics so components can be built
// without instrumentation in tests and in the CLI.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kura"

// Metrics holds the instruments on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	DocumentOps      *prometheus.CounterVec
	SearchDuration   *prometheus.HistogramVec
	SearchResults    *prometheus.HistogramVec
	OracleCalls      *prometheus.CounterVec
	OracleDuration   *prometheus.HistogramVec
	CrossSiloRefs    prometheus.Gauge
	PatternsTotal    prometheus.Gauge
	ExtractionQueued prometheus.Gauge
	HTTPRequests     *prometheus.CounterVec
}

// New creates and registers every instrument plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		DocumentOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_operations_total",
			Help:      "Document writes by collection, operation and outcome",
		}, []string{"collection", "op", "status"}),
		SearchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Latency of similarity searches",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"kind"}),
		SearchResults: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_results",
			Help:      "Number of results returned per search",
			Buckets:   []float64{0, 1, 5, 10, 20, 50, 100},
		}, []string{"kind"}),
		OracleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_calls_total",
			Help:      "Text-generation calls by purpose and outcome",
		}, []string{"purpose", "status"}),
		OracleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_duration_seconds",
			Help:      "Latency of text-generation calls",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"purpose"}),
		CrossSiloRefs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "crosssilo_references",
			Help:      "References held by the cross-silo index",
		}),
		PatternsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "success_patterns",
			Help:      "Stored success patterns",
		}),
		ExtractionQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "extraction_queue_depth",
			Help:      "Documents waiting for asynchronous extraction",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code",
		}, []string{"route", "method", "code"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.DocumentOps, m.SearchDuration, m.SearchResults,
		m.OracleCalls, m.OracleDuration,
		m.CrossSiloRefs, m.PatternsTotal, m.ExtractionQueued,
		m.HTTPRequests,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// DocumentOp counts one write against collection.
func (m *Metrics) DocumentOp(collection, op string, err error) {
	if m == nil {
		return
	}
	m.DocumentOps.WithLabelValues(collection, op, status(err)).Inc()
}

// Search records latency and result count for a search of the given kind.
func (m *Metrics) Search(kind string, started time.Time, results int) {
	if m == nil {
		return
	}
	m.SearchDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
	m.SearchResults.WithLabelValues(kind).Observe(float64(results))
}

// Oracle records one text-generation call.
func (m *Metrics) Oracle(purpose string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.OracleCalls.WithLabelValues(purpose, status(err)).Inc()
	m.OracleDuration.WithLabelValues(purpose).Observe(time.Since(started).Seconds())
}

func (m *Metrics) SetCrossSiloRefs(n int) {
	if m == nil {
		return
	}
	m.CrossSiloRefs.Set(float64(n))
}

func (m *Metrics) SetPatterns(n int) {
	if m == nil {
		return
	}
	m.PatternsTotal.Set(float64(n))
}

func (m *Metrics) AddQueued(delta int) {
	if m == nil {
		return
	}
	m.ExtractionQueued.Add(float64(delta))
}

func (m *Metrics) HTTPRequest(route, method string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
}

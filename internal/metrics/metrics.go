// Package metrics exposes Prometheus metrics for queries, retrieval, ingestion and generation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector, registered on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	QueriesTotal        *prometheus.CounterVec
	QueryErrorsTotal    *prometheus.CounterVec
	RetrievalDuration   prometheus.Histogram
	IngestRunsTotal     *prometheus.CounterVec
	IngestDuration      prometheus.Histogram
	IngestedDocuments   prometheus.Gauge
	IndexedPassages     prometheus.Gauge
	GenerationDuration  *prometheus.HistogramVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates and registers all metrics on a fresh registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.QueriesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dalil_queries_total",
			Help: "Total number of answered queries by action",
		},
		[]string{"action"},
	)
	m.QueryErrorsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dalil_query_errors_total",
			Help: "Total number of failed queries by error kind",
		},
		[]string{"kind"},
	)
	m.RetrievalDuration = f.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dalil_retrieval_duration_seconds",
			Help:    "Duration of top-k retrieval including query embedding",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)
	m.IngestRunsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dalil_ingest_runs_total",
			Help: "Total number of ingestion runs by status",
		},
		[]string{"status"},
	)
	m.IngestDuration = f.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dalil_ingest_duration_seconds",
			Help:    "Duration of ingestion runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)
	m.IngestedDocuments = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "dalil_ingested_documents",
			Help: "Documents in the last successful ingestion",
		},
	)
	m.IndexedPassages = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "dalil_indexed_passages",
			Help: "Passages in the live corpus",
		},
	)
	m.GenerationDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dalil_generation_duration_seconds",
			Help:    "Duration of language model calls by status",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"status"},
	)
	m.HTTPRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dalil_http_requests_total",
			Help: "Total number of HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)
	m.HTTPRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dalil_http_request_duration_seconds",
			Help:    "Duration of HTTP requests by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRetrieval records one retrieval.
func (m *Metrics) ObserveRetrieval(d time.Duration) {
	m.RetrievalDuration.Observe(d.Seconds())
}

// SetIndexedPassages records the live corpus size.
func (m *Metrics) SetIndexedPassages(n int) {
	m.IndexedPassages.Set(float64(n))
}

// ObserveQuery counts a completed query.
func (m *Metrics) ObserveQuery(action string) {
	m.QueriesTotal.WithLabelValues(action).Inc()
}

// ObserveQueryError counts a failed query.
func (m *Metrics) ObserveQueryError(kind string) {
	m.QueryErrorsTotal.WithLabelValues(kind).Inc()
}

// ObserveGeneration records one language model call.
func (m *Metrics) ObserveGeneration(d time.Duration, err error) {
	m.GenerationDuration.WithLabelValues(status(err)).Observe(d.Seconds())
}

// ObserveIngest records one ingestion run.
func (m *Metrics) ObserveIngest(documents, passages int, d time.Duration, err error) {
	m.IngestRunsTotal.WithLabelValues(status(err)).Inc()
	m.IngestDuration.Observe(d.Seconds())
	if err == nil {
		m.IngestedDocuments.Set(float64(documents))
		m.IndexedPassages.Set(float64(passages))
	}
}

// ObserveHTTPRequest records one HTTP request.
func (m *Metrics) ObserveHTTPRequest(route string, code int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

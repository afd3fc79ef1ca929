// Package telemetry collects Prometheus metrics for the service: HTTP
// traffic, per-mode search latency, ingestion volume, and rebuild timings.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the instrumentation surface. One instance per process; the
// HTTP layer serves it at /metrics.
type Metrics struct {
	registry *prometheus.Registry

	// HTTPRequestCounter counts requests by method, route pattern, and
	// status code. Route patterns, not raw paths, keep cardinality bounded.
	HTTPRequestCounter *prometheus.CounterVec

	// HTTPRequestDuration measures request latency in seconds.
	// Labels: method, route, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// SearchCounter counts searches by mode and status.
	// Labels: mode (semantic|grep|hybrid|batch), status (success|error)
	SearchCounter *prometheus.CounterVec

	// SearchDuration measures search latency in seconds by mode.
	SearchDuration *prometheus.HistogramVec

	// DocumentsIngested counts documents written per index.
	DocumentsIngested *prometheus.CounterVec

	// ChunksIngested counts chunks written per index.
	ChunksIngested *prometheus.CounterVec

	// RebuildCounter counts index rebuilds by status.
	// Labels: index, status (success|error|skipped)
	RebuildCounter *prometheus.CounterVec

	// RebuildDuration measures rebuild wall time in seconds per index.
	RebuildDuration *prometheus.HistogramVec
}

// NewMetrics creates a Metrics instance backed by its own registry, so
// multiple instances (tests, embedded use) never collide.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lodestone_http_requests_total",
				Help: "Total number of HTTP requests by method, route, and status code",
			},
			[]string{"method", "route", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lodestone_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "route", "status_code"},
		),

		SearchCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lodestone_searches_total",
				Help: "Total number of searches by mode and status",
			},
			[]string{"mode", "status"},
		),

		SearchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lodestone_search_duration_seconds",
				Help:    "Duration of searches in seconds by mode",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"mode"},
		),

		DocumentsIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lodestone_documents_ingested_total",
				Help: "Total number of documents written per index",
			},
			[]string{"index"},
		),

		ChunksIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lodestone_chunks_ingested_total",
				Help: "Total number of chunks written per index",
			},
			[]string{"index"},
		),

		RebuildCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lodestone_rebuilds_total",
				Help: "Total number of index rebuilds by status",
			},
			[]string{"index", "status"},
		),

		RebuildDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lodestone_rebuild_duration_seconds",
				Help:    "Wall time of index rebuilds in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
			},
			[]string{"index"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, route, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route, statusCode).Observe(durationSeconds)
}

// RecordSearch records one search of any mode.
func (m *Metrics) RecordSearch(mode, status string, durationSeconds float64) {
	m.SearchCounter.WithLabelValues(mode, status).Inc()
	m.SearchDuration.WithLabelValues(mode).Observe(durationSeconds)
}

// RecordIngest records documents and chunks written in one add/update.
func (m *Metrics) RecordIngest(index string, documents, chunks int) {
	if documents > 0 {
		m.DocumentsIngested.WithLabelValues(index).Add(float64(documents))
	}
	if chunks > 0 {
		m.ChunksIngested.WithLabelValues(index).Add(float64(chunks))
	}
}

// RecordRebuild records one rebuild attempt.
func (m *Metrics) RecordRebuild(index, status string, durationSeconds float64) {
	m.RebuildCounter.WithLabelValues(index, status).Inc()
	m.RebuildDuration.WithLabelValues(index).Observe(durationSeconds)
}

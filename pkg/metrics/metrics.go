package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mnemo"

// PrometheusCollector records metrics into its own registry.
type PrometheusCollector struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	stageDuration     *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	storageCount      *prometheus.GaugeVec
	searchesTotal     *prometheus.CounterVec
	searchResults     prometheus.Histogram
	fallbacksTotal    *prometheus.CounterVec
	registry          *prometheus.Registry
}

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// NewCollector creates a collector with a fresh registry.
func NewCollector() *PrometheusCollector {
	c := &PrometheusCollector{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Engine operations by name and status.",
		}, []string{"operation", "status"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "End-to-end duration of engine operations.",
			Buckets:   latencyBuckets,
		}, []string{"operation"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of stages within an operation.",
			Buckets:   latencyBuckets,
		}, []string{"operation", "stage"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors by operation and classified error type.",
		}, []string{"operation", "error_type"}),
		storageCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "storage_count",
			Help:      "Stored items by type.",
		}, []string{"type"}),
		searchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Searches by strategy.",
		}, []string{"strategy"}),
		searchResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_results",
			Help:      "Number of results returned per search.",
			Buckets:   []float64{0, 1, 5, 10, 20, 50, 100},
		}),
		fallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_fallbacks_total",
			Help:      "Search stages skipped at runtime by stage and reason.",
		}, []string{"stage", "reason"}),
		registry: prometheus.NewRegistry(),
	}

	c.registry.MustRegister(
		c.operationsTotal,
		c.operationDuration,
		c.stageDuration,
		c.errorsTotal,
		c.storageCount,
		c.searchesTotal,
		c.searchResults,
		c.fallbacksTotal,
	)
	return c
}

// RecordOperation counts a finished operation and observes its duration.
func (m *PrometheusCollector) RecordOperation(ctx context.Context, operation string, status string, durationMs int64) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(seconds(durationMs))
}

// RecordStage observes the duration of a stage within an operation.
func (m *PrometheusCollector) RecordStage(ctx context.Context, operation string, stage string, durationMs int64) {
	m.stageDuration.WithLabelValues(operation, stage).Observe(seconds(durationMs))
}

// RecordError counts an error occurrence.
func (m *PrometheusCollector) RecordError(ctx context.Context, operation string, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// SetStorageCount sets the current count for a storage type.
func (m *PrometheusCollector) SetStorageCount(ctx context.Context, storageType string, count int64) {
	m.storageCount.WithLabelValues(storageType).Set(float64(count))
}

func (m *PrometheusCollector) RecordSearch(ctx context.Context, strategy string, results int) {
	m.searchesTotal.WithLabelValues(strategy).Inc()
	m.searchResults.Observe(float64(results))
}

func (m *PrometheusCollector) RecordFallback(ctx context.Context, stage string, reason string) {
	m.fallbacksTotal.WithLabelValues(stage, reason).Inc()
}

// Registry returns the Prometheus registry for HTTP exposure.
func (m *PrometheusCollector) Registry() *prometheus.Registry {
	return m.registry
}

func seconds(ms int64) float64 {
	return float64(ms) / 1000.0
}

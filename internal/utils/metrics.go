package utils

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tracks performance metrics across the system. Each collector owns its
// registry so several servers can live in one process (tests do this).
type MetricsCollector struct {
	registry *prometheus.Registry

	requests       prometheus.Counter
	errors         prometheus.Counter
	operationTimes *prometheus.HistogramVec
	toggles        *prometheus.CounterVec
	txFailures     *prometheus.CounterVec

	systemStartTime time.Time
}

func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feedline",
			Name:      "requests_total",
			Help:      "HTTP requests served.",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feedline",
			Name:      "errors_total",
			Help:      "Requests that ended in an error response.",
		}),
		operationTimes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "feedline",
			Name:      "operation_duration_seconds",
			Help:      "Latency of actor operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		toggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedline",
			Name:      "toggles_total",
			Help:      "Like and save toggles by kind and outcome.",
		}, []string{"kind", "outcome"}),
		txFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedline",
			Name:      "transaction_failures_total",
			Help:      "Store transactions that failed to commit.",
		}, []string{"operation"}),
		systemStartTime: time.Now(),
	}

	mc.registry.MustRegister(
		mc.requests,
		mc.errors,
		mc.operationTimes,
		mc.toggles,
		mc.txFailures,
		collectors.NewGoCollector(),
	)
	return mc
}

func (mc *MetricsCollector) IncrementRequests() {
	mc.requests.Inc()
}

func (mc *MetricsCollector) IncrementErrors() {
	mc.errors.Inc()
}

func (mc *MetricsCollector) AddOperationLatency(operationName string, duration time.Duration) {
	mc.operationTimes.WithLabelValues(operationName).Observe(duration.Seconds())
}

// RecordToggle counts a like/save toggle. outcome is "on", "off" or "noop".
func (mc *MetricsCollector) RecordToggle(kind, outcome string) {
	mc.toggles.WithLabelValues(kind, outcome).Inc()
}

func (mc *MetricsCollector) IncrementTransactionFailures(operationName string) {
	mc.txFailures.WithLabelValues(operationName).Inc()
}

func (mc *MetricsCollector) Uptime() time.Duration {
	return time.Since(mc.systemStartTime)
}

func (mc *MetricsCollector) Registry() *prometheus.Registry {
	return mc.registry
}

// Handler exposes the collector in the Prometheus text format.
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{})
}

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Remote store metrics
	backendCallsTotal *prometheus.CounterVec
	backendRetries    *prometheus.CounterVec

	// Pipeline metrics
	pipelineActionsTotal *prometheus.CounterVec

	// Convergence metrics
	convergenceTotal    *prometheus.CounterVec
	convergenceDuration *prometheus.HistogramVec

	// Registration guard
	metricsOnce       sync.Once
	metricsRegistered bool
)

// InitMetrics registers all collectors with the default registry.
// Recording before InitMetrics is a no-op.
func InitMetrics() {
	metricsOnce.Do(func() {
		backendCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secretsync_backend_calls_total",
				Help: "Total number of remote secret store calls",
			},
			[]string{"backend", "operation", "outcome"},
		)

		backendRetries = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secretsync_backend_retries_total",
				Help: "Total number of retried remote secret store calls",
			},
			[]string{"backend", "operation"},
		)

		pipelineActionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secretsync_pipeline_actions_total",
				Help: "Secrets handled by the generate stage by action",
			},
			[]string{"action"},
		)

		convergenceTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secretsync_convergence_checks_total",
				Help: "Delivery object convergence results by final state",
			},
			[]string{"state"},
		)

		convergenceDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "secretsync_convergence_wait_seconds",
				Help:    "Time spent waiting for delivery objects to converge",
				Buckets: []float64{0.5, 2, 5, 10, 30, 60, 120},
			},
			[]string{"state"},
		)

		metricsRegistered = true
	})
}

// RecordBackendCall records one remote store call outcome
func RecordBackendCall(backend, operation, outcome string) {
	if !metricsRegistered || backendCallsTotal == nil {
		return
	}
	backendCallsTotal.WithLabelValues(backend, operation, outcome).Inc()
}

// RecordRetry records a retried remote store call
func RecordRetry(backend, operation string) {
	if !metricsRegistered || backendRetries == nil {
		return
	}
	backendRetries.WithLabelValues(backend, operation).Inc()
}

// RecordAction records a generate stage action (created, updated, skipped, failed, planned)
func RecordAction(action string) {
	if !metricsRegistered || pipelineActionsTotal == nil {
		return
	}
	pipelineActionsTotal.WithLabelValues(action).Inc()
}

// RecordConvergence records a delivery object's final state and how long it took
func RecordConvergence(state string, durationSeconds float64) {
	if !metricsRegistered {
		return
	}

	if convergenceTotal != nil {
		convergenceTotal.WithLabelValues(state).Inc()
	}

	if convergenceDuration != nil {
		convergenceDuration.WithLabelValues(state).Observe(durationSeconds)
	}
}

// WriteTextfile writes the default registry in the Prometheus text format,
// suitable for the node exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

// IsMetricsRegistered returns whether metrics have been initialized.
func IsMetricsRegistered() bool {
	return metricsRegistered
}

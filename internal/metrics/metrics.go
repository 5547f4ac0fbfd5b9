// Package metrics exposes prometheus instrumentation for pipeline activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors registered for one daemon process.
type Metrics struct {
	registry *prometheus.Registry

	JobsCompleted  prometheus.Counter
	JobsFailed     prometheus.Counter
	StepsExecuted  *prometheus.CounterVec
	StepFailures   *prometheus.CounterVec
	StepDuration   *prometheus.HistogramVec
	ExternalCalls  *prometheus.CounterVec
	ExternalErrors *prometheus.CounterVec
}

// New constructs and registers the pipeline collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		JobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reelpipe",
			Name:      "jobs_completed_total",
			Help:      "Jobs that reached the completed state.",
		}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reelpipe",
			Name:      "jobs_failed_total",
			Help:      "Jobs that reached the failed state.",
		}),
		StepsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reelpipe",
			Name:      "steps_executed_total",
			Help:      "Successfully executed pipeline steps by type.",
		}, []string{"type"}),
		StepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reelpipe",
			Name:      "step_failures_total",
			Help:      "Failed pipeline steps by type.",
		}, []string{"type"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reelpipe",
			Name:      "step_duration_seconds",
			Help:      "Wall-clock duration of pipeline steps by type.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"type"}),
		ExternalCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reelpipe",
			Name:      "external_calls_total",
			Help:      "Calls to third-party capabilities by service.",
		}, []string{"service"}),
		ExternalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reelpipe",
			Name:      "external_errors_total",
			Help:      "Failed calls to third-party capabilities by service.",
		}, []string{"service"}),
	}

	registry.MustRegister(
		m.JobsCompleted,
		m.JobsFailed,
		m.StepsExecuted,
		m.StepFailures,
		m.StepDuration,
		m.ExternalCalls,
		m.ExternalErrors,
	)
	return m
}

// ObserveExternalCall records one call to a third-party capability and,
// when err is non-nil, its failure.
func (m *Metrics) ObserveExternalCall(service string, err error) {
	m.ExternalCalls.WithLabelValues(service).Inc()
	if err != nil {
		m.ExternalErrors.WithLabelValues(service).Inc()
	}
}

// Registry returns the registry backing the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

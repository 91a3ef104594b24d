package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every apicore metric.
const Namespace = "apicore"

// Metrics holds process-level metrics that are not owned by any single component.
type Metrics struct {
	// ComponentStatus reports lifecycle state per component (0=stopped, 1=running, 2=draining)
	ComponentStatus *prometheus.GaugeVec
	// BackendConnected reports whether an optional backend (redis, nats, sql) is reachable
	BackendConnected *prometheus.GaugeVec
	// BackendErrors counts errors absorbed at a tier boundary
	BackendErrors *prometheus.CounterVec
	// FetchDuration measures end-to-end coordinator fetches
	FetchDuration *prometheus.HistogramVec
}

// NewMetrics creates the process-level metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ComponentStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "component",
				Name:      "status",
				Help:      "Component status (0=stopped, 1=running, 2=draining)",
			},
			[]string{"component"},
		),
		BackendConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "backend",
				Name:      "connected",
				Help:      "Backend connection status (0=disconnected, 1=connected)",
			},
			[]string{"backend"},
		),
		BackendErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "backend",
				Name:      "errors_total",
				Help:      "Errors absorbed at a cache tier boundary",
			},
			[]string{"backend", "operation"},
		),
		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "fetch",
				Name:      "duration_seconds",
				Help:      "Coordinator fetch duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"resource", "source"},
		),
	}
}

// RecordComponentStatus sets the lifecycle state of a component
func (m *Metrics) RecordComponentStatus(component string, status int) {
	m.ComponentStatus.WithLabelValues(component).Set(float64(status))
}

// RecordBackendConnected marks a backend as connected or not
func (m *Metrics) RecordBackendConnected(backend string, connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	m.BackendConnected.WithLabelValues(backend).Set(v)
}

// RecordBackendError counts an absorbed backend error
func (m *Metrics) RecordBackendError(backend, operation string) {
	m.BackendErrors.WithLabelValues(backend, operation).Inc()
}

// RecordFetch observes a coordinator fetch; source is "cache" or "upstream"
func (m *Metrics) RecordFetch(resource, source string, seconds float64) {
	m.FetchDuration.WithLabelValues(resource, source).Observe(seconds)
}

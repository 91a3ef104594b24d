package resource

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/apicore/metric"
)

type managerMetrics struct {
	active   *prometheus.GaugeVec
	acquired *prometheus.CounterVec
	rejected *prometheus.CounterVec
	wait     *prometheus.HistogramVec
}

func newManagerMetrics(registry *metric.MetricsRegistry) (*managerMetrics, error) {
	m := &managerMetrics{
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "resource",
			Name:      "active",
			Help:      "Slots currently held per resource class",
		}, []string{"class"}),
		acquired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "resource",
			Name:      "acquired_total",
			Help:      "Slots acquired per resource class",
		}, []string{"class"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "resource",
			Name:      "rejected_total",
			Help:      "Non-waiting acquisitions refused because the class was saturated",
		}, []string{"class"}),
		wait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "resource",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for admission and rate limit",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2, 5, 10, 30},
		}, []string{"class"}),
	}

	if err := registry.RegisterGaugeVec("resource", "active", m.active); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("resource", "acquired", m.acquired); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("resource", "rejected", m.rejected); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec("resource", "wait", m.wait); err != nil {
		return nil, err
	}
	return m, nil
}

package batch

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/apicore/metric"
)

type processorMetrics struct {
	items      *prometheus.CounterVec
	batches    *prometheus.CounterVec
	failures   *prometheus.CounterVec
	retries    *prometheus.CounterVec
	pending    *prometheus.GaugeVec
	threshold  *prometheus.GaugeVec
	wait       *prometheus.GaugeVec
	processing *prometheus.HistogramVec
}

func newProcessorMetrics(registry *metric.MetricsRegistry) (*processorMetrics, error) {
	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "batch",
			Name:      name,
			Help:      help,
		}, []string{"kind"})
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "batch",
			Name:      name,
			Help:      help,
		}, []string{"kind"})
	}

	m := &processorMetrics{
		items:     counter("items_total", "Items submitted"),
		batches:   counter("batches_total", "Batches handed to a processor"),
		failures:  counter("failures_total", "Items in batches whose processor returned an error"),
		retries:   counter("retries_total", "Items re-queued after a failed batch"),
		pending:   gauge("pending", "Items waiting in the queue"),
		threshold: gauge("threshold", "Current adaptive flush threshold"),
		wait:      gauge("wait_seconds", "Current adaptive wait window in seconds"),
		processing: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "batch",
			Name:      "processing_duration_seconds",
			Help:      "Time spent inside the processor per batch",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"kind", "status"}),
	}

	counters := map[string]*prometheus.CounterVec{
		"items": m.items, "batches": m.batches, "failures": m.failures, "retries": m.retries,
	}
	for name, c := range counters {
		if err := registry.RegisterCounterVec("batch", name, c); err != nil {
			return nil, err
		}
	}
	gauges := map[string]*prometheus.GaugeVec{
		"pending": m.pending, "threshold": m.threshold, "wait": m.wait,
	}
	for name, g := range gauges {
		if err := registry.RegisterGaugeVec("batch", name, g); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterHistogramVec("batch", "processing", m.processing); err != nil {
		return nil, err
	}
	return m, nil
}

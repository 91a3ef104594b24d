package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/apicore/errors"
	"github.com/c360/apicore/metric"
)

// cacheMetrics holds Prometheus collectors for one cache tier.
type cacheMetrics struct {
	hits       prometheus.Counter
	misses     prometheus.Counter
	sets       prometheus.Counter
	deletes    prometheus.Counter
	evictions  prometheus.Counter
	promotions prometheus.Counter
	size       prometheus.Gauge
}

func newCacheMetrics(registry *metric.MetricsRegistry, prefix string) (*cacheMetrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "cache",
			Name:        name,
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        help,
		})
	}

	m := &cacheMetrics{
		hits:       counter("hits_total", "Total number of cache hits"),
		misses:     counter("misses_total", "Total number of cache misses"),
		sets:       counter("sets_total", "Total number of cache set operations"),
		deletes:    counter("deletes_total", "Total number of cache delete operations"),
		evictions:  counter("evictions_total", "Total number of cache evictions"),
		promotions: counter("promotions_total", "Total number of values promoted into this tier"),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "cache",
			Name:        "size",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Current number of entries in cache",
		}),
	}

	counters := []struct {
		name string
		c    prometheus.Counter
	}{
		{"cache_hits", m.hits},
		{"cache_misses", m.misses},
		{"cache_sets", m.sets},
		{"cache_deletes", m.deletes},
		{"cache_evictions", m.evictions},
		{"cache_promotions", m.promotions},
	}
	for _, c := range counters {
		if err := registry.RegisterCounter(prefix, c.name, c.c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(prefix, "cache_size", m.size); err != nil {
		return nil, err
	}

	return m, nil
}

// Recorder pairs always-on Statistics with optional Prometheus export. Tiers
// that are not an in-process LRU (remote and persistent stores) use it
// directly to keep the same counters.
type Recorder struct {
	stats   *Statistics
	metrics *cacheMetrics
}

// NewRecorder creates a recorder. Metrics are exported only when registry is
// non-nil and prefix is non-empty.
func NewRecorder(registry *metric.MetricsRegistry, prefix string) (*Recorder, error) {
	r := &Recorder{stats: NewStatistics()}
	if registry != nil && prefix != "" {
		m, err := newCacheMetrics(registry, prefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "NewRecorder", "metrics registration")
		}
		r.metrics = m
	}
	return r, nil
}

// Stats returns the underlying statistics.
func (r *Recorder) Stats() *Statistics {
	return r.stats
}

// Hit records a hit.
func (r *Recorder) Hit() {
	r.stats.Hit()
	if r.metrics != nil {
		r.metrics.hits.Inc()
	}
}

// Miss records a miss.
func (r *Recorder) Miss() {
	r.stats.Miss()
	if r.metrics != nil {
		r.metrics.misses.Inc()
	}
}

// Set records a write.
func (r *Recorder) Set() {
	r.stats.Set()
	if r.metrics != nil {
		r.metrics.sets.Inc()
	}
}

// Delete records a delete.
func (r *Recorder) Delete() {
	r.stats.Delete()
	if r.metrics != nil {
		r.metrics.deletes.Inc()
	}
}

// Eviction records n evicted or expired entries.
func (r *Recorder) Eviction(n int64) {
	if n <= 0 {
		return
	}
	r.stats.Eviction(n)
	if r.metrics != nil {
		r.metrics.evictions.Add(float64(n))
	}
}

// Promotion records a value promoted into the tier.
func (r *Recorder) Promotion() {
	r.stats.Promotion()
	if r.metrics != nil {
		r.metrics.promotions.Inc()
	}
}

// UpdateSize records the current entry count.
func (r *Recorder) UpdateSize(size int) {
	r.stats.UpdateSize(int64(size))
	if r.metrics != nil {
		r.metrics.size.Set(float64(size))
	}
}

package cache

import (
	"github.com/c360/apicore/metric"
)

// Option configures cache behavior.
type Option[V any] func(*cacheOptions[V])

type cacheOptions[V any] struct {
	// metricsReg is optional; stats are collected regardless
	metricsReg *metric.MetricsRegistry

	// metricsPrefix becomes the component label of exported metrics
	metricsPrefix string

	evictCallback EvictCallback[V]
}

// WithMetrics enables Prometheus export of cache statistics.
// A nil registry or empty prefix is ignored.
func WithMetrics[V any](registry *metric.MetricsRegistry, prefix string) Option[V] {
	return func(opts *cacheOptions[V]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithEvictionCallback sets a callback invoked with each evicted entry.
func WithEvictionCallback[V any](callback EvictCallback[V]) Option[V] {
	return func(opts *cacheOptions[V]) {
		opts.evictCallback = callback
	}
}

func applyOptions[V any](options ...Option[V]) *cacheOptions[V] {
	opts := &cacheOptions[V]{}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}

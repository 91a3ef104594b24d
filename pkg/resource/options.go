package resource

import (
	"log/slog"
	"time"

	"github.com/c360/apicore/metric"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithConfigs adds or overrides class presets. A "default" entry replaces the
// fallback used for unknown classes.
func WithConfigs(configs map[string]Config) Option {
	return func(m *Manager) {
		for name, cfg := range configs {
			m.presets[name] = cfg
		}
	}
}

// WithMetrics exports per-class gauges, counters and wait histograms.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(m *Manager) {
		m.registry = registry
	}
}

// WithClock overrides the time source for rate limiting and wait accounting.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

package batch

import (
	"log/slog"

	"github.com/c360/apicore/metric"
)

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics exports per-kind counters, gauges and processing histograms.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(p *Processor) {
		p.registry = registry
	}
}

// WithIDGenerator overrides how item IDs are produced. Defaults to random
// UUIDs.
func WithIDGenerator(gen func() string) Option {
	return func(p *Processor) {
		if gen != nil {
			p.newID = gen
		}
	}
}

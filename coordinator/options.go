package coordinator

import (
	"log/slog"

	"github.com/c360/apicore/metric"
	"github.com/c360/apicore/pkg/tiercache"
	"github.com/c360/apicore/storage"
)

// Option configures a Coordinator.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	remote   tiercache.RemoteStore
	store    storage.Store
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics registers component metrics with registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *options) {
		o.registry = registry
	}
}

// WithRemote uses remote as the L2 tier instead of dialing the configured
// backend. The coordinator takes ownership and closes it on Shutdown.
func WithRemote(remote tiercache.RemoteStore) Option {
	return func(o *options) {
		o.remote = remote
	}
}

// WithStore uses store as the L3 tier instead of opening the configured DSN.
// The coordinator takes ownership and closes it on Shutdown.
func WithStore(store storage.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

package tiercache

import (
	"log/slog"
	"time"

	"github.com/c360/apicore/metric"
	"github.com/c360/apicore/storage"
)

// Option configures a Manager.
type Option func(*managerOptions)

type managerOptions struct {
	logger   *slog.Logger
	remote   RemoteStore
	store    storage.Store
	registry *metric.MetricsRegistry
	now      func() time.Time
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *managerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRemote enables L2. Without it the manager runs two tiers.
func WithRemote(remote RemoteStore) Option {
	return func(o *managerOptions) {
		o.remote = remote
	}
}

// WithStore sets the persistent L3 store.
func WithStore(store storage.Store) Option {
	return func(o *managerOptions) {
		o.store = store
	}
}

// WithMetrics exports per-tier counters and backend errors to registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *managerOptions) {
		o.registry = registry
	}
}

// WithClock overrides the time source used to compute L3 expiry.
func WithClock(now func() time.Time) Option {
	return func(o *managerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// SetOption adjusts a single Set call.
type SetOption func(*setOptions)

type setOptions struct {
	ttl    time.Duration
	hasTTL bool
	levels []Level
}

// WithTTL overrides the tier default lifetime for L2 and L3. A TTL at or
// below zero stores the value already expired.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) {
		o.ttl = ttl
		o.hasTTL = true
	}
}

// WithLevels restricts the write to the given tiers.
func WithLevels(levels ...Level) SetOption {
	return func(o *setOptions) {
		o.levels = levels
	}
}

func hasLevel(levels []Level, l Level) bool {
	for _, x := range levels {
		if x == l {
			return true
		}
	}
	return false
}

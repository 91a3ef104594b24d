package tiercache

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/apicore/errors"
	"github.com/c360/apicore/metric"
	"github.com/c360/apicore/pkg/cache"
	"github.com/c360/apicore/storage"
)

// Manager is a read-through cache over an in-process LRU (L1), an optional
// RemoteStore (L2) and a persistent storage.Store (L3). Values are JSON
// encoded below L1. Errors from L2 and L3 are logged and counted, never
// returned from reads.
type Manager[V any] struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	l1 cache.Cache[V]

	remote    RemoteStore
	remoteRec *cache.Recorder

	store    storage.Store
	storeRec *cache.Recorder

	core *metric.Metrics

	closeOnce sync.Once
	closeErr  error
}

// New creates a Manager. L3 is optional only so that tests and embedded
// callers can run memory-only; production wiring always supplies a store.
func New[V any](cfg Config, opts ...Option) (*Manager[V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &managerOptions{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(o)
	}

	var l1Opts []cache.Option[V]
	if o.registry != nil {
		l1Opts = append(l1Opts, cache.WithMetrics[V](o.registry, L1.String()))
	}
	l1, err := cache.NewLRU[V](cfg.MemorySize, l1Opts...)
	if err != nil {
		return nil, errors.WrapInvalid(err, "tiercache", "New", "create memory tier")
	}

	m := &Manager[V]{
		cfg:    cfg,
		logger: o.logger,
		now:    o.now,
		l1:     l1,
		remote: o.remote,
		store:  o.store,
	}
	if o.registry != nil {
		m.core = o.registry.CoreMetrics()
	}

	if m.remote != nil {
		if m.remoteRec, err = newRecorder(o.registry, L2); err != nil {
			return nil, err
		}
		m.backendState(m.remote.Name(), true)
	}
	if m.store != nil {
		if m.storeRec, err = newRecorder(o.registry, L3); err != nil {
			return nil, err
		}
		m.backendState("store", true)
	}

	m.logger.Debug("Tiered cache created",
		"memory_size", cfg.MemorySize,
		"remote_enabled", m.remote != nil,
		"store_enabled", m.store != nil)
	return m, nil
}

func newRecorder(registry *metric.MetricsRegistry, level Level) (*cache.Recorder, error) {
	if registry == nil {
		return cache.NewRecorder(nil, "")
	}
	return cache.NewRecorder(registry, level.String())
}

// Get returns the value at key, consulting each tier in order and copying a
// lower-tier hit into every faster tier.
func (m *Manager[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V

	if v, ok := m.l1.Get(key); ok {
		return v, true
	}

	if m.remote != nil {
		res := m.remoteGet(ctx, key)
		if res.status == StatusHit {
			if v, ok := m.decode(L2, key, res.data); ok {
				m.remoteRec.Hit()
				m.promoteL1(key, v)
				return v, true
			}
		}
		m.remoteRec.Miss()
	}

	if m.store != nil {
		res := m.storeGet(ctx, key)
		if res.status == StatusHit {
			if v, ok := m.decode(L3, key, res.data); ok {
				m.storeRec.Hit()
				m.promoteL1(key, v)
				m.promoteL2(ctx, key, res.data)
				return v, true
			}
		}
		m.storeRec.Miss()
	}

	return zero, false
}

func (m *Manager[V]) remoteGet(ctx context.Context, key string) lookup {
	res := classify(m.remote.Get(ctx, key))
	m.observe(m.remote.Name(), "get", key, res)
	return res
}

// storeGet sweeps expired rows before reading. Swept rows count as L3
// evictions.
func (m *Manager[V]) storeGet(ctx context.Context, key string) lookup {
	n, err := m.store.PurgeExpired(ctx)
	if err != nil {
		m.absorb("store", "purge", key, err)
	} else if n > 0 {
		m.storeRec.Eviction(n)
	}

	res := classify(m.store.Get(ctx, key))
	m.observe("store", "get", key, res)
	return res
}

func (m *Manager[V]) observe(backend, op, key string, res lookup) {
	if res.status == StatusUnavailable {
		m.absorb(backend, op, key, res.err)
		return
	}
	m.backendState(backend, true)
}

func (m *Manager[V]) absorb(backend, op, key string, err error) {
	m.logger.Warn("Cache tier operation failed",
		"backend", backend, "operation", op, "key", key, "error", err)
	if m.core != nil {
		m.core.RecordBackendError(backend, op)
	}
	m.backendState(backend, false)
}

func (m *Manager[V]) backendState(backend string, connected bool) {
	if m.core != nil {
		m.core.RecordBackendConnected(backend, connected)
	}
}

func (m *Manager[V]) decode(level Level, key string, data []byte) (V, bool) {
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		m.logger.Warn("Discarding undecodable cache value",
			"level", level.String(), "key", key, "error", err)
		return v, false
	}
	return v, true
}

func (m *Manager[V]) promoteL1(key string, v V) {
	if err := m.l1.Promote(key, v); err != nil {
		m.logger.Debug("Memory tier promotion failed", "key", key, "error", err)
	}
}

func (m *Manager[V]) promoteL2(ctx context.Context, key string, data []byte) {
	if m.remote == nil {
		return
	}
	if err := m.remote.Set(ctx, key, data, m.cfg.RemoteTTL); err != nil {
		m.absorb(m.remote.Name(), "promote", key, err)
		return
	}
	m.remoteRec.Set()
	m.remoteRec.Promotion()
}

// Set writes value to every tier, or to the tiers named by WithLevels. Only
// an invalid key or an unencodable value is returned as an error.
func (m *Manager[V]) Set(ctx context.Context, key string, value V, opts ...SetOption) error {
	so := setOptions{levels: AllLevels}
	for _, opt := range opts {
		opt(&so)
	}

	if hasLevel(so.levels, L1) {
		if _, err := m.l1.Set(key, value); err != nil {
			return err
		}
	}

	writeRemote := m.remote != nil && hasLevel(so.levels, L2)
	writeStore := m.store != nil && hasLevel(so.levels, L3)
	if !writeRemote && !writeStore {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return errors.WrapInvalid(err, "tiercache", "Set", "encode value")
	}

	if writeRemote {
		m.setRemote(ctx, key, data, so)
	}
	if writeStore {
		m.setStore(ctx, key, data, so)
	}
	return nil
}

func (m *Manager[V]) setRemote(ctx context.Context, key string, data []byte, so setOptions) {
	ttl := m.cfg.RemoteTTL
	if so.hasTTL {
		ttl = so.ttl
	}

	var err error
	op := "set"
	if ttl <= 0 {
		// Already expired: make sure no stale copy survives.
		op = "delete"
		err = m.remote.Delete(ctx, key)
	} else {
		err = m.remote.Set(ctx, key, data, ttl)
	}
	if err != nil {
		m.absorb(m.remote.Name(), op, key, err)
		return
	}
	m.remoteRec.Set()
}

func (m *Manager[V]) setStore(ctx context.Context, key string, data []byte, so setOptions) {
	var expiresAt time.Time
	switch {
	case so.hasTTL && so.ttl <= 0:
		expiresAt = m.now()
	case so.hasTTL:
		expiresAt = m.now().Add(so.ttl)
	case m.cfg.PersistentTTL > 0:
		expiresAt = m.now().Add(m.cfg.PersistentTTL)
	}

	if err := m.store.Put(ctx, key, data, expiresAt); err != nil {
		m.absorb("store", "put", key, err)
		return
	}
	m.storeRec.Set()
}

// Delete removes key from every tier.
func (m *Manager[V]) Delete(ctx context.Context, key string) error {
	if _, err := m.l1.Delete(key); err != nil {
		return err
	}
	if m.remote != nil {
		if err := m.remote.Delete(ctx, key); err != nil {
			m.absorb(m.remote.Name(), "delete", key, err)
		} else {
			m.remoteRec.Delete()
		}
	}
	if m.store != nil {
		if err := m.store.Delete(ctx, key); err != nil {
			m.absorb("store", "delete", key, err)
		} else {
			m.storeRec.Delete()
		}
	}
	return nil
}

// Clear empties the given tiers, or all of them when none are named.
func (m *Manager[V]) Clear(ctx context.Context, levels ...Level) error {
	if len(levels) == 0 {
		levels = AllLevels
	}

	if hasLevel(levels, L1) {
		if err := m.l1.Clear(); err != nil {
			return errors.WrapTransient(err, "tiercache", "Clear", "clear memory tier")
		}
	}
	if m.remote != nil && hasLevel(levels, L2) {
		if n, err := m.remote.Clear(ctx); err != nil {
			m.absorb(m.remote.Name(), "clear", "", err)
		} else {
			m.logger.Debug("Cleared remote tier", "backend", m.remote.Name(), "count", n)
		}
	}
	if m.store != nil && hasLevel(levels, L3) {
		if n, err := m.store.Clear(ctx); err != nil {
			m.absorb("store", "clear", "", err)
		} else {
			m.logger.Debug("Cleared persistent tier", "count", n)
		}
	}
	return nil
}

// WarmUp writes every entry to all tiers with default lifetimes.
func (m *Manager[V]) WarmUp(ctx context.Context, entries map[string]V) error {
	for key, value := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.Set(ctx, key, value); err != nil {
			return errors.Wrap(err, "tiercache", "WarmUp", "set "+key)
		}
	}
	m.logger.Info("Cache warmed", "entries", len(entries))
	return nil
}

// TierStats describes one tier.
type TierStats struct {
	Enabled  bool   `json:"enabled"`
	Backend  string `json:"backend,omitempty"`
	Size     int    `json:"size,omitempty"`
	Capacity int    `json:"capacity,omitempty"`
	cache.StatsSummary
}

// OverallStats aggregates lookups. Every Get consults L1 exactly once, so
// Requests counts calls and Hits counts calls answered by any tier.
type OverallStats struct {
	Requests int64   `json:"requests"`
	Hits     int64   `json:"hits"`
	HitRate  float64 `json:"hit_rate"`
}

// Stats is a snapshot of every tier.
type Stats struct {
	L1      TierStats    `json:"l1"`
	L2      TierStats    `json:"l2"`
	L3      TierStats    `json:"l3"`
	Overall OverallStats `json:"overall"`
}

// Stats returns a snapshot of all tier counters.
func (m *Manager[V]) Stats() Stats {
	s := Stats{
		L1: TierStats{
			Enabled:      true,
			Backend:      "memory",
			Size:         m.l1.Size(),
			Capacity:     m.l1.Capacity(),
			StatsSummary: m.l1.Stats().Summary(),
		},
	}
	if m.remote != nil {
		s.L2 = TierStats{Enabled: true, Backend: m.remote.Name(), StatsSummary: m.remoteRec.Stats().Summary()}
	}
	if m.store != nil {
		s.L3 = TierStats{Enabled: true, Backend: "store", StatsSummary: m.storeRec.Stats().Summary()}
	}

	s.Overall.Requests = s.L1.Hits + s.L1.Misses
	s.Overall.Hits = s.L1.Hits + s.L2.Hits + s.L3.Hits
	if s.Overall.Requests > 0 {
		s.Overall.HitRate = float64(s.Overall.Hits) / float64(s.Overall.Requests)
	}
	return s
}

// Close releases the memory tier and closes the remote and persistent
// stores. It is safe to call more than once.
func (m *Manager[V]) Close() error {
	m.closeOnce.Do(func() {
		var errs []error
		if err := m.l1.Close(); err != nil {
			errs = append(errs, err)
		}
		if m.remote != nil {
			if err := m.remote.Close(); err != nil {
				errs = append(errs, errors.WrapTransient(err, "tiercache", "Close", "close "+m.remote.Name()))
			}
		}
		if m.store != nil {
			if err := m.store.Close(); err != nil {
				errs = append(errs, errors.WrapTransient(err, "tiercache", "Close", "close store"))
			}
		}
		m.closeErr = stderrors.Join(errs...)
	})
	return m.closeErr
}

package resource

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/c360/apicore/errors"
	"github.com/c360/apicore/metric"
	"github.com/c360/apicore/pkg/ratelimit"
)

// class is the runtime state of one named resource class. The gate is only
// swapped while inflight is zero, so every holder releases into the gate it
// acquired from.
type class struct {
	name    string
	cfg     Config
	gate    *semaphore.Weighted
	limiter *ratelimit.Limiter

	inflight int64 // waiting or holding
	active   int64
	acquired int64
	waited   time.Duration
	peak     int64

	pendingLimit int // gate size to apply once idle, 0 when none
}

// Usage is the admission history of a class.
type Usage struct {
	Active        int64         `json:"active"`
	TotalAcquired int64         `json:"total_acquired"`
	TotalWait     time.Duration `json:"total_wait"`
	AverageWait   time.Duration `json:"average_wait"`
	MaxConcurrent int64         `json:"max_concurrent"`
}

// Availability reports whether a class can admit another holder right now.
type Availability struct {
	Available   bool    `json:"available"`
	Active      int64   `json:"active"`
	Limit       int     `json:"limit"`
	Utilization float64 `json:"utilization"`
}

// ClassStats combines usage, rate limiting and availability for one class.
type ClassStats struct {
	Usage        Usage           `json:"usage"`
	RateLimiting ratelimit.Stats `json:"rate_limiting"`
	Availability Availability    `json:"availability"`
}

// Manager gates access to upstream APIs per resource class: at most
// MaxConcurrent holders at a time, admitted at no more than the class rate.
type Manager struct {
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *managerMetrics
	now      func() time.Time

	mu      sync.Mutex
	presets map[string]Config
	classes map[string]*class
}

// NewManager creates a manager with the built-in presets, adjusted by opts.
// Every preset class is created eagerly; other classes are created on first
// use from the "default" preset.
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{
		logger:  slog.Default(),
		now:     time.Now,
		presets: DefaultConfigs(),
		classes: make(map[string]*class),
	}
	for _, opt := range opts {
		opt(m)
	}

	if _, ok := m.presets[DefaultClass]; !ok {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Manager", "NewManager",
			"default class preset lookup")
	}

	names := make([]string, 0, len(m.presets))
	for name, cfg := range m.presets {
		c, err := m.newClass(name, cfg)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Manager", "NewManager",
				fmt.Sprintf("configure class %s", name))
		}
		m.classes[name] = c
		names = append(names, name)
	}

	if m.registry != nil {
		mm, err := newManagerMetrics(m.registry)
		if err != nil {
			return nil, errors.WrapTransient(err, "Manager", "NewManager", "metrics registration")
		}
		m.metrics = mm
	}

	sort.Strings(names)
	m.logger.Info("Resource manager initialized", "classes", names)
	return m, nil
}

func (m *Manager) newClass(name string, cfg Config) (*class, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	limiter, err := ratelimit.New(name, cfg.RateLimit(), ratelimit.WithClock(m.now))
	if err != nil {
		return nil, err
	}
	return &class{
		name:    name,
		cfg:     cfg,
		gate:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		limiter: limiter,
	}, nil
}

// classLocked returns the named class, creating it from the default preset
// when unknown.
func (m *Manager) classLocked(name string) (*class, error) {
	if c, ok := m.classes[name]; ok {
		return c, nil
	}
	c, err := m.newClass(name, m.presets[DefaultClass])
	if err != nil {
		return nil, err
	}
	m.classes[name] = c
	m.logger.Debug("Resource class created from default preset", "class", name)
	return c, nil
}

// Acquire takes one slot of class. With wait=false a saturated class returns
// an error matching errors.ErrCapacityExhausted immediately; otherwise the
// caller blocks until a slot frees or ctx ends. After admission the caller
// always waits for a rate-limit token.
func (m *Manager) Acquire(ctx context.Context, className string, wait bool) error {
	return m.acquire(ctx, className, 1, wait)
}

func (m *Manager) acquire(ctx context.Context, className string, n int, wait bool) error {
	if n < 1 {
		return errors.WrapInvalid(errors.ErrInvalidData, "Manager", "Acquire",
			fmt.Sprintf("slot count must be positive, got %d", n))
	}

	m.mu.Lock()
	c, err := m.classLocked(className)
	if err != nil {
		m.mu.Unlock()
		return errors.WrapInvalid(err, "Manager", "Acquire", fmt.Sprintf("create class %s", className))
	}
	if n > c.cfg.MaxConcurrent {
		limit := c.cfg.MaxConcurrent
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrInvalidData, "Manager", "Acquire",
			fmt.Sprintf("%d slots requested from %s, limit is %d", n, className, limit))
	}
	gate := c.gate
	limiter := c.limiter
	c.inflight += int64(n)
	m.mu.Unlock()

	start := m.now()

	if wait {
		if err := gate.Acquire(ctx, int64(n)); err != nil {
			m.abandon(c, n)
			return errors.WrapTransient(err, "Manager", "Acquire",
				fmt.Sprintf("wait for %s slot", className))
		}
	} else if !gate.TryAcquire(int64(n)) {
		m.abandon(c, n)
		if m.metrics != nil {
			m.metrics.rejected.WithLabelValues(className).Inc()
		}
		return errors.WrapTransient(errors.ErrCapacityExhausted, "Manager", "Acquire",
			fmt.Sprintf("admit to %s", className))
	}

	if err := m.waitTokens(ctx, limiter, n); err != nil {
		gate.Release(int64(n))
		m.abandon(c, n)
		return err
	}

	waited := m.now().Sub(start)

	m.mu.Lock()
	c.active += int64(n)
	c.acquired += int64(n)
	c.waited += waited
	if c.active > c.peak {
		c.peak = c.active
	}
	active := c.active
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.active.WithLabelValues(className).Set(float64(active))
		m.metrics.acquired.WithLabelValues(className).Add(float64(n))
		m.metrics.wait.WithLabelValues(className).Observe(waited.Seconds())
	}

	m.logger.Debug("Resource acquired", "class", className, "count", n, "active", active, "wait", waited)
	return nil
}

// waitTokens draws n tokens, in chunks no larger than the bucket.
func (m *Manager) waitTokens(ctx context.Context, limiter *ratelimit.Limiter, n int) error {
	burst := limiter.Config().Burst
	for remaining := n; remaining > 0; {
		take := min(remaining, burst)
		if _, err := limiter.Acquire(ctx, take); err != nil {
			return err
		}
		remaining -= take
	}
	return nil
}

// abandon undoes the inflight reservation of a caller that never became a
// holder.
func (m *Manager) abandon(c *class, n int) {
	m.mu.Lock()
	c.inflight -= int64(n)
	m.applyPendingLocked(c)
	m.mu.Unlock()
}

// Release returns one slot of class. A release with no holder is logged and
// ignored.
func (m *Manager) Release(className string) {
	m.release(className, 1)
}

func (m *Manager) release(className string, n int) {
	m.mu.Lock()
	c, ok := m.classes[className]
	if !ok || c.active == 0 {
		m.mu.Unlock()
		m.logger.Warn("Release without matching acquire ignored", "class", className)
		return
	}
	if int64(n) > c.active {
		m.logger.Warn("Release exceeds held slots, clamping", "class", className,
			"requested", n, "active", c.active)
		n = int(c.active)
	}
	c.active -= int64(n)
	c.inflight -= int64(n)
	c.gate.Release(int64(n))
	m.applyPendingLocked(c)
	active := c.active
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.active.WithLabelValues(className).Set(float64(active))
	}
	m.logger.Debug("Resource released", "class", className, "count", n, "active", active)
}

func (m *Manager) applyPendingLocked(c *class) {
	if c.pendingLimit == 0 || c.inflight != 0 {
		return
	}
	c.gate = semaphore.NewWeighted(int64(c.pendingLimit))
	c.cfg.MaxConcurrent = c.pendingLimit
	c.pendingLimit = 0
	m.logger.Info("Updated concurrency limit", "class", c.name, "max_concurrent", c.cfg.MaxConcurrent)
}

// AcquireMultiple takes count slots of every class in resources, or none.
// Classes are taken in sorted name order; on any failure everything acquired
// by this call is released before the error is returned.
func (m *Manager) AcquireMultiple(ctx context.Context, resources map[string]int, wait bool) error {
	names := make([]string, 0, len(resources))
	for name, count := range resources {
		if count > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	held := make(map[string]int, len(names))
	for _, name := range names {
		if err := m.acquire(ctx, name, resources[name], wait); err != nil {
			m.ReleaseMultiple(held)
			m.logger.Debug("Multi-class acquire rolled back", "class", name, "error", err)
			return err
		}
		held[name] = resources[name]
	}
	return nil
}

// ReleaseMultiple returns slots taken by AcquireMultiple.
func (m *Manager) ReleaseMultiple(resources map[string]int) {
	for name, count := range resources {
		if count > 0 {
			m.release(name, count)
		}
	}
}

// Do runs fn while holding count slots of class, waiting for admission.
func (m *Manager) Do(ctx context.Context, className string, count int, fn func(context.Context) error) error {
	if err := m.acquire(ctx, className, count, true); err != nil {
		return err
	}
	defer m.release(className, count)
	return fn(ctx)
}

// Configure replaces the limits of a class. The rate limiter changes
// immediately; a new concurrency limit takes effect once the class is idle.
func (m *Manager) Configure(className string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.classes[className]
	if !ok {
		nc, err := m.newClass(className, cfg)
		if err != nil {
			return err
		}
		m.classes[className] = nc
		m.logger.Info("Resource class configured", "class", className,
			"max_concurrent", cfg.MaxConcurrent, "rpm", cfg.RequestsPerMinute)
		return nil
	}

	if err := c.limiter.Reconfigure(cfg.RateLimit()); err != nil {
		return err
	}
	c.cfg.RequestsPerMinute = cfg.RequestsPerMinute
	c.cfg.BurstSize = cfg.BurstSize
	m.logger.Info("Updated rate limit", "class", className, "rpm", cfg.RequestsPerMinute, "burst", cfg.BurstSize)

	if cfg.MaxConcurrent != c.cfg.MaxConcurrent {
		c.pendingLimit = cfg.MaxConcurrent
		m.applyPendingLocked(c)
		if c.pendingLimit != 0 {
			m.logger.Info("Concurrency limit change deferred until class is idle",
				"class", className, "max_concurrent", cfg.MaxConcurrent, "inflight", c.inflight)
		}
	} else {
		c.pendingLimit = 0
	}
	return nil
}

// Availability reports current admission capacity. Unknown classes report
// available with a zero limit.
func (m *Manager) Availability(className string) Availability {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.classes[className]
	if !ok {
		return Availability{Available: true}
	}
	return availabilityLocked(c)
}

func availabilityLocked(c *class) Availability {
	limit := c.cfg.MaxConcurrent
	return Availability{
		Available:   c.active < int64(limit),
		Active:      c.active,
		Limit:       limit,
		Utilization: float64(c.active) / float64(limit),
	}
}

// Stats returns a snapshot for one class. The boolean is false for a class
// that has never been configured or used.
func (m *Manager) Stats(className string) (ClassStats, bool) {
	m.mu.Lock()
	c, ok := m.classes[className]
	if !ok {
		m.mu.Unlock()
		return ClassStats{}, false
	}
	usage := Usage{
		Active:        c.active,
		TotalAcquired: c.acquired,
		TotalWait:     c.waited,
		MaxConcurrent: c.peak,
	}
	if c.acquired > 0 {
		usage.AverageWait = c.waited / time.Duration(c.acquired)
	}
	avail := availabilityLocked(c)
	limiter := c.limiter
	m.mu.Unlock()

	return ClassStats{
		Usage:        usage,
		RateLimiting: limiter.Stats(),
		Availability: avail,
	}, true
}

// AllStats returns a snapshot for every known class.
func (m *Manager) AllStats() map[string]ClassStats {
	m.mu.Lock()
	names := make([]string, 0, len(m.classes))
	for name := range m.classes {
		names = append(names, name)
	}
	m.mu.Unlock()

	out := make(map[string]ClassStats, len(names))
	for _, name := range names {
		if s, ok := m.Stats(name); ok {
			out[name] = s
		}
	}
	return out
}

// ResetStats clears usage and limiter counters for class, or for every class
// when className is empty. Active holders are kept and seed the new peak.
func (m *Manager) ResetStats(className string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, c := range m.classes {
		if className != "" && name != className {
			continue
		}
		c.acquired = 0
		c.waited = 0
		c.peak = c.active
		c.limiter.ResetStats()
	}
	m.logger.Info("Resource statistics reset", "class", className)
}

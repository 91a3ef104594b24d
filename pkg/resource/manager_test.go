package resource

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/apicore/errors"
	"github.com/c360/apicore/metric"
)

// fast is a class whose rate limit never throttles a test.
func fast(maxConcurrent int) Config {
	return Config{MaxConcurrent: maxConcurrent, RequestsPerMinute: 600000, BurstSize: 1000}
}

func newTestManager(t *testing.T, configs map[string]Config, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithConfigs(configs)}, opts...)
	m, err := NewManager(opts...)
	require.NoError(t, err)
	return m
}

func TestNewManager_Presets(t *testing.T) {
	m := newTestManager(t, nil)

	for name, cfg := range DefaultConfigs() {
		a := m.Availability(name)
		assert.True(t, a.Available, name)
		assert.Equal(t, cfg.MaxConcurrent, a.Limit, name)
	}

	s, ok := m.Stats("jira")
	require.True(t, ok)
	assert.Equal(t, 20, s.RateLimiting.MaxTokens)
	assert.InDelta(t, 100.0/60.0, s.RateLimiting.RatePerSecond, 1e-9)
}

func TestNewManager_InvalidPreset(t *testing.T) {
	_, err := NewManager(WithConfigs(map[string]Config{"broken": {MaxConcurrent: 0, RequestsPerMinute: 60, BurstSize: 1}}))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestManager_GateSaturation(t *testing.T) {
	m := newTestManager(t, map[string]Config{"api": fast(3)})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Acquire(ctx, "api", false))
	}

	err := m.Acquire(ctx, "api", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCapacityExhausted)
	assert.True(t, errors.IsTransient(err))

	a := m.Availability("api")
	assert.False(t, a.Available)
	assert.Equal(t, int64(3), a.Active)
	assert.InDelta(t, 1.0, a.Utilization, 1e-9)

	acquired := make(chan error, 1)
	go func() {
		acquired <- m.Acquire(ctx, "api", true)
	}()

	select {
	case <-acquired:
		t.Fatal("waiting acquire returned while class was saturated")
	case <-time.After(50 * time.Millisecond):
	}

	m.Release("api")
	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiting acquire not admitted after release")
	}
	assert.Equal(t, int64(3), m.Availability("api").Active)
}

func TestManager_ActiveNeverExceedsLimit(t *testing.T) {
	const limit = 4
	m := newTestManager(t, map[string]Config{"api": fast(limit)})

	var current, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.Do(context.Background(), "api", 1, func(context.Context) error {
				n := atomic.AddInt64(&current, 1)
				for {
					p := atomic.LoadInt64(&peak)
					if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt64(&current, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak, int64(limit))
	s, ok := m.Stats("api")
	require.True(t, ok)
	assert.Equal(t, int64(0), s.Usage.Active)
	assert.Equal(t, int64(40), s.Usage.TotalAcquired)
	assert.LessOrEqual(t, s.Usage.MaxConcurrent, int64(limit))
}

func TestManager_ReleaseWithoutHolder(t *testing.T) {
	m := newTestManager(t, map[string]Config{"api": fast(2)})

	assert.NotPanics(t, func() {
		m.Release("api")
		m.Release("never-seen")
	})
	assert.Equal(t, int64(0), m.Availability("api").Active)

	require.NoError(t, m.Acquire(context.Background(), "api", false))
	require.NoError(t, m.Acquire(context.Background(), "api", false))
	assert.Error(t, m.Acquire(context.Background(), "api", false))
}

func TestManager_UnknownClassUsesDefault(t *testing.T) {
	m := newTestManager(t, map[string]Config{DefaultClass: fast(2)})

	a := m.Availability("teams")
	assert.True(t, a.Available)
	assert.Equal(t, 0, a.Limit)
	_, ok := m.Stats("teams")
	assert.False(t, ok)

	require.NoError(t, m.Acquire(context.Background(), "teams", false))
	a = m.Availability("teams")
	assert.Equal(t, 2, a.Limit)
	assert.Equal(t, int64(1), a.Active)

	all := m.AllStats()
	assert.Contains(t, all, "teams")
	assert.Contains(t, all, "jira")
}

func TestManager_AcquireMultipleIsAtomic(t *testing.T) {
	m := newTestManager(t, map[string]Config{"a": fast(2), "b": fast(1)})
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, "b", false))

	err := m.AcquireMultiple(ctx, map[string]int{"a": 2, "b": 1}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCapacityExhausted)
	assert.Equal(t, int64(0), m.Availability("a").Active, "partial acquisition must be rolled back")
	assert.Equal(t, int64(1), m.Availability("b").Active)

	m.Release("b")
	require.NoError(t, m.AcquireMultiple(ctx, map[string]int{"a": 2, "b": 1}, false))
	assert.Equal(t, int64(2), m.Availability("a").Active)
	assert.Equal(t, int64(1), m.Availability("b").Active)

	m.ReleaseMultiple(map[string]int{"a": 2, "b": 1})
	assert.Equal(t, int64(0), m.Availability("a").Active)
	assert.Equal(t, int64(0), m.Availability("b").Active)
}

func TestManager_AcquireMultipleRollsBackOnCancel(t *testing.T) {
	m := newTestManager(t, map[string]Config{"a": fast(1), "b": fast(1)})

	require.NoError(t, m.Acquire(context.Background(), "b", true))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := m.AcquireMultiple(ctx, map[string]int{"a": 1, "b": 1}, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(0), m.Availability("a").Active)
}

func TestManager_AcquireCountAboveLimit(t *testing.T) {
	m := newTestManager(t, map[string]Config{"a": fast(2)})

	err := m.Do(context.Background(), "a", 3, func(context.Context) error { return nil })
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestManager_DoReleasesOnError(t *testing.T) {
	m := newTestManager(t, map[string]Config{"a": fast(1)})
	boom := errors.ErrBatchFailed

	err := m.Do(context.Background(), "a", 1, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(0), m.Availability("a").Active)
}

func TestManager_RateLimitAppliesAfterAdmission(t *testing.T) {
	// 600 rpm = 10 tokens/s; with a burst of 1 the second acquire waits ~100ms.
	m := newTestManager(t, map[string]Config{"slow": {MaxConcurrent: 5, RequestsPerMinute: 600, BurstSize: 1}})
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, "slow", false))
	start := time.Now()
	require.NoError(t, m.Acquire(ctx, "slow", false))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	s, ok := m.Stats("slow")
	require.True(t, ok)
	assert.Equal(t, int64(2), s.RateLimiting.TotalRequests)
	assert.Greater(t, s.Usage.TotalWait, time.Duration(0))
}

func TestManager_ConfigureDefersGateResizeUntilIdle(t *testing.T) {
	m := newTestManager(t, map[string]Config{"a": fast(3)})
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, "a", false))
	require.NoError(t, m.Configure("a", fast(1)))
	assert.Equal(t, 3, m.Availability("a").Limit)

	require.NoError(t, m.Acquire(ctx, "a", false))
	m.Release("a")
	m.Release("a")
	assert.Equal(t, 1, m.Availability("a").Limit)

	require.NoError(t, m.Acquire(ctx, "a", false))
	assert.ErrorIs(t, m.Acquire(ctx, "a", false), errors.ErrCapacityExhausted)
}

func TestManager_ConfigureNewClassAndRate(t *testing.T) {
	m := newTestManager(t, nil)

	require.NoError(t, m.Configure("linear", Config{MaxConcurrent: 4, RequestsPerMinute: 120, BurstSize: 8}))
	s, ok := m.Stats("linear")
	require.True(t, ok)
	assert.Equal(t, 4, s.Availability.Limit)
	assert.Equal(t, 8, s.RateLimiting.MaxTokens)

	require.NoError(t, m.Configure("linear", Config{MaxConcurrent: 4, RequestsPerMinute: 60, BurstSize: 2}))
	s, _ = m.Stats("linear")
	assert.Equal(t, 2, s.RateLimiting.MaxTokens)
	assert.InDelta(t, 1.0, s.RateLimiting.RatePerSecond, 1e-9)

	assert.True(t, errors.IsInvalid(m.Configure("linear", Config{})))
}

func TestManager_ResetStatsKeepsActive(t *testing.T) {
	m := newTestManager(t, map[string]Config{"a": fast(5)})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Acquire(ctx, "a", false))
	}
	m.Release("a")
	m.ResetStats("a")

	s, ok := m.Stats("a")
	require.True(t, ok)
	assert.Equal(t, int64(2), s.Usage.Active)
	assert.Equal(t, int64(0), s.Usage.TotalAcquired)
	assert.Equal(t, int64(2), s.Usage.MaxConcurrent)
	assert.Equal(t, int64(0), s.RateLimiting.TotalRequests)

	m.ResetStats("")
	s, _ = m.Stats("a")
	assert.Equal(t, int64(2), s.Usage.Active)
}

func TestManager_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	m := newTestManager(t, map[string]Config{"a": fast(1)}, WithMetrics(registry))

	require.NoError(t, m.Acquire(context.Background(), "a", false))
	assert.Error(t, m.Acquire(context.Background(), "a", false))

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	assert.True(t, found["apicore_resource_active"])
	assert.True(t, found["apicore_resource_acquired_total"])
	assert.True(t, found["apicore_resource_rejected_total"])

	_, err = NewManager(WithMetrics(registry))
	assert.Error(t, err, "second manager on the same registry must conflict")
}

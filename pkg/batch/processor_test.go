package batch

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/apicore/errors"
	"github.com/c360/apicore/metric"
)

var errUpstream = stderrors.New("upstream returned 503")

// recorder is a ProcessFunc that records every batch it receives.
type recorder struct {
	mu      sync.Mutex
	batches [][]string
	calls   map[string]int
	fail    func(call int) error
}

func newRecorder() *recorder {
	return &recorder{calls: make(map[string]int)}
}

func (r *recorder) process(_ context.Context, items []*Item) error {
	r.mu.Lock()
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
		r.calls[it.ID]++
	}
	r.batches = append(r.batches, ids)
	call := len(r.batches)
	r.mu.Unlock()

	if r.fail != nil {
		if err := r.fail(call); err != nil {
			return err
		}
	}
	for _, it := range items {
		it.Resolve(it.Params["n"])
	}
	return nil
}

func (r *recorder) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]string, len(r.batches))
	copy(out, r.batches)
	return out
}

func sequentialIDs() Option {
	var mu sync.Mutex
	n := 0
	return WithIDGenerator(func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("item-%d", n)
	})
}

func newTestProcessor(t *testing.T, cfg Config, opts ...Option) *Processor {
	t.Helper()
	p, err := New(cfg, append([]Option{sequentialIDs()}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

func waitDone(t *testing.T, items ...*Item) {
	t.Helper()
	for _, it := range items {
		select {
		case <-it.Done():
		case <-time.After(5 * time.Second):
			t.Fatalf("item %s was never resolved", it.ID)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	for name, mutate := range map[string]func(*Config){
		"zero batch size":  func(c *Config) { c.BatchSize = 0 },
		"zero wait":        func(c *Config) { c.WaitTime = 0 },
		"negative retries": func(c *Config) { c.MaxRetries = -1 },
		"no tracked kinds": func(c *Config) { c.MaxTrackedKinds = 0 },
	} {
		cfg := DefaultConfig()
		mutate(&cfg)
		err := cfg.Validate()
		assert.True(t, errors.IsInvalid(err), name)
	}
}

func TestTuning_Threshold(t *testing.T) {
	assert.Equal(t, 55, nextThreshold(50, 50, 0.96))
	assert.Equal(t, 100, nextThreshold(95, 50, 0.99), "capped at twice the base")
	assert.Equal(t, 100, nextThreshold(100, 50, 0.99))
	assert.Equal(t, 45, nextThreshold(50, 50, 0.5))
	assert.Equal(t, 1, nextThreshold(1, 50, 0.1), "floored at one")
	assert.Equal(t, 50, nextThreshold(50, 50, 0.9), "unchanged between thresholds")
	assert.Equal(t, 5, nextThreshold(5, 50, 0.99), "growth truncates to whole items")
}

func TestTuning_Wait(t *testing.T) {
	base := 500 * time.Millisecond
	assert.Equal(t, 600*time.Millisecond, nextWait(base, 100, 500*time.Millisecond))
	assert.Equal(t, 2*time.Second, nextWait(2*time.Second, 1000, time.Second), "capped at 2s")
	assert.Equal(t, 400*time.Millisecond, nextWait(base, 1, time.Second))
	assert.Equal(t, 100*time.Millisecond, nextWait(100*time.Millisecond, 1, time.Second), "floored at 100ms")
	assert.Equal(t, base, nextWait(base, 50, time.Second))
	assert.Equal(t, 400*time.Millisecond, nextWait(base, 5, 0), "zero elapsed uses the item count")
}

func TestTuning_SuccessSmoothing(t *testing.T) {
	assert.InDelta(t, 0.9, smoothSuccess(1.0, 0.0), 1e-9)
	assert.InDelta(t, 0.91, smoothSuccess(0.9, 1.0), 1e-9)
}

func TestProcessor_ThresholdFlush(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 5
	cfg.WaitTime = time.Hour
	p := newTestProcessor(t, cfg)
	rec := newRecorder()
	require.NoError(t, p.Register("search", rec.process))

	var items []*Item
	for i := 0; i < 5; i++ {
		it, err := p.Submit("search", map[string]any{"n": i})
		require.NoError(t, err)
		items = append(items, it)
	}
	waitDone(t, items...)

	batches := rec.snapshot()
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"item-1", "item-2", "item-3", "item-4", "item-5"}, batches[0])

	for i, it := range items {
		v, err := it.Result()
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}

	s := p.Stats()
	assert.Equal(t, 0, s.ActiveTimers, "threshold flush cancels the wait timer")
	assert.Equal(t, 0, s.PendingItems)
	assert.Equal(t, int64(1), s.TotalBatches)
	assert.Equal(t, int64(5), s.TotalItems)
	assert.InDelta(t, 5.0, s.AvgBatchSize, 1e-9)
}

func TestProcessor_TimerFlush(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 100
	cfg.WaitTime = 20 * time.Millisecond
	p := newTestProcessor(t, cfg)
	rec := newRecorder()
	require.NoError(t, p.Register("search", rec.process))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	results := make([]any, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := p.Add(ctx, "search", map[string]any{"n": i})
			assert.NoError(t, err)
			results[i] = v
		}()
	}
	wg.Wait()

	batches := rec.snapshot()
	total := 0
	for _, b := range batches {
		total += len(b)
	}
	assert.Equal(t, 3, total)
	assert.ElementsMatch(t, []any{0, 1, 2}, results)
}

func TestProcessor_RetryTermination(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 100
	cfg.WaitTime = 10 * time.Millisecond
	cfg.MaxRetries = 2
	p := newTestProcessor(t, cfg)
	rec := newRecorder()
	rec.fail = func(int) error { return errUpstream }
	require.NoError(t, p.Register("create", rec.process))

	var items []*Item
	for i := 0; i < 3; i++ {
		it, err := p.Submit("create", map[string]any{"n": i})
		require.NoError(t, err)
		items = append(items, it)
	}
	waitDone(t, items...)

	for _, it := range items {
		_, err := it.Result()
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrMaxRetriesExceeded)
		assert.ErrorIs(t, err, errUpstream)
		assert.True(t, errors.IsFatal(err))
		assert.Equal(t, 2, it.RetryCount())
		assert.False(t, it.Fail(stderrors.New("late")), "an item resolves exactly once")
	}

	rec.mu.Lock()
	for _, it := range items {
		assert.Equal(t, 3, rec.calls[it.ID], "one attempt plus MaxRetries retries")
	}
	rec.mu.Unlock()

	s := p.Stats()
	assert.Equal(t, int64(6), s.TotalRetries)
	assert.Equal(t, int64(9), s.TotalFailures)
	assert.Equal(t, 0, s.PendingItems)
	assert.Less(t, s.AdaptiveParams["create"].SuccessRate, 1.0)
}

func TestProcessor_RetryThenSuccess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 100
	cfg.WaitTime = 10 * time.Millisecond
	p := newTestProcessor(t, cfg)
	rec := newRecorder()
	rec.fail = func(call int) error {
		if call == 1 {
			return errUpstream
		}
		return nil
	}
	require.NoError(t, p.Register("create", rec.process))

	it, err := p.Submit("create", map[string]any{"n": 7})
	require.NoError(t, err)
	waitDone(t, it)

	v, err := it.Result()
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 1, it.RetryCount())
	// Tuning runs after the processor resolves its items.
	assert.Eventually(t, func() bool {
		rate := p.Stats().AdaptiveParams["create"].SuccessRate
		return rate > 0.909 && rate < 0.911
	}, 2*time.Second, 5*time.Millisecond)
}

func TestProcessor_UnresolvedItemsFail(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WaitTime = time.Hour
	p := newTestProcessor(t, cfg)
	require.NoError(t, p.Register("noop", func(context.Context, []*Item) error { return nil }))

	it, err := p.Submit("noop", nil)
	require.NoError(t, err)
	p.Flush(context.Background(), "noop")

	_, err = it.Result()
	assert.ErrorIs(t, err, errors.ErrUnresolvedItem)
}

func TestProcessor_PartialResolutionBeforeFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WaitTime = time.Hour
	cfg.MaxRetries = 0
	p := newTestProcessor(t, cfg)
	require.NoError(t, p.Register("mixed", func(_ context.Context, items []*Item) error {
		items[0].Resolve("ok")
		return errUpstream
	}))

	first, err := p.Submit("mixed", nil)
	require.NoError(t, err)
	second, err := p.Submit("mixed", nil)
	require.NoError(t, err)
	p.Flush(context.Background(), "mixed")

	v, err := first.Result()
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	_, err = second.Result()
	assert.ErrorIs(t, err, errors.ErrMaxRetriesExceeded)
}

func TestProcessor_PanicIsBatchFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WaitTime = time.Hour
	cfg.MaxRetries = 0
	p := newTestProcessor(t, cfg)
	require.NoError(t, p.Register("boom", func(context.Context, []*Item) error { panic("bad response") }))

	it, err := p.Submit("boom", nil)
	require.NoError(t, err)
	p.Flush(context.Background(), "boom")

	_, err = it.Result()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad response")
}

func TestProcessor_UnregisteredKind(t *testing.T) {
	p := newTestProcessor(t, DefaultConfig())

	_, err := p.Submit("missing", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoProcessor)
	assert.True(t, errors.IsInvalid(err))

	assert.Error(t, p.Register("missing", nil))
}

func TestProcessor_FlushIsSynchronous(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WaitTime = time.Hour
	p := newTestProcessor(t, cfg)
	rec := newRecorder()
	require.NoError(t, p.Register("get", rec.process))

	a, _ := p.Submit("get", map[string]any{"n": 1})
	b, _ := p.Submit("get", map[string]any{"n": 2})
	assert.Equal(t, 1, p.Stats().ActiveTimers)

	p.Flush(context.Background(), "get")
	assert.True(t, a.resolved())
	assert.True(t, b.resolved())
	assert.Equal(t, 0, p.Stats().ActiveTimers)

	p.Flush(context.Background(), "get")
	p.Flush(context.Background(), "never-used")
	assert.Len(t, rec.snapshot(), 1)
}

func TestProcessor_FlushAll(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WaitTime = time.Hour
	p := newTestProcessor(t, cfg)
	rec := newRecorder()
	require.NoError(t, p.Register("a", rec.process))
	require.NoError(t, p.Register("b", rec.process))

	x, _ := p.Submit("a", nil)
	y, _ := p.Submit("b", nil)
	p.FlushAll(context.Background())

	assert.True(t, x.resolved())
	assert.True(t, y.resolved())
	assert.Len(t, rec.snapshot(), 2)
}

func TestProcessor_AdaptiveThresholdGrows(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 10
	cfg.WaitTime = time.Hour
	p := newTestProcessor(t, cfg)
	rec := newRecorder()
	require.NoError(t, p.Register("get", rec.process))

	_, err := p.Submit("get", nil)
	require.NoError(t, err)
	p.Flush(context.Background(), "get")
	assert.Equal(t, 11, p.Stats().AdaptiveParams["get"].BatchSize)

	_, err = p.Submit("get", nil)
	require.NoError(t, err)
	p.Flush(context.Background(), "get")
	assert.Equal(t, 12, p.Stats().AdaptiveParams["get"].BatchSize)
}

func TestProcessor_NonAdaptiveKeepsBase(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 10
	cfg.WaitTime = time.Hour
	cfg.Adaptive = false
	p := newTestProcessor(t, cfg)
	rec := newRecorder()
	require.NoError(t, p.Register("get", rec.process))

	_, err := p.Submit("get", nil)
	require.NoError(t, err)
	p.Flush(context.Background(), "get")

	kp := p.Stats().AdaptiveParams["get"]
	assert.Equal(t, 10, kp.BatchSize)
	assert.Equal(t, time.Hour, kp.WaitTime)
	assert.InDelta(t, 1.0, kp.SuccessRate, 1e-9)
}

func TestProcessor_TrackedKindsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WaitTime = time.Hour
	cfg.MaxTrackedKinds = 2
	p := newTestProcessor(t, cfg)
	rec := newRecorder()

	for _, kind := range []string{"a", "b", "c"} {
		require.NoError(t, p.Register(kind, rec.process))
		_, err := p.Submit(kind, nil)
		require.NoError(t, err)
	}

	params := p.Stats().AdaptiveParams
	assert.Len(t, params, 2)
	assert.NotContains(t, params, "a")
}

func TestProcessor_Shutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WaitTime = time.Hour
	p, err := New(cfg, sequentialIDs())
	require.NoError(t, err)
	rec := newRecorder()
	require.NoError(t, p.Register("a", rec.process))
	require.NoError(t, p.Register("b", rec.process))

	var items []*Item
	for _, kind := range []string{"a", "a", "b"} {
		it, err := p.Submit(kind, nil)
		require.NoError(t, err)
		items = append(items, it)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))

	for _, it := range items {
		assert.True(t, it.resolved(), "shutdown must not drop %s", it.ID)
	}
	s := p.Stats()
	assert.Equal(t, 0, s.PendingItems)
	assert.Equal(t, 0, s.ActiveTimers)

	_, err = p.Submit("a", nil)
	assert.ErrorIs(t, err, errors.ErrShuttingDown)
}

func TestProcessor_ShutdownFailsRetries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WaitTime = time.Hour
	p, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, p.Register("a", func(context.Context, []*Item) error { return errUpstream }))

	it, err := p.Submit("a", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))

	waitDone(t, it)
	_, err = it.Result()
	assert.ErrorIs(t, err, errors.ErrShuttingDown)
}

func TestItem_ResolvesOnce(t *testing.T) {
	it := newItem("x", "k", nil, time.Now())
	assert.True(t, it.Resolve(1))
	assert.False(t, it.Resolve(2))
	assert.False(t, it.Fail(errUpstream))

	v, err := it.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	pending := newItem("y", "k", nil, time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pending.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcessor_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	cfg := DefaultConfig()
	cfg.WaitTime = time.Hour
	p := newTestProcessor(t, cfg, WithMetrics(registry))
	rec := newRecorder()
	require.NoError(t, p.Register("get", rec.process))

	_, err := p.Submit("get", nil)
	require.NoError(t, err)
	p.Flush(context.Background(), "get")

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	assert.True(t, found["apicore_batch_items_total"])
	assert.True(t, found["apicore_batch_batches_total"])
	assert.True(t, found["apicore_batch_threshold"])
	assert.True(t, found["apicore_batch_processing_duration_seconds"])

	_, err = New(cfg, WithMetrics(registry))
	assert.Error(t, err)
}

package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/apicore/errors"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Config{RequestsPerMinute: 60, Burst: 10}.Validate())
	assert.True(t, errors.IsInvalid(Config{RequestsPerMinute: 0, Burst: 10}.Validate()))
	assert.True(t, errors.IsInvalid(Config{RequestsPerMinute: 60, Burst: 0}.Validate()))
	assert.InDelta(t, 1.0, Config{RequestsPerMinute: 60}.PerSecond(), 1e-9)
}

func TestLimiter_StartsFull(t *testing.T) {
	clock := newFakeClock()
	l, err := New("jira", Config{RequestsPerMinute: 60, Burst: 5}, WithClock(clock.Now))
	require.NoError(t, err)

	assert.InDelta(t, 5.0, l.Tokens(), 1e-9)
	assert.Equal(t, "jira", l.Name())
}

func TestLimiter_TryAcquireExhaustsBurst(t *testing.T) {
	clock := newFakeClock()
	l, err := New("jira", Config{RequestsPerMinute: 60, Burst: 3}, WithClock(clock.Now))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.True(t, l.TryAcquire(1), "acquire %d", i)
	}
	assert.False(t, l.TryAcquire(1))
	assert.InDelta(t, 0.0, l.Tokens(), 1e-9)

	// one token per second
	clock.Advance(time.Second)
	assert.True(t, l.TryAcquire(1))
	assert.False(t, l.TryAcquire(1))

	stats := l.Stats()
	assert.Equal(t, int64(6), stats.TotalRequests)
	assert.Equal(t, int64(2), stats.RejectedRequests)
	assert.InDelta(t, 2.0/6.0, stats.RejectionRate, 1e-9)
	assert.Equal(t, 3, stats.MaxTokens)
	assert.InDelta(t, 1.0, stats.RatePerSecond, 1e-9)
}

func TestLimiter_TokensNeverExceedBurst(t *testing.T) {
	clock := newFakeClock()
	l, err := New("github", Config{RequestsPerMinute: 600, Burst: 4}, WithClock(clock.Now))
	require.NoError(t, err)

	require.True(t, l.TryAcquire(4))
	clock.Advance(time.Hour)
	assert.InDelta(t, 4.0, l.Tokens(), 1e-9)
}

// Within a window W the number of successful immediate acquisitions is at
// most burst + W*rate.
func TestLimiter_TokenConservation(t *testing.T) {
	clock := newFakeClock()
	cfg := Config{RequestsPerMinute: 120, Burst: 5} // 2 tokens/s
	l, err := New("confluence", cfg, WithClock(clock.Now))
	require.NoError(t, err)

	const window = 10 * time.Second
	const step = 50 * time.Millisecond

	successes := 0
	for elapsed := time.Duration(0); elapsed <= window; elapsed += step {
		for l.TryAcquire(1) {
			successes++
		}
		clock.Advance(step)
	}

	bound := float64(cfg.Burst) + window.Seconds()*cfg.PerSecond()
	assert.LessOrEqual(t, float64(successes), bound)
	assert.GreaterOrEqual(t, float64(successes), bound-1)
}

func TestLimiter_AcquireWaitsForDeficit(t *testing.T) {
	l, err := New("assistant", Config{RequestsPerMinute: 600, Burst: 1}) // 10/s
	require.NoError(t, err)

	wait, err := l.Acquire(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, wait)

	start := time.Now()
	wait, err = l.Acquire(context.Background(), 1)
	require.NoError(t, err)
	assert.Greater(t, wait, 50*time.Millisecond)
	assert.LessOrEqual(t, wait, 100*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	assert.Greater(t, l.Stats().AverageWait, time.Duration(0))
}

func TestLimiter_AcquireCancelled(t *testing.T) {
	l, err := New("slack", Config{RequestsPerMinute: 6, Burst: 1}) // one per 10s
	require.NoError(t, err)
	require.True(t, l.TryAcquire(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = l.Acquire(ctx, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), l.Stats().TotalRequests)
}

func TestLimiter_RejectsOversizedRequests(t *testing.T) {
	l, err := New("jira", Config{RequestsPerMinute: 60, Burst: 2})
	require.NoError(t, err)

	_, err = l.Acquire(context.Background(), 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrExceedsBurst)
	assert.True(t, errors.IsInvalid(err))

	_, err = l.Acquire(context.Background(), 0)
	assert.True(t, errors.IsInvalid(err))

	assert.False(t, l.TryAcquire(3))
	assert.Equal(t, int64(1), l.Stats().RejectedRequests)
}

func TestLimiter_Reconfigure(t *testing.T) {
	clock := newFakeClock()
	l, err := New("jira", Config{RequestsPerMinute: 60, Burst: 2}, WithClock(clock.Now))
	require.NoError(t, err)

	require.NoError(t, l.Reconfigure(Config{RequestsPerMinute: 120, Burst: 4}))
	assert.Equal(t, 4, l.Config().Burst)

	clock.Advance(time.Minute)
	assert.InDelta(t, 4.0, l.Tokens(), 1e-9)

	assert.Error(t, l.Reconfigure(Config{}))
}

func TestLimiter_WaitWindowBounded(t *testing.T) {
	clock := newFakeClock()
	l, err := New("bulk", Config{RequestsPerMinute: 60_000_000, Burst: 1}, WithClock(clock.Now))
	require.NoError(t, err)

	for i := 0; i < waitWindow+250; i++ {
		clock.Advance(time.Second)
		require.True(t, l.TryAcquire(1))
	}

	l.mu.Lock()
	assert.Equal(t, waitWindow, l.waits.Len())
	l.mu.Unlock()

	l.ResetStats()
	stats := l.Stats()
	assert.Zero(t, stats.TotalRequests)
	assert.Zero(t, stats.AverageWait)
}

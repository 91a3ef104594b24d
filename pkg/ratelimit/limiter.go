// Package ratelimit provides the token-bucket limiter used to bound request
// rate per resource class.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/apicore/errors"
	"github.com/c360/apicore/pkg/buffer"
)

// waitWindow is the number of recent acquisitions averaged in Stats.
const waitWindow = 1000

// Config defines a token bucket: capacity Burst, refilled at
// RequestsPerMinute/60 tokens per second.
type Config struct {
	RequestsPerMinute float64 `json:"requests_per_minute"`
	Burst             int     `json:"burst"`
}

// Validate checks the bucket parameters.
func (c Config) Validate() error {
	if c.RequestsPerMinute <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ratelimit", "Validate",
			fmt.Sprintf("requests_per_minute must be positive, got %v", c.RequestsPerMinute))
	}
	if c.Burst < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ratelimit", "Validate",
			fmt.Sprintf("burst must be at least 1, got %d", c.Burst))
	}
	return nil
}

// PerSecond returns the refill rate in tokens per second.
func (c Config) PerSecond() float64 {
	return c.RequestsPerMinute / 60.0
}

// Stats is a snapshot of limiter activity.
type Stats struct {
	Name             string        `json:"name"`
	TotalRequests    int64         `json:"total_requests"`
	RejectedRequests int64         `json:"rejected_requests"`
	RejectionRate    float64       `json:"rejection_rate"`
	AverageWait      time.Duration `json:"average_wait"`
	CurrentTokens    float64       `json:"current_tokens"`
	MaxTokens        int           `json:"max_tokens"`
	RatePerSecond    float64       `json:"rate_per_second"`
}

// Limiter is a thread-safe token bucket. The observable token level stays
// within [0, burst].
type Limiter struct {
	name    string
	limiter *rate.Limiter
	now     func() time.Time

	mu       sync.Mutex
	cfg      Config
	total    int64
	rejected int64
	waits    *buffer.Circular[time.Duration]
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source used for token accounting.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a limiter that starts with a full bucket.
func New(name string, cfg Config, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	waits, err := buffer.NewCircular[time.Duration](waitWindow)
	if err != nil {
		return nil, err
	}

	l := &Limiter{
		name:    name,
		limiter: rate.NewLimiter(rate.Limit(cfg.PerSecond()), cfg.Burst),
		now:     time.Now,
		cfg:     cfg,
		waits:   waits,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Name returns the resource class this limiter belongs to.
func (l *Limiter) Name() string {
	return l.name
}

// Config returns the current bucket parameters.
func (l *Limiter) Config() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

// Reconfigure changes rate and burst in place, keeping accumulated tokens.
func (l *Limiter) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.limiter.SetLimitAt(now, rate.Limit(cfg.PerSecond()))
	l.limiter.SetBurstAt(now, cfg.Burst)
	l.cfg = cfg
	return nil
}

func (l *Limiter) checkCount(n int, method string) error {
	burst := l.Config().Burst
	if n < 1 {
		return errors.WrapInvalid(errors.ErrInvalidData, "Limiter", method,
			fmt.Sprintf("token count must be positive, got %d", n))
	}
	if n > burst {
		return errors.WrapInvalid(errors.ErrExceedsBurst, "Limiter", method,
			fmt.Sprintf("%d tokens requested from %s, burst is %d", n, l.name, burst))
	}
	return nil
}

// Acquire takes n tokens, sleeping until they are available. It returns how
// long the caller waited. A cancelled context returns the reservation to the
// bucket.
func (l *Limiter) Acquire(ctx context.Context, n int) (time.Duration, error) {
	if err := l.checkCount(n, "Acquire"); err != nil {
		return 0, err
	}

	now := l.now()
	r := l.limiter.ReserveN(now, n)
	if !r.OK() {
		return 0, errors.WrapInvalid(errors.ErrExceedsBurst, "Limiter", "Acquire",
			fmt.Sprintf("reserve %d tokens from %s", n, l.name))
	}

	delay := r.DelayFrom(now)
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			r.CancelAt(l.now())
			return 0, errors.WrapTransient(ctx.Err(), "Limiter", "Acquire",
				fmt.Sprintf("wait for %s tokens", l.name))
		}
	}

	l.mu.Lock()
	l.total++
	l.recordWaitLocked(delay)
	l.mu.Unlock()

	return delay, nil
}

// TryAcquire takes n tokens only if they are available now. It never sleeps;
// a refusal is counted as a rejection.
func (l *Limiter) TryAcquire(n int) bool {
	ok := l.checkCount(n, "TryAcquire") == nil && l.limiter.AllowN(l.now(), n)

	l.mu.Lock()
	l.total++
	if ok {
		l.recordWaitLocked(0)
	} else {
		l.rejected++
	}
	l.mu.Unlock()

	return ok
}

// Tokens returns the current token level clamped to [0, burst].
func (l *Limiter) Tokens() float64 {
	tokens := l.limiter.TokensAt(l.now())
	burst := float64(l.Config().Burst)
	if tokens < 0 {
		return 0
	}
	if tokens > burst {
		return burst
	}
	return tokens
}

func (l *Limiter) recordWaitLocked(d time.Duration) {
	l.waits.Write(d)
}

// Stats returns a snapshot of limiter activity.
func (l *Limiter) Stats() Stats {
	tokens := l.Tokens()

	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stats{
		Name:             l.name,
		TotalRequests:    l.total,
		RejectedRequests: l.rejected,
		CurrentTokens:    tokens,
		MaxTokens:        l.cfg.Burst,
		RatePerSecond:    l.cfg.PerSecond(),
	}
	if l.total > 0 {
		s.RejectionRate = float64(l.rejected) / float64(l.total)
	}
	s.AverageWait = buffer.Average(l.waits)
	return s
}

// ResetStats clears counters and the wait window. Tokens are unaffected.
func (l *Limiter) ResetStats() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total = 0
	l.rejected = 0
	l.waits.Clear()
}

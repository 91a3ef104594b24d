package buffer

import (
	"fmt"
	"sync"
	"time"

	"github.com/c360/apicore/errors"
)

// OverflowPolicy defines what Write does when the buffer is full.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest item to make room.
	DropOldest OverflowPolicy = iota

	// DropNewest discards the item being written.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// Option configures a Circular buffer.
type Option[T any] func(*Circular[T])

// WithOverflowPolicy sets the policy applied when the buffer is full.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(c *Circular[T]) {
		c.policy = policy
	}
}

// WithDropCallback is called, outside the lock, with every dropped item.
func WithDropCallback[T any](fn func(item T)) Option[T] {
	return func(c *Circular[T]) {
		c.onDrop = fn
	}
}

// Circular is a fixed-capacity ring.
type Circular[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int // next write position
	size   int
	drops  int64
	policy OverflowPolicy
	onDrop func(item T)
}

// NewCircular creates a buffer holding at most capacity items.
func NewCircular[T any](capacity int, opts ...Option[T]) (*Circular[T], error) {
	if capacity <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "buffer", "NewCircular",
			fmt.Sprintf("capacity must be positive, got %d", capacity))
	}
	c := &Circular[T]{items: make([]T, capacity)}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Write appends item, applying the overflow policy when full. It reports
// whether item was stored.
func (c *Circular[T]) Write(item T) bool {
	c.mu.Lock()

	var (
		dropped    T
		hasDropped bool
	)
	if c.size == len(c.items) {
		c.drops++
		if c.policy == DropNewest {
			c.mu.Unlock()
			if c.onDrop != nil {
				c.onDrop(item)
			}
			return false
		}
		// The oldest item sits at head once the ring is full.
		dropped, hasDropped = c.items[c.head], true
		c.size--
	}

	c.items[c.head] = item
	c.head = (c.head + 1) % len(c.items)
	c.size++
	c.mu.Unlock()

	if hasDropped && c.onDrop != nil {
		c.onDrop(dropped)
	}
	return true
}

// Items returns a copy of the contents, oldest first.
func (c *Circular[T]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]T, c.size)
	start := (c.head - c.size + len(c.items)) % len(c.items)
	for i := 0; i < c.size; i++ {
		out[i] = c.items[(start+i)%len(c.items)]
	}
	return out
}

// Len returns the number of stored items.
func (c *Circular[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Capacity returns the maximum number of items.
func (c *Circular[T]) Capacity() int {
	return len(c.items)
}

// Drops returns how many items the overflow policy has discarded.
func (c *Circular[T]) Drops() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drops
}

// Clear empties the buffer and resets the drop count.
func (c *Circular[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	for i := range c.items {
		c.items[i] = zero
	}
	c.head, c.size, c.drops = 0, 0, 0
}

// Average returns the mean of the stored durations, or zero when empty.
func Average(c *Circular[time.Duration]) time.Duration {
	items := c.Items()
	if len(items) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range items {
		sum += d
	}
	return sum / time.Duration(len(items))
}

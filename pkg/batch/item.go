package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/apicore/errors"
)

// Item is one queued request. The registered ProcessFunc resolves it with
// Resolve or Fail; the first resolution wins and later ones are ignored.
type Item struct {
	ID        string
	Kind      string
	Params    map[string]any
	Submitted time.Time

	retries atomic.Int32

	once   sync.Once
	done   chan struct{}
	result any
	err    error
}

func newItem(id, kind string, params map[string]any, now time.Time) *Item {
	return &Item{
		ID:        id,
		Kind:      kind,
		Params:    params,
		Submitted: now,
		done:      make(chan struct{}),
	}
}

// RetryCount reports how many times the item has been re-queued after a
// failed batch.
func (it *Item) RetryCount() int {
	return int(it.retries.Load())
}

// Resolve completes the item successfully. It reports whether this call
// resolved it.
func (it *Item) Resolve(result any) bool {
	resolved := false
	it.once.Do(func() {
		it.result = result
		close(it.done)
		resolved = true
	})
	return resolved
}

// Fail completes the item with err. It reports whether this call resolved it.
func (it *Item) Fail(err error) bool {
	resolved := false
	it.once.Do(func() {
		it.err = err
		close(it.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the item is resolved.
func (it *Item) Done() <-chan struct{} {
	return it.done
}

func (it *Item) resolved() bool {
	select {
	case <-it.done:
		return true
	default:
		return false
	}
}

// Result returns the outcome of a resolved item. It must only be called after
// Done is closed.
func (it *Item) Result() (any, error) {
	return it.result, it.err
}

// Wait blocks until the item is resolved or ctx ends. A cancelled wait does
// not withdraw the item from its queue.
func (it *Item) Wait(ctx context.Context) (any, error) {
	select {
	case <-it.done:
		return it.result, it.err
	case <-ctx.Done():
		return nil, errors.WrapTransient(ctx.Err(), "Item", "Wait", "wait for batch result")
	}
}

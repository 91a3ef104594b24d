package cache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/c360/apicore/errors"
)

type lruEntry[V any] struct {
	key   string
	value V
}

// lruCache is a thread-safe least-recently-used cache with a fixed capacity.
type lruCache[V any] struct {
	mu       sync.Mutex
	maxSize  int
	items    map[string]*list.Element
	order    *list.List // front = most recently used
	recorder *Recorder
	evictFn  EvictCallback[V]
}

// NewLRU creates an LRU cache holding at most maxSize entries.
func NewLRU[V any](maxSize int, options ...Option[V]) (Cache[V], error) {
	if maxSize <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewLRU",
			fmt.Sprintf("max size must be positive, got %d", maxSize))
	}

	opts := applyOptions(options...)
	recorder, err := NewRecorder(opts.metricsReg, opts.metricsPrefix)
	if err != nil {
		return nil, err
	}

	return &lruCache[V]{
		maxSize:  maxSize,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		recorder: recorder,
		evictFn:  opts.evictCallback,
	}, nil
}

// Get retrieves a value by key and marks it as recently used.
func (c *lruCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.items[key]
	if !exists {
		var zero V
		c.recorder.Miss()
		return zero, false
	}

	c.order.MoveToFront(element)
	c.recorder.Hit()
	return element.Value.(*lruEntry[V]).value, true
}

// Set stores a value and marks it as recently used.
func (c *lruCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	created, evicted := c.put(key, value)
	c.notifyEvicted(evicted)
	return created, nil
}

// Promote stores a value served by a slower tier.
func (c *lruCache[V]) Promote(key string, value V) error {
	if err := validateKey(key); err != nil {
		return err
	}

	_, evicted := c.put(key, value)
	c.recorder.Promotion()
	c.notifyEvicted(evicted)
	return nil
}

// put inserts or overwrites key. A new key at capacity evicts exactly one
// entry; the evicted entry is returned so callbacks run outside the lock.
func (c *lruCache[V]) put(key string, value V) (bool, *lruEntry[V]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.recorder.Set()

	if element, exists := c.items[key]; exists {
		element.Value.(*lruEntry[V]).value = value
		c.order.MoveToFront(element)
		return false, nil
	}

	var evicted *lruEntry[V]
	if len(c.items) >= c.maxSize {
		evicted = c.evictOldestLocked()
	}

	c.items[key] = c.order.PushFront(&lruEntry[V]{key: key, value: value})
	c.recorder.UpdateSize(len(c.items))
	return true, evicted
}

// Delete removes an entry by key.
func (c *lruCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	element, exists := c.items[key]
	if !exists {
		c.mu.Unlock()
		return false, nil
	}
	entry := c.removeElementLocked(element)
	c.recorder.Delete()
	c.recorder.UpdateSize(len(c.items))
	c.mu.Unlock()

	c.notifyEvicted(entry)
	return true, nil
}

// Clear removes all entries.
func (c *lruCache[V]) Clear() error {
	var removed []*lruEntry[V]

	c.mu.Lock()
	if c.evictFn != nil {
		removed = make([]*lruEntry[V], 0, len(c.items))
		for element := c.order.Back(); element != nil; element = element.Prev() {
			removed = append(removed, element.Value.(*lruEntry[V]))
		}
	}
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.recorder.UpdateSize(0)
	c.mu.Unlock()

	for _, entry := range removed {
		c.notifyEvicted(entry)
	}
	return nil
}

// Size returns the current number of entries.
func (c *lruCache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Capacity returns the maximum number of entries.
func (c *lruCache[V]) Capacity() int {
	return c.maxSize
}

// Keys returns all keys, most recently used first.
func (c *lruCache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.items))
	for element := c.order.Front(); element != nil; element = element.Next() {
		keys = append(keys, element.Value.(*lruEntry[V]).key)
	}
	return keys
}

// Stats returns the cache statistics.
func (c *lruCache[V]) Stats() *Statistics {
	return c.recorder.Stats()
}

// Close is a no-op; the LRU owns no goroutines.
func (c *lruCache[V]) Close() error {
	return nil
}

// evictOldestLocked removes the least recently used entry. Caller holds mu.
func (c *lruCache[V]) evictOldestLocked() *lruEntry[V] {
	element := c.order.Back()
	if element == nil {
		return nil
	}
	entry := c.removeElementLocked(element)
	c.recorder.Eviction(1)
	return entry
}

func (c *lruCache[V]) removeElementLocked(element *list.Element) *lruEntry[V] {
	entry := element.Value.(*lruEntry[V])
	delete(c.items, entry.key)
	c.order.Remove(element)
	return entry
}

func (c *lruCache[V]) notifyEvicted(entry *lruEntry[V]) {
	if entry != nil && c.evictFn != nil {
		c.evictFn(entry.key, entry.value)
	}
}

package cache

import (
	"github.com/c360/apicore/errors"
)

// Cache is a bounded, thread-safe in-process cache keyed by string.
type Cache[V any] interface {
	// Get retrieves a value by key and records a hit or miss.
	Get(key string) (V, bool)

	// Set stores a value. Returns true if a new entry was created, false if updated.
	Set(key string, value V) (bool, error)

	// Promote stores a value copied up from a slower tier and records a promotion.
	Promote(key string, value V) error

	// Delete removes an entry by key. Returns true if the key existed.
	Delete(key string) (bool, error)

	// Clear removes all entries.
	Clear() error

	// Size returns the current number of entries.
	Size() int

	// Capacity returns the maximum number of entries.
	Capacity() int

	// Keys returns all keys, most recently used first.
	Keys() []string

	// Stats returns the always-on statistics for this cache.
	Stats() *Statistics

	// Close releases resources held by the cache.
	Close() error
}

// EvictCallback is called when an entry is evicted from the cache.
type EvictCallback[V any] func(key string, value V)

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}

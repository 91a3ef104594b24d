package storage

import (
	"context"
	"time"
)

// Store is a durable key/value backend with optional per-key expiry.
//
// Keys are strings; values are opaque bytes (the cache stores JSON). Expired
// entries are never returned by Get, but they are only physically removed by
// PurgeExpired, which callers run lazily before reads.
//
// All Store implementations must be safe for concurrent use.
type Store interface {
	// Put writes data at key, replacing any existing entry. A zero expiresAt
	// means the entry never expires.
	Put(ctx context.Context, key string, data []byte, expiresAt time.Time) error

	// Get returns the data at key. A missing or expired key returns an error
	// matching errors.ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns the live keys starting with prefix, in lexicographic order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes every entry and returns how many were removed.
	Clear(ctx context.Context) (int64, error)

	// PurgeExpired removes entries whose expiry has passed and returns how
	// many were removed.
	PurgeExpired(ctx context.Context) (int64, error)

	// Close releases the underlying connection.
	Close() error
}

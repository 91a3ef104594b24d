// Package storage defines the persistent key/value backend used by the
// slowest cache tier.
//
// # Overview
//
// Store is a small key/value contract: Put with an optional absolute expiry,
// Get, List by prefix, Delete, Clear and PurgeExpired. Values are opaque
// bytes; the tiered cache stores JSON.
//
// Implementations:
//   - cachestore.Store: GORM over PostgreSQL or embedded SQLite
//
// # Architecture Decisions
//
// Lazy Expiry:
//
// Expired entries are filtered out of Get immediately, but physical removal
// happens only when a caller runs PurgeExpired. The tiered cache runs it
// right before each read so cleanup cost is spread across reads and no
// background goroutine is needed. PurgeExpired reports how many rows it
// removed so the caller can count them as evictions.
//
// Absolute Expiry:
//
// Put takes an absolute time rather than a TTL. A zero time means the entry
// never expires; a time at or before now writes an entry that is already
// expired and will be purged by the next sweep.
//
// # Thread Safety
//
// All Store implementations must be safe for concurrent use.
package storage

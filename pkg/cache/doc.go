// Package cache provides the bounded in-memory LRU used as the first tier of
// the tiered cache.
//
// The LRU keeps an exact recency order in a container/list. Inserting a new
// key when the cache is full evicts exactly one entry, the least recently
// used, and counts one eviction. Overwriting an existing key never evicts.
//
// Statistics are always collected (hits, misses, sets, deletes, evictions and
// promotions). Prometheus export is optional:
//
//	l1, err := cache.NewLRU[[]byte](1000,
//	    cache.WithMetrics[[]byte](registry, "tiercache_l1"),
//	)
//
// Promote is used by the tiered cache when a slower tier serves a read: it
// behaves like Set and additionally counts a promotion on this tier.
//
// Eviction callbacks run outside the cache lock, so they may call back into
// the cache.
package cache

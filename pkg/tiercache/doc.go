// Package tiercache provides a three-tier read-through cache.
//
// L1 is an in-process LRU from pkg/cache. L2 is an optional RemoteStore
// (RedisStore or NATSStore) shared between processes on a best-effort basis.
// L3 is a persistent storage.Store, normally storage/cachestore.
//
// Get consults the tiers in order. A hit below L1 is copied into every
// faster tier and counted as a promotion there. Set writes every tier unless
// WithLevels narrows it; WithTTL overrides the per-tier default lifetime.
//
// Failures of L2 and L3 are absorbed at the tier boundary: each backend call
// becomes a hit, miss or unavailable lookup, errors are logged and counted
// in apicore_backend_errors_total, and the caller sees a miss. Without a
// RemoteStore the manager runs as two tiers and reports L2 as disabled.
//
// Basic usage:
//
//	store, _ := cachestore.Open(ctx, cachestore.DefaultConfig())
//	remote, _ := tiercache.DialRedis(ctx, "redis://localhost:6379/0", "pm")
//	c, _ := tiercache.New[Issue](tiercache.DefaultConfig(),
//		tiercache.WithStore(store),
//		tiercache.WithRemote(remote))
//	defer c.Close()
//
//	_ = c.Set(ctx, "jira:PROJ-1", issue, tiercache.WithTTL(10*time.Minute))
//	if v, ok := c.Get(ctx, "jira:PROJ-1"); ok {
//		...
//	}
package tiercache

// Package cache provides the per-principal permission cache that fronts
// rbac.Resolver.
//
// An Entry is fresh while now-CachedAt < TTL (default 5 minutes). Stale and
// absent entries are both reported as ErrCacheMiss, so staleness is computed
// on read and never trusted. Two implementations are provided:
//
//	MemoryCache  - process-local, bounded LRU (single instance deployments)
//	RedisCache   - shared through Redis (multi instance deployments)
//
// Resolver combines a Cache with a loader. Concurrent misses for the same
// principal share one load, load errors are never cached, and Invalidate
// removes the entry before returning so the next decision sees the store.
package cache

package cache

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/platinummonkey/dormshare/pkg/rbac"
)

// MemoryCache is a bounded in-process Cache. Entries are replaced whole, so
// concurrent readers observe either the old or the new entry.
type MemoryCache struct {
	config *Config
	cache  *lru.LRU[int64, *Entry]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewMemoryCache creates a memory cache. A nil config uses DefaultConfig.
func NewMemoryCache(config *Config) *MemoryCache {
	config = config.withDefaults()
	return &MemoryCache{
		config: config,
		cache:  lru.NewLRU[int64, *Entry](config.MaxEntries, nil, config.TTL),
	}
}

// Get returns a fresh entry or ErrCacheMiss. Stale entries are removed.
func (c *MemoryCache) Get(ctx context.Context, principalID int64) (*Entry, error) {
	entry, ok := c.cache.Get(principalID)
	if !ok {
		c.misses.Add(1)
		return nil, ErrCacheMiss
	}
	if !entry.Fresh(c.config.Now(), c.config.TTL) {
		c.cache.Remove(principalID)
		c.misses.Add(1)
		return nil, ErrCacheMiss
	}

	c.hits.Add(1)
	return entry, nil
}

// Put stores the entry with CachedAt = now
func (c *MemoryCache) Put(ctx context.Context, principalID int64, roles, permissions rbac.Set) error {
	c.cache.Add(principalID, &Entry{
		PrincipalID: principalID,
		Roles:       copySet(roles),
		Permissions: copySet(permissions),
		CachedAt:    c.config.Now(),
	})
	return nil
}

// Invalidate removes the entry if present
func (c *MemoryCache) Invalidate(ctx context.Context, principalID int64) error {
	c.cache.Remove(principalID)
	return nil
}

// Purge removes every entry
func (c *MemoryCache) Purge() {
	c.cache.Purge()
}

// Len returns the number of stored entries
func (c *MemoryCache) Len() int {
	return c.cache.Len()
}

// TTL returns the freshness window
func (c *MemoryCache) TTL() time.Duration {
	return c.config.TTL
}

// Stats returns cache statistics
func (c *MemoryCache) Stats() Stats {
	stats := Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		ItemCount: int64(c.cache.Len()),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/dormshare/pkg/rbac"
)

// RedisCache is a Cache shared by every instance through Redis. Keys expire
// after the TTL and freshness is checked again on read.
type RedisCache struct {
	client redis.UniversalClient
	config *Config
}

type redisEntry struct {
	PrincipalID int64     `json:"principal_id"`
	Roles       []string  `json:"roles"`
	Permissions []string  `json:"permissions"`
	CachedAt    time.Time `json:"cached_at"`
}

// NewRedisCache creates a Redis-backed cache. A nil config uses DefaultConfig.
func NewRedisCache(client redis.UniversalClient, config *Config) *RedisCache {
	return &RedisCache{
		client: client,
		config: config.withDefaults(),
	}
}

func (c *RedisCache) key(principalID int64) string {
	return c.config.KeyPrefix + strconv.FormatInt(principalID, 10)
}

// Get returns a fresh entry, ErrCacheMiss, or an error wrapping ErrCacheUnavailable
func (c *RedisCache) Get(ctx context.Context, principalID int64) (*Entry, error) {
	data, err := c.client.Get(ctx, c.key(principalID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}

	var stored redisEntry
	if err := json.Unmarshal(data, &stored); err != nil {
		// Unreadable entries are dropped and rebuilt from the store.
		c.client.Del(ctx, c.key(principalID))
		return nil, ErrCacheMiss
	}

	entry := &Entry{
		PrincipalID: stored.PrincipalID,
		Roles:       rbac.NewSet(stored.Roles...),
		Permissions: rbac.NewSet(stored.Permissions...),
		CachedAt:    stored.CachedAt,
	}
	if !entry.Fresh(c.config.Now(), c.config.TTL) {
		return nil, ErrCacheMiss
	}
	return entry, nil
}

// Put stores the entry with CachedAt = now and a matching key TTL
func (c *RedisCache) Put(ctx context.Context, principalID int64, roles, permissions rbac.Set) error {
	data, err := json.Marshal(redisEntry{
		PrincipalID: principalID,
		Roles:       roles.Sorted(),
		Permissions: permissions.Sorted(),
		CachedAt:    c.config.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := c.client.Set(ctx, c.key(principalID), data, c.config.TTL).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	return nil
}

// Invalidate deletes the entry. Deleting an absent key is not an error.
func (c *RedisCache) Invalidate(ctx context.Context, principalID int64) error {
	if err := c.client.Del(ctx, c.key(principalID)).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	return nil
}

package revocation

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultKeyPrefix namespaces revocation keys in a shared Redis
const DefaultKeyPrefix = "dormshare:revoked:"

// RedisRegistry is a Registry shared by every instance through Redis.
// Entry expiry is delegated to Redis key TTLs.
type RedisRegistry struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRegistry creates a registry on client. An empty prefix uses DefaultKeyPrefix.
func NewRedisRegistry(client redis.UniversalClient, prefix string) *RedisRegistry {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisRegistry{
		client: client,
		prefix: prefix,
	}
}

func (r *RedisRegistry) key(tokenID string) string {
	return r.prefix + tokenID
}

// Revoke stores tokenID with a ttl. An existing entry with a longer remaining
// ttl is kept.
func (r *RedisRegistry) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if tokenID == "" {
		return ErrEmptyTokenID
	}
	if ttl <= 0 {
		return nil
	}

	key := r.key(tokenID)
	remaining, err := r.client.PTTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to read revocation ttl: %w", err)
	}
	if remaining > ttl {
		return nil
	}

	if err := r.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to store revocation: %w", err)
	}
	return nil
}

// IsRevoked reports whether tokenID has a live key
func (r *RedisRegistry) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check revocation: %w", err)
	}
	return n > 0, nil
}

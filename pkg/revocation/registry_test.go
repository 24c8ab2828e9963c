package revocation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
}

func TestMemoryRegistry_RevokeAndExpire(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	registry := NewMemoryRegistry(clock.Now)

	revoked, err := registry.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked, "absent entry means not revoked")

	require.NoError(t, registry.Revoke(ctx, "jti-1", 7*24*time.Hour))

	clock.Advance(5 * time.Minute)
	revoked, err = registry.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	clock.Advance(7 * 24 * time.Hour)
	revoked, err = registry.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)
	assert.Equal(t, 0, registry.Len(), "expired entry should be removed lazily")
}

func TestMemoryRegistry_RevokeValidation(t *testing.T) {
	ctx := context.Background()
	registry := NewMemoryRegistry(nil)

	assert.ErrorIs(t, registry.Revoke(ctx, "", time.Minute), ErrEmptyTokenID)

	require.NoError(t, registry.Revoke(ctx, "jti", 0))
	require.NoError(t, registry.Revoke(ctx, "jti", -time.Second))
	assert.Equal(t, 0, registry.Len())
}

func TestMemoryRegistry_ShorterTTLDoesNotShorten(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	registry := NewMemoryRegistry(clock.Now)

	require.NoError(t, registry.Revoke(ctx, "jti", time.Hour))
	require.NoError(t, registry.Revoke(ctx, "jti", time.Minute))

	clock.Advance(30 * time.Minute)
	revoked, _ := registry.IsRevoked(ctx, "jti")
	assert.True(t, revoked)
}

func TestMemoryRegistry_Sweep(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	registry := NewMemoryRegistry(clock.Now)

	for i := 0; i < 10; i++ {
		ttl := time.Minute
		if i%2 == 0 {
			ttl = time.Hour
		}
		require.NoError(t, registry.Revoke(ctx, fmt.Sprintf("jti-%d", i), ttl))
	}

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 5, registry.Sweep())
	assert.Equal(t, 5, registry.Len())
}

func TestMemoryRegistry_Concurrent(t *testing.T) {
	ctx := context.Background()
	registry := NewMemoryRegistry(nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("jti-%d", i%5)
			_ = registry.Revoke(ctx, id, time.Hour)
			_, _ = registry.IsRevoked(ctx, id)
			registry.Sweep()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, registry.Len())
}

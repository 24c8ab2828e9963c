package cache

import (
	"context"
	"time"

	"github.com/platinummonkey/dormshare/pkg/rbac"
)

const (
	// DefaultTTL bounds the staleness of any cached decision
	DefaultTTL = 5 * time.Minute

	// DefaultMaxEntries bounds the memory cache
	DefaultMaxEntries = 10000

	// DefaultKeyPrefix namespaces permission entries in a shared Redis
	DefaultKeyPrefix = "dormshare:perm:"
)

// Entry is the cached authorization state of a principal. Entries are
// replaced whole and must not be modified after Put.
type Entry struct {
	PrincipalID int64
	Roles       rbac.Set
	Permissions rbac.Set
	CachedAt    time.Time
}

// Fresh reports whether the entry is younger than ttl at now
func (e *Entry) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.CachedAt) < ttl
}

// Snapshot converts the entry to a resolver snapshot
func (e *Entry) Snapshot() *rbac.Snapshot {
	return &rbac.Snapshot{
		PrincipalID: e.PrincipalID,
		Roles:       e.Roles,
		Permissions: e.Permissions,
	}
}

// Cache stores per-principal role and permission sets
type Cache interface {
	// Get returns a fresh entry or ErrCacheMiss
	Get(ctx context.Context, principalID int64) (*Entry, error)

	// Put stores or overwrites the entry with CachedAt = now
	Put(ctx context.Context, principalID int64, roles, permissions rbac.Set) error

	// Invalidate removes the entry. Removing an absent entry is not an error.
	Invalidate(ctx context.Context, principalID int64) error
}

// Config holds cache configuration
type Config struct {
	TTL        time.Duration
	MaxEntries int
	KeyPrefix  string
	Now        func() time.Time
}

// DefaultConfig returns default cache configuration
func DefaultConfig() *Config {
	return &Config{
		TTL:        DefaultTTL,
		MaxEntries: DefaultMaxEntries,
		KeyPrefix:  DefaultKeyPrefix,
		Now:        time.Now,
	}
}

func (c *Config) withDefaults() *Config {
	out := DefaultConfig()
	if c == nil {
		return out
	}
	if c.TTL > 0 {
		out.TTL = c.TTL
	}
	if c.MaxEntries > 0 {
		out.MaxEntries = c.MaxEntries
	}
	if c.KeyPrefix != "" {
		out.KeyPrefix = c.KeyPrefix
	}
	if c.Now != nil {
		out.Now = c.Now
	}
	return out
}

// Stats represents cache statistics
type Stats struct {
	Hits      int64
	Misses    int64
	HitRate   float64
	ItemCount int64
}

func copySet(s rbac.Set) rbac.Set {
	out := make(rbac.Set, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

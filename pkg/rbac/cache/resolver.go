package cache

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/platinummonkey/dormshare/pkg/observability"
	"github.com/platinummonkey/dormshare/pkg/rbac"
	"golang.org/x/sync/singleflight"
)

// Loader produces authoritative snapshots. *rbac.Resolver implements it.
type Loader interface {
	Load(ctx context.Context, principalID int64) (*rbac.Snapshot, error)
}

// Resolver serves snapshots from a Cache and loads misses through a Loader.
// It implements rbac.Invalidator.
type Resolver struct {
	cache   Cache
	loader  Loader
	group   singleflight.Group
	logger  *observability.Logger
	metrics *observability.Metrics

	// generation changes on every invalidation. A load that observes a
	// change while in flight does not populate the cache.
	generation atomic.Uint64
}

var _ rbac.Invalidator = (*Resolver)(nil)

// NewResolver creates a cache-fronted resolver
func NewResolver(cache Cache, loader Loader, logger *observability.Logger, metrics *observability.Metrics) *Resolver {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Resolver{
		cache:   cache,
		loader:  loader,
		logger:  logger.WithField("component", "permission_cache"),
		metrics: metrics,
	}
}

// Snapshot returns the principal's roles and permissions, from the cache when
// fresh. Load errors are returned unchanged and nothing is cached.
func (r *Resolver) Snapshot(ctx context.Context, principalID int64) (*rbac.Snapshot, error) {
	entry, err := r.cache.Get(ctx, principalID)
	if err == nil {
		r.metrics.RecordCacheLookup(true)
		return entry.Snapshot(), nil
	}
	r.metrics.RecordCacheLookup(false)
	if !errors.Is(err, ErrCacheMiss) {
		r.logger.WithError(err).WithField("principal_id", principalID).Warn("permission cache read failed, loading from store")
	}

	key := strconv.FormatInt(principalID, 10)
	ch := r.group.DoChan(key, func() (interface{}, error) {
		return r.load(context.WithoutCancel(ctx), principalID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*rbac.Snapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Resolver) load(ctx context.Context, principalID int64) (*rbac.Snapshot, error) {
	generation := r.generation.Load()

	snapshot, err := r.loader.Load(ctx, principalID)
	if err != nil {
		return nil, err
	}

	if r.generation.Load() != generation {
		return snapshot, nil
	}
	if err := r.cache.Put(ctx, principalID, snapshot.Roles, snapshot.Permissions); err != nil {
		r.logger.WithError(err).WithField("principal_id", principalID).Warn("permission cache write failed")
		return snapshot, nil
	}
	// An invalidation that raced the Put must still win.
	if r.generation.Load() != generation {
		if err := r.cache.Invalidate(ctx, principalID); err != nil {
			r.logger.WithError(err).WithField("principal_id", principalID).Warn("permission cache cleanup failed")
		}
	}
	return snapshot, nil
}

// Invalidate removes the principal's entry before returning. Loads already in
// flight are detached so later calls read the store again.
func (r *Resolver) Invalidate(ctx context.Context, principalID int64) error {
	r.generation.Add(1)
	r.group.Forget(strconv.FormatInt(principalID, 10))

	if err := r.cache.Invalidate(ctx, principalID); err != nil {
		return err
	}

	r.metrics.RecordCacheInvalidation()
	r.logger.WithField("principal_id", principalID).Debug("permission cache invalidated")
	return nil
}

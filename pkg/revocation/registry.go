package revocation

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrEmptyTokenID is returned when revoking without a token identifier
var ErrEmptyTokenID = errors.New("token id is required")

// Registry is the set of revoked token identifiers with per-entry expiry
type Registry interface {
	// Revoke rejects tokenID until now+ttl. A non-positive ttl is a no-op.
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error

	// IsRevoked reports whether tokenID has a live entry
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// MemoryRegistry is a process-local Registry. Expired entries are removed
// lazily on lookup and in bulk by Sweep.
type MemoryRegistry struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryRegistry creates an empty registry. A nil clock uses time.Now.
func NewMemoryRegistry(now func() time.Time) *MemoryRegistry {
	if now == nil {
		now = time.Now
	}
	return &MemoryRegistry{
		entries: make(map[string]time.Time),
		now:     now,
	}
}

// Revoke records tokenID until now+ttl. A later revocation with a longer
// ttl extends the entry; a shorter one never shortens it.
func (r *MemoryRegistry) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if tokenID == "" {
		return ErrEmptyTokenID
	}
	if ttl <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	until := r.now().Add(ttl)
	if current, ok := r.entries[tokenID]; ok && current.After(until) {
		return nil
	}
	r.entries[tokenID] = until
	return nil
}

// IsRevoked reports whether tokenID is revoked and deletes the entry if it
// has expired
func (r *MemoryRegistry) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	until, ok := r.entries[tokenID]
	if !ok {
		return false, nil
	}
	if !r.now().Before(until) {
		delete(r.entries, tokenID)
		return false, nil
	}
	return true, nil
}

// Sweep removes every expired entry and returns how many were removed
func (r *MemoryRegistry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for id, until := range r.entries {
		if !now.Before(until) {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, including expired ones not yet swept
func (r *MemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

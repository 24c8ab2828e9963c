package cache

import "errors"

var (
	// ErrCacheMiss is returned for absent and stale entries
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheUnavailable is returned when the backing store cannot be reached
	ErrCacheUnavailable = errors.New("cache unavailable")
)

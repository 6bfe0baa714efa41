package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// defaultMaxSize bounds the cache when no size is given.
const defaultMaxSize = 65536

// AttrCache caches per-item attributes keyed by item id with TTL-based
// expiration and LRU eviction. Callers invalidate every id a mutation
// touches; ids are stable across renames so a move only invalidates the
// moved item and the two parents.
//
// Thread-safe: the underlying LRU is internally locked.
type AttrCache[V any] struct {
	lru *expirable.LRU[string, V]
	ttl time.Duration
}

// NewAttrCache creates a new attribute cache.
// ttl: Time-to-live for cached entries (use 0 for no expiration)
// maxSize: Maximum number of entries (use 0 for the default bound)
func NewAttrCache[V any](ttl time.Duration, maxSize int) *AttrCache[V] {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	return &AttrCache[V]{
		lru: expirable.NewLRU[string, V](maxSize, nil, ttl),
		ttl: ttl,
	}
}

// Get retrieves cached attributes for an id.
// Misses on expiry or when caching is disabled (RMXFS_CACHE=0).
func (c *AttrCache[V]) Get(id string) (V, bool) {
	if Disabled || c.ttl < 0 {
		var zero V
		return zero, false
	}
	return c.lru.Get(id)
}

// Set stores attributes for an id.
// No-op if caching is disabled (RMXFS_CACHE=0).
func (c *AttrCache[V]) Set(id string, attrs V) {
	if Disabled || c.ttl < 0 {
		return
	}
	c.lru.Add(id, attrs)
}

// Invalidate clears all entries from the cache.
func (c *AttrCache[V]) Invalidate() {
	c.lru.Purge()
}

// InvalidateIDs removes the given ids from the cache.
func (c *AttrCache[V]) InvalidateIDs(ids ...string) {
	for _, id := range ids {
		c.lru.Remove(id)
	}
}

// Size returns the current number of entries in the cache.
func (c *AttrCache[V]) Size() int {
	return c.lru.Len()
}


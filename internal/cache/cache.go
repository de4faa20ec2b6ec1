// Package cache is a small TTL cache keyed by string with an injectable clock.
// Expired entries are dropped lazily on access; there is no background
// goroutine.
package cache

import (
	"context"
	"sync"
	"time"
)

// Entry is a cached value and the time it was stored.
type Entry[V any] struct {
	Value     V
	FetchedAt time.Time
}

// Cache holds entries for ttl. A ttl of zero or less disables caching:
// Set is a no-op and every lookup misses.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]Entry[V]
	ttl     time.Duration
	now     func() time.Time
}

// Option configures a Cache.
type Option[V any] func(*Cache[V])

// WithClock overrides time.Now.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) {
		c.now = now
	}
}

// New creates a cache with the given TTL.
func New[V any](ttl time.Duration, opts ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		entries: make(map[string]Entry[V]),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup returns the entry for key if present and fresh.
func (c *Cache[V]) Lookup(key string) (Entry[V], bool) {
	if c.ttl <= 0 {
		return Entry[V]{}, false
	}

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return Entry[V]{}, false
	}

	if c.now().Sub(entry.FetchedAt) >= c.ttl {
		c.mu.Lock()
		// re-check: a concurrent Set may have refreshed it
		if cur, still := c.entries[key]; still && cur.FetchedAt.Equal(entry.FetchedAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return Entry[V]{}, false
	}
	return entry, true
}

// Get returns the value for key if present and fresh.
func (c *Cache[V]) Get(key string) (V, bool) {
	entry, ok := c.Lookup(key)
	return entry.Value, ok
}

// Set stores value under key, stamped with the current time.
func (c *Cache[V]) Set(key string, value V) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = Entry[V]{Value: value, FetchedAt: c.now()}
	c.mu.Unlock()
}

// Invalidate drops key.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, fresh or not.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// GetOrLoad returns the cached value for key or calls load and caches its
// result. Errors are not cached. Concurrent misses may each call load.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, load func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load(ctx)
	if err != nil {
		var zero V
		return zero, err
	}
	c.Set(key, v)
	return v, nil
}

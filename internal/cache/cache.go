// Package cache provides a generic, thread-safe key/value store with
// per-entry time-to-live expiry. Eviction is time-based only; there is no
// capacity bound. Each consumer owns its cache instance; the TTL (and so
// the effective upstream call rate) is a construction parameter, not a
// property of the data.
package cache

import (
	"context"
	"sync"
	"time"
)

// entry pairs a value with its insertion time. An entry is expired once
// now - insertedAt >= ttl.
type entry[V any] struct {
	value      V
	insertedAt time.Time
}

// Cache is a TTL-bounded map. Concurrent Get/Put are safe; concurrent Puts
// to the same key resolve last-write-wins.
type Cache[K comparable, V any] struct {
	mu   sync.RWMutex
	data map[K]entry[V]
	ttl  time.Duration

	// now is swappable for expiry tests.
	now func() time.Time
}

// New creates a cache whose entries expire ttl after insertion.
func New[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{
		data: make(map[K]entry[V]),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Get returns the value for key if present and not expired. An expired
// entry is treated as absent.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.data[key]
	c.mu.RUnlock()

	if !ok || c.now().Sub(e.insertedAt) >= c.ttl {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put inserts or overwrites unconditionally, resetting the entry's age.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	c.data[key] = entry[V]{value: value, insertedAt: c.now()}
	c.mu.Unlock()
}

// Delete removes an entry if present.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included until
// the next sweep.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// IsEmpty reports whether the cache holds no entries.
func (c *Cache[K, V]) IsEmpty() bool {
	return c.Len() == 0
}

// TTL returns the cache's fixed time-to-live.
func (c *Cache[K, V]) TTL() time.Duration {
	return c.ttl
}

// Sweep removes all expired entries and returns how many were evicted.
// Get never returns expired data regardless of whether Sweep runs.
func (c *Cache[K, V]) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for k, e := range c.data {
		if now.Sub(e.insertedAt) >= c.ttl {
			delete(c.data, k)
			evicted++
		}
	}
	return evicted
}

// StartSweeper launches a background loop that sweeps expired entries at
// the given interval until ctx is cancelled. Purely a memory-bound measure;
// correctness never depends on it.
func (c *Cache[K, V]) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

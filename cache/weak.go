// Package cache provides the weak-reference object cache used by archive
// readers.
//
// A Weak map remembers objects that were handed out to callers without
// keeping them alive: entries hold weak pointers, so an object that the
// caller has dropped becomes collectable and its entry silently goes stale.
// The cache observes a shared ownership pool it does not own a share of.
package cache

import (
	"sync"
	"sync/atomic"
	"weak"
)

// Weak is a thread-safe map from keys to weakly referenced values.
//
// Lookups try to upgrade the weak pointer; a stale entry behaves like a
// miss. Inserts never replace a live entry, so concurrent populators
// converge on a single cached instance (insert-if-empty).
type Weak[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]weak.Pointer[V]

	// Statistics (atomic for zero-allocation reads).
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewWeak creates an empty weak cache.
func NewWeak[K comparable, V any]() *Weak[K, V] {
	return &Weak[K, V]{entries: make(map[K]weak.Pointer[V])}
}

// Get returns the live value for key, if any. A missing or stale entry is
// a miss.
func (c *Weak[K, V]) Get(key K) (*V, bool) {
	c.mu.Lock()
	wp, ok := c.entries[key]
	c.mu.Unlock()

	if ok {
		if v := wp.Value(); v != nil {
			c.hits.Add(1)
			return v, true
		}
	}
	c.misses.Add(1)
	return nil, false
}

// Insert stores v under key unless a live value is already present, and
// returns the value that ended up cached. Callers that raced and lost
// should use the returned instance.
func (c *Weak[K, V]) Insert(key K, v *V) *V {
	c.mu.Lock()
	defer c.mu.Unlock()

	if wp, ok := c.entries[key]; ok {
		if cur := wp.Value(); cur != nil {
			return cur
		}
	}
	c.entries[key] = weak.Make(v)
	return v
}

// Delete removes the entry for key.
func (c *Weak[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear removes every entry.
func (c *Weak[K, V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[K]weak.Pointer[V])
	c.mu.Unlock()
}

// Len returns the number of entries, counting stale ones that have not yet
// been looked up.
func (c *Weak[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Hits returns the number of successful upgrades.
func (c *Weak[K, V]) Hits() uint64 { return c.hits.Load() }

// Misses returns the number of failed lookups, stale entries included.
func (c *Weak[K, V]) Misses() uint64 { return c.misses.Load() }

// Package cache holds small per-merchant TTL caches.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	owner   string
	value   V
	expires time.Time
}

// TTL is a concurrency-safe map whose entries expire after a fixed
// duration. Every entry belongs to an owner so a merchant's entries can be
// dropped together.
type TTL[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry[V]
}

// New creates a cache with the given entry lifetime.
func New[V any](ttl time.Duration) *TTL[V] {
	return &TTL[V]{ttl: ttl, now: time.Now, entries: make(map[string]entry[V])}
}

// SetClock replaces time.Now, for tests.
func (c *TTL[V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func compose(owner, key string) string {
	return owner + "\x00" + key
}

// Get returns a live entry.
func (c *TTL[V]) Get(owner, key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[compose(owner, key)]
	if !ok || !c.now().Before(e.expires) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores v under (owner, key).
func (c *TTL[V]) Set(owner, key string, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[compose(owner, key)] = entry[V]{owner: owner, value: v, expires: c.now().Add(c.ttl)}
}

// Delete drops one entry.
func (c *TTL[V]) Delete(owner, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, compose(owner, key))
}

// InvalidateOwner drops every entry of an owner and returns how many went.
func (c *TTL[V]) InvalidateOwner(owner string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if e.owner == owner {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Sweep drops expired entries and returns how many went.
func (c *TTL[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired ones included.
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Package lfu implements a least-frequently-used cache with a fixed
// capacity. When the cache is full, inserting a new key evicts the
// entry with the lowest access count (ties broken by insertion order).
package lfu

import "sync"

type entry[K comparable, V any] struct {
	key   K
	value V
	hits  uint64
	seq   uint64
}

// Cache is a fixed-capacity LFU cache. The zero value is not usable;
// use New. Safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	seq      uint64
	entries  map[K]*entry[K, V]

	// OnEvict, if set, is called with each evicted key/value after the
	// cache lock is released. Set before first use.
	OnEvict func(key K, value V)
}

// New creates a cache holding at most capacity entries. Capacity must
// be positive.
func New[K comparable, V any](capacity int) *Cache[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache[K, V]{
		capacity: capacity,
		entries:  make(map[K]*entry[K, V], capacity),
	}
}

// Get returns the value for key and bumps its access count.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	e.hits++
	return e.value, true
}

// Peek returns the value for key without affecting its access count.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put inserts or replaces the value for key, evicting the least
// frequently used entry if the cache is full. Replacing an existing
// key keeps its access count.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.mu.Unlock()
		return
	}

	var evicted *entry[K, V]
	if len(c.entries) >= c.capacity {
		evicted = c.victim()
		delete(c.entries, evicted.key)
	}

	c.seq++
	c.entries[key] = &entry[K, V]{key: key, value: value, seq: c.seq}
	onEvict := c.OnEvict
	c.mu.Unlock()

	if evicted != nil && onEvict != nil {
		onEvict(evicted.key, evicted.value)
	}
}

// victim picks the entry with the fewest hits, oldest first on ties.
// Caller holds the lock.
func (c *Cache[K, V]) victim() *entry[K, V] {
	var v *entry[K, V]
	for _, e := range c.entries {
		if v == nil || e.hits < v.hits || (e.hits == v.hits && e.seq < v.seq) {
			v = e
		}
	}
	return v
}

// Remove deletes key from the cache, returning its value if present.
func (c *Cache[K, V]) Remove(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	delete(c.entries, key)
	return e.value, true
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns the cached keys in unspecified order.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]K, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// Clear removes all entries, invoking OnEvict for each.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[K]*entry[K, V], c.capacity)
	onEvict := c.OnEvict
	c.mu.Unlock()

	if onEvict != nil {
		for _, e := range entries {
			onEvict(e.key, e.value)
		}
	}
}

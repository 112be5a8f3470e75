// Package cache provides a bounded, time-limited memo table. Entries expire
// a fixed TTL after insertion and the least recently used entry is evicted
// once capacity is reached.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Defaults match a week-long memo of up to a thousand resolutions.
const (
	DefaultTTL      = 7 * 24 * time.Hour
	DefaultCapacity = 1000
)

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// Cache is safe for concurrent use. A stored value is returned as-is until
// it expires; Put always replaces the entry wholesale.
type Cache[K comparable, V any] struct {
	mu    sync.Mutex
	lru   *lru.Cache[K, entry[V]]
	ttl   time.Duration
	clock Clock
}

// Option customises a Cache.
type Option func(*options)

type options struct {
	ttl      time.Duration
	capacity int
	clock    Clock
}

// WithTTL sets the lifetime of an entry.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithCapacity bounds the number of entries.
func WithCapacity(n int) Option {
	return func(o *options) { o.capacity = n }
}

// WithClock injects the time source.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// New creates a cache. Non-positive TTL or capacity fall back to the defaults.
func New[K comparable, V any](opts ...Option) *Cache[K, V] {
	o := options{ttl: DefaultTTL, capacity: DefaultCapacity, clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ttl <= 0 {
		o.ttl = DefaultTTL
	}
	if o.capacity <= 0 {
		o.capacity = DefaultCapacity
	}
	if o.clock == nil {
		o.clock = time.Now
	}

	// lru.New only fails for a non-positive size, excluded above.
	l, _ := lru.New[K, entry[V]](o.capacity)
	return &Cache[K, V]{lru: l, ttl: o.ttl, clock: o.clock}
}

// Get returns the live value for key. Expired entries are dropped and
// reported as absent.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	if c.clock().Sub(e.storedAt) >= c.ttl {
		c.lru.Remove(key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores value under key, evicting the least recently used entry if
// the cache is full.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, entry[V]{value: value, storedAt: c.clock()})
}

// Remove drops key if present.
func (c *Cache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Len reports the number of stored entries, including expired ones not yet
// observed by Get.
func (c *Cache[K, V]) Len() int {
	return c.lru.Len()
}

// Purge empties the cache.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// TTL returns the configured entry lifetime.
func (c *Cache[K, V]) TTL() time.Duration {
	return c.ttl
}

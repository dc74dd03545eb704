package cache

import (
	"container/list"
	"sync"
	"time"
)

type ttlEntry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// TTL is a thread-safe cache whose entries expire after a fixed duration.
// When a capacity is set and reached, the oldest entry is evicted.
type TTL[K comparable, V any] struct {
	ttl      time.Duration
	capacity int // 0 means unbounded
	items    map[K]*list.Element
	order    *list.List // front = newest
	mu       sync.Mutex
	now      func() time.Time
}

// NewTTL creates a cache with the given time-to-live. A non-positive ttl
// panics: a zero-TTL cache would silently disable caching and hide
// misconfiguration. capacity <= 0 means unbounded.
func NewTTL[K comparable, V any](ttl time.Duration, capacity int) *TTL[K, V] {
	if ttl <= 0 {
		panic("cache TTL must be positive")
	}
	return &TTL[K, V]{
		ttl:      ttl,
		capacity: capacity,
		items:    make(map[K]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (c *TTL[K, V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get retrieves a value. Expired entries are removed and reported as misses.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}

	entry := elem.Value.(*ttlEntry[K, V])
	if c.now().After(entry.expiresAt) {
		c.removeElement(elem)
		var zero V
		return zero, false
	}
	return entry.value, true
}

// Put adds or replaces a value, resetting its expiry.
func (c *TTL[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*ttlEntry[K, V])
		entry.value = value
		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&ttlEntry[K, V]{key: key, value: value, expiresAt: expiresAt})
	c.items[key] = elem

	if c.capacity > 0 && c.order.Len() > c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
}

// Remove deletes a key. Returns true if the key was present.
func (c *TTL[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(elem)
	return true
}

// Len returns the number of entries, including any not yet swept expired ones.
func (c *TTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Clear removes all entries.
func (c *TTL[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*list.Element)
	c.order.Init()
}

// Must be called with lock held.
func (c *TTL[K, V]) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	entry := elem.Value.(*ttlEntry[K, V])
	delete(c.items, entry.key)
}

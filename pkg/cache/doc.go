// Package cache provides a thread-safe generic TTL cache.
//
// Entries expire after a fixed time-to-live and expired entries behave as
// misses. An optional capacity bound evicts the oldest entry first, which
// keeps memory predictable when the key space is unbounded.
//
// The cache is used on the flag store read path: flag lookups are served
// from here within the TTL window and fall back to the durable store on a
// miss. Writers invalidate synchronously, so a Remove immediately after an
// update guarantees the next read observes fresh state.
//
// Usage:
//
//	c := cache.NewTTL[string, *Flag](5*time.Minute, 1024)
//	if flag, ok := c.Get("new-checkout"); ok {
//		return flag
//	}
//	flag := loadFromStore()
//	c.Put("new-checkout", flag)
package cache

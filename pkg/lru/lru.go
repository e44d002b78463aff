// Package lru implements a bounded, thread-safe LRU cache with optional
// entry expiry and pinned entries that are never evicted.
//
// It backs the in-memory origin shards (pinned = blacklisted origins) and
// the analysis result cache (expiry = cache TTL).
package lru

import (
	"container/list"
	"sync"
	"time"
)

type Cache[K comparable, V any] struct {
	capacity int
	ttl      time.Duration
	clock    func() time.Time

	mu     sync.Mutex
	order  *list.List
	items  map[K]*list.Element
	pinned int
}

type entry[K comparable, V any] struct {
	key     K
	value   V
	expires time.Time
	pinned  bool
}

// New creates a cache holding at most capacity unpinned entries.
func New[K comparable, V any](capacity int) *Cache[K, V] {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Cache[K, V]{
		capacity: capacity,
		clock:    time.Now,
		order:    list.New(),
		items:    make(map[K]*list.Element),
	}
}

// WithTTL makes entries expire ttl after their last Put. clock may be nil.
func (c *Cache[K, V]) WithTTL(ttl time.Duration, clock func() time.Time) *Cache[K, V] {
	c.ttl = ttl
	if clock != nil {
		c.clock = clock
	}
	return c
}

func (c *Cache[K, V]) expired(e *entry[K, V], now time.Time) bool {
	return !e.pinned && !e.expires.IsZero() && !now.Before(e.expires)
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.items[key]
	if !ok {
		return zero, false
	}
	e := elem.Value.(*entry[K, V])
	if c.expired(e, c.clock()) {
		c.remove(elem)
		return zero, false
	}
	c.order.MoveToFront(elem)
	return e.value, true
}

func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if c.ttl > 0 {
		expires = c.clock().Add(c.ttl)
	}

	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry[K, V])
		e.value = value
		e.expires = expires
		c.order.MoveToFront(elem)
		return
	}

	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value, expires: expires})
	c.evict()
}

// Pin excludes key from eviction and expiry. Unknown keys are ignored.
func (c *Cache[K, V]) Pin(key K, pinned bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return
	}
	e := elem.Value.(*entry[K, V])
	if e.pinned == pinned {
		return
	}
	e.pinned = pinned
	if pinned {
		c.pinned++
	} else {
		c.pinned--
		c.evict()
	}
}

func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.remove(elem)
	}
}

// RemoveFunc deletes every entry for which fn returns true and reports how
// many were removed. Expired entries are dropped without consulting fn.
func (c *Cache[K, V]) RemoveFunc(fn func(key K, value V) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	removed := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		e := elem.Value.(*entry[K, V])
		if c.expired(e, now) || fn(e.key, e.value) {
			c.remove(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

// Range visits entries from most to least recently used without touching
// their recency. fn must not call back into the cache.
func (c *Cache[K, V]) Range(fn func(key K, value V) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		e := elem.Value.(*entry[K, V])
		if c.expired(e, now) {
			continue
		}
		if !fn(e.key, e.value) {
			return
		}
	}
}

func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache[K, V]) PinnedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pinned
}

func (c *Cache[K, V]) remove(elem *list.Element) {
	e := elem.Value.(*entry[K, V])
	if e.pinned {
		c.pinned--
	}
	c.order.Remove(elem)
	delete(c.items, e.key)
}

func (c *Cache[K, V]) evict() {
	for c.order.Len()-c.pinned > c.capacity {
		victim := c.order.Back()
		for victim != nil && victim.Value.(*entry[K, V]).pinned {
			victim = victim.Prev()
		}
		if victim == nil {
			return
		}
		c.remove(victim)
	}
}

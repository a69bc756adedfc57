package translate

import (
	"container/list"
	"sync"
	"time"
)

// CachedResult is the value stored in both cache tiers: the final translated
// text only. Partial streamed chunks are never cached, so a poisoned partial
// result cannot exist.
type CachedResult struct {
	Translated string
}

// L1 is the in-memory tier: an LRU of bounded capacity whose entries expire
// after a fixed TTL. Short-held mutex; all operations are O(1).
type L1 struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List // front = most recently used
	entries  map[Key]*list.Element
	now      func() time.Time
}

type l1Entry struct {
	key     Key
	value   CachedResult
	expires time.Time
}

// NewL1 returns an empty L1 with the given capacity and TTL.
func NewL1(capacity int, ttl time.Duration) *L1 {
	return &L1{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		entries:  make(map[Key]*list.Element, capacity),
		now:      time.Now,
	}
}

// Get returns the cached result for key, refreshing its recency. Expired
// entries are removed and reported as misses.
func (c *L1) Get(key Key) (CachedResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return CachedResult{}, false
	}
	entry := el.Value.(*l1Entry)
	if c.now().After(entry.expires) {
		c.order.Remove(el)
		delete(c.entries, key)
		return CachedResult{}, false
	}
	c.order.MoveToFront(el)
	return entry.value, true
}

// Put inserts or refreshes an entry, evicting the least recently used one
// when the cache is full.
func (c *L1) Put(key Key, value CachedResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*l1Entry)
		entry.value = value
		entry.expires = c.now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}

	for c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*l1Entry).key)
	}

	el := c.order.PushFront(&l1Entry{key: key, value: value, expires: c.now().Add(c.ttl)})
	c.entries[key] = el
}

// Len returns the number of live entries, counting ones that have expired
// but not yet been touched.
func (c *L1) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

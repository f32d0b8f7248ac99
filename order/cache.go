package order

import (
	"container/list"
	"sync"
	"time"
)

// expiringCache retains recently untracked orders for a fixed TTL and
// bounded capacity with FIFO eviction, so trailing duplicate or late
// updates still resolve instead of surfacing "order not found".
type expiringCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	entries  map[string]*list.Element
	queue    *list.List // front = oldest
	now      func() time.Time
}

type cacheEntry struct {
	id        string
	order     *Order
	expiresAt time.Time
}

func newExpiringCache(ttl time.Duration, capacity int) *expiringCache {
	return &expiringCache{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		queue:    list.New(),
		now:      time.Now,
	}
}

// put inserts o keyed by id, evicting the oldest entry beyond capacity.
// Re-inserting an existing id refreshes its TTL and moves it to the back.
func (c *expiringCache) put(id string, o *Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()

	if el, ok := c.entries[id]; ok {
		entry := el.Value.(*cacheEntry)
		entry.order = o
		entry.expiresAt = c.now().Add(c.ttl)
		c.queue.MoveToBack(el)
		return
	}
	for c.queue.Len() >= c.capacity {
		c.removeLocked(c.queue.Front())
	}
	el := c.queue.PushBack(&cacheEntry{
		id:        id,
		order:     o,
		expiresAt: c.now().Add(c.ttl),
	})
	c.entries[id] = el
}

// get returns the cached order if present and not expired.
func (c *expiringCache) get(id string) (*Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()

	el, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	return el.Value.(*cacheEntry).order, true
}

// find returns the first cached order matched by the predicate.
func (c *expiringCache) find(match func(*Order) bool) (*Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()

	for el := c.queue.Front(); el != nil; el = el.Next() {
		o := el.Value.(*cacheEntry).order
		if match(o) {
			return o, true
		}
	}
	return nil, false
}

func (c *expiringCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	return c.queue.Len()
}

// pruneLocked drops expired entries from the front of the FIFO queue.
// Entries expire in insertion order, so scanning from the front suffices.
func (c *expiringCache) pruneLocked() {
	now := c.now()
	for el := c.queue.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*cacheEntry).expiresAt.After(now) {
			break
		}
		c.removeLocked(el)
		el = next
	}
}

func (c *expiringCache) removeLocked(el *list.Element) {
	entry := el.Value.(*cacheEntry)
	delete(c.entries, entry.id)
	c.queue.Remove(el)
}

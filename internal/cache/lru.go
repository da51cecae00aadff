// Package cache provides a byte-sized LRU for immutable blob blocks.
// It backs read-through caching of archived segments; nothing on the
// in-memory selection path touches it.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/skim/resource"
)

// Key addresses one cached block of a named blob.
type Key struct {
	Name  string
	Block int64
}

// LRU is a least-recently-used cache bounded by total value bytes. It is
// safe for concurrent use. Cached slices are shared; callers must treat
// them as read-only.
type LRU struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	items     map[Key]*list.Element
	evictList *list.List
	rc        *resource.Controller

	hits   atomic.Int64
	misses atomic.Int64
}

type entry struct {
	key   Key
	value []byte
}

// NewLRU creates a cache holding up to capacity bytes of values. When rc is
// non-nil, cached bytes count against its memory budget and blocks are not
// admitted while the budget is exhausted.
func NewLRU(capacity int64, rc *resource.Controller) *LRU {
	return &LRU{
		capacity:  capacity,
		items:     make(map[Key]*list.Element),
		evictList: list.New(),
		rc:        rc,
	}
}

// Get returns the cached block for key, marking it recently used.
func (c *LRU) Get(key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(e)
		return e.Value.(*entry).value, true
	}
	c.misses.Add(1)
	return nil, false
}

// Set caches a block, evicting least-recently-used blocks as needed.
// Blocks larger than the cache capacity, or denied by the memory budget,
// are silently not cached.
func (c *LRU) Set(key Key, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		ent := e.Value.(*entry)
		oldSize, newSize := int64(len(ent.value)), int64(len(b))
		if newSize > oldSize && !c.rc.TryReserve(newSize-oldSize) {
			// Budget denies the growth; the old value stays.
			c.evictList.MoveToFront(e)
			return
		}
		if newSize < oldSize {
			c.rc.Release(oldSize - newSize)
		}
		ent.value = b
		c.size += newSize - oldSize
		c.evictList.MoveToFront(e)
		c.evict()
		return
	}

	itemSize := int64(len(b))
	if itemSize > c.capacity {
		return
	}

	// Evict before reserving so freed bytes return to the budget first.
	for c.size+itemSize > c.capacity {
		e := c.evictList.Back()
		if e == nil {
			break
		}
		c.removeElement(e)
	}

	if !c.rc.TryReserve(itemSize) {
		return
	}

	c.items[key] = c.evictList.PushFront(&entry{key: key, value: b})
	c.size += itemSize
}

// Invalidate removes entries matching the predicate.
func (c *LRU) Invalidate(predicate func(key Key) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var stale []*list.Element
	for key, e := range c.items {
		if predicate(key) {
			stale = append(stale, e)
		}
	}
	for _, e := range stale {
		c.removeElement(e)
	}
}

// Len returns the number of cached blocks.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// Size returns the cached value bytes.
func (c *LRU) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Stats returns hit and miss counts.
func (c *LRU) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *LRU) evict() {
	for c.size > c.capacity {
		e := c.evictList.Back()
		if e == nil {
			return
		}
		c.removeElement(e)
	}
}

func (c *LRU) removeElement(e *list.Element) {
	c.evictList.Remove(e)
	ent := e.Value.(*entry)
	delete(c.items, ent.key)
	c.size -= int64(len(ent.value))
	c.rc.Release(int64(len(ent.value)))
}

// ABOUTME: Doubly-linked LRU cache of read-only page buffers
// ABOUTME: Grounded on the pack's LRU list pattern for pager read caches

package pager

import (
	"container/list"
	"sync"

	"github.com/nainya/atomkv/pkg/page"
)

type cacheEntry struct {
	id  page.Id
	buf []byte
}

// Cache bounds the number of mmap-backed page slices kept warm, so
// hot pages avoid a fresh slice header allocation per Get.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	index    map[page.Id]*list.Element

	Hits, Misses int64
}

// NewCache creates a cache holding at most capacity entries. A
// capacity of 0 disables caching.
func NewCache(capacity int) *Cache {
	return &Cache{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[page.Id]*list.Element),
	}
}

func (c *Cache) Get(id page.Id) ([]byte, bool) {
	if c.capacity == 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[id]
	if !ok {
		c.Misses++
		return nil, false
	}
	c.Hits++
	c.ll.MoveToFront(elem)
	return elem.Value.(*cacheEntry).buf, true
}

func (c *Cache) Put(id page.Id, buf []byte) {
	if c.capacity == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[id]; ok {
		elem.Value.(*cacheEntry).buf = buf
		c.ll.MoveToFront(elem)
		return
	}

	elem := c.ll.PushFront(&cacheEntry{id: id, buf: buf})
	c.index[id] = elem

	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.index, oldest.Value.(*cacheEntry).id)
	}
}

// Invalidate drops a page that has just been overwritten in place, so
// a stale cached slice can never be served again.
func (c *Cache) Invalidate(id page.Id) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[id]; ok {
		c.ll.Remove(elem)
		delete(c.index, id)
	}
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Clear drops every cached entry, used when the underlying mmap is
// replaced by a new mapping generation so no stale slice into the old
// mapping can be served again.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.index = make(map[page.Id]*list.Element)
}

package zonal

import (
	"sync"

	"github.com/n-mcmanus/wnv-shiny-ERI/internal/geo"
)

// indexCache is a small thread-safe LRU of zone indexes keyed by the spatial
// reference they were projected into.
type indexCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value *zoneIndex
	prev  *entry
	next  *entry
}

func newIndexCache(maxEntries int) *indexCache {
	return &indexCache{
		maxEntries: max(maxEntries, 1),
		entries:    make(map[string]*entry),
	}
}

func (c *indexCache) get(sr string) (*zoneIndex, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[geo.NormalizeSR(sr)]
	if !ok {
		return nil, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *indexCache) put(sr string, value *zoneIndex) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := geo.NormalizeSR(sr)
	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *indexCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *indexCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *indexCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *indexCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *indexCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}

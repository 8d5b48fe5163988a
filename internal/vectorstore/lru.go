package vectorstore

import (
	"container/list"
	"sync"

	"github.com/codescout-dev/codescout/pkg/types"
)

// lruEntry is one node's payload in the L1 cache's list.
type lruEntry struct {
	id       string
	fragment types.VectorFragment
	size     int64
}

// boundedLRU is L1: a hot cache bounded by total approximate byte size
// rather than entry count, keyed by fragment id. Grounded on the teacher's
// preference for small hand-rolled data structures (no LRU micro-library
// appears anywhere in the retrieved pack, so container/list is used
// directly as the teacher would).
type boundedLRU struct {
	mu       sync.Mutex
	maxBytes int64
	curBytes int64
	ll       *list.List
	index    map[string]*list.Element
}

func newBoundedLRU(maxBytes int64) *boundedLRU {
	if maxBytes <= 0 {
		maxBytes = 16 << 20 // 16MiB default hot cache
	}
	return &boundedLRU{
		maxBytes: maxBytes,
		ll:       list.New(),
		index:    make(map[string]*list.Element),
	}
}

func fragmentSize(f types.VectorFragment) int64 {
	n := int64(len(f.ID) + len(f.Title) + len(f.Content) + len(f.FullContent))
	n += int64(len(f.Vector)) * 4
	return n
}

// Get returns the fragment and bumps it to most-recently-used.
func (c *boundedLRU) Get(id string) (types.VectorFragment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[id]
	if !ok {
		return types.VectorFragment{}, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*lruEntry).fragment, true
}

// Put inserts or updates a fragment, evicting least-recently-used entries
// until the cache fits within maxBytes.
func (c *boundedLRU) Put(f types.VectorFragment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := fragmentSize(f)

	if el, ok := c.index[f.ID]; ok {
		old := el.Value.(*lruEntry)
		c.curBytes += size - old.size
		old.fragment = f
		old.size = size
		c.ll.MoveToFront(el)
	} else {
		entry := &lruEntry{id: f.ID, fragment: f, size: size}
		el := c.ll.PushFront(entry)
		c.index[f.ID] = el
		c.curBytes += size
	}

	for c.curBytes > c.maxBytes && c.ll.Len() > 0 {
		back := c.ll.Back()
		if back == nil {
			break
		}
		entry := back.Value.(*lruEntry)
		c.ll.Remove(back)
		delete(c.index, entry.id)
		c.curBytes -= entry.size
	}
}

// Delete removes an id from the cache, if present.
func (c *boundedLRU) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[id]; ok {
		entry := el.Value.(*lruEntry)
		c.ll.Remove(el)
		delete(c.index, id)
		c.curBytes -= entry.size
	}
}

// DeletePrefix removes every cached id with the given prefix.
func (c *boundedLRU) DeletePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*list.Element
	for id, el := range c.index {
		if hasPrefix(id, prefix) {
			toRemove = append(toRemove, el)
		}
	}
	for _, el := range toRemove {
		entry := el.Value.(*lruEntry)
		c.ll.Remove(el)
		delete(c.index, entry.id)
		c.curBytes -= entry.size
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

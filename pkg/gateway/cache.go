package gateway

import (
	"container/list"
	"sync"
	"time"
)

// responseCache is a TTL-aware LRU cache for gateway responses.
// Entries past their deadline are treated as absent and evicted lazily.
type responseCache struct {
	mu         sync.Mutex
	maxEntries int
	ll         *list.List
	entries    map[string]*list.Element
}

type cacheEntry struct {
	key      string
	value    []byte
	deadline time.Time
}

func newResponseCache(maxEntries int) *responseCache {
	return &responseCache{
		maxEntries: maxEntries,
		ll:         list.New(),
		entries:    make(map[string]*list.Element),
	}
}

func (c *responseCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	entry := el.Value.(*cacheEntry)
	if time.Now().After(entry.deadline) {
		c.ll.Remove(el)
		delete(c.entries, key)
		return nil, false
	}

	c.ll.MoveToFront(el)
	return entry.value, true
}

func (c *responseCache) put(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(ttl)

	if el, ok := c.entries[key]; ok {
		c.ll.MoveToFront(el)
		entry := el.Value.(*cacheEntry)
		entry.value = value
		entry.deadline = deadline
		return
	}

	el := c.ll.PushFront(&cacheEntry{key: key, value: value, deadline: deadline})
	c.entries[key] = el

	for c.maxEntries > 0 && c.ll.Len() > c.maxEntries {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *responseCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	key     string
	value   []byte
	expires time.Time
}

// MemoryCache is an LRU cache with per-entry TTL. Expired entries are
// removed lazily on access or when they reach the LRU tail.
type MemoryCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	lru     *list.List
	now     func() time.Time
}

// NewMemoryCache creates a cache holding at most maxSize entries.
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 256
	}

	return &MemoryCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		lru:     list.New(),
		now:     time.Now,
	}
}

// Get returns a copy of the cached value.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, ErrNotFound
	}

	entry := el.Value.(*memoryEntry)
	if !c.now().Before(entry.expires) {
		c.removeElement(el)
		return nil, ErrNotFound
	}

	c.lru.MoveToFront(el)
	return append([]byte(nil), entry.value...), nil
}

// Set stores a copy of value. A non-positive ttl is a no-op.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(ttl)
	stored := append([]byte(nil), value...)

	if el, ok := c.items[key]; ok {
		entry := el.Value.(*memoryEntry)
		entry.value = stored
		entry.expires = expires
		c.lru.MoveToFront(el)
		return nil
	}

	c.items[key] = c.lru.PushFront(&memoryEntry{key: key, value: stored, expires: expires})
	for c.lru.Len() > c.maxSize {
		c.removeElement(c.lru.Back())
	}

	return nil
}

// Delete removes key if present.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
	return nil
}

// Close is a no-op; the cache holds no goroutines.
func (c *MemoryCache) Close() error {
	return nil
}

// Len returns the number of entries, including expired ones not yet evicted.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// caller holds mu
func (c *MemoryCache) removeElement(el *list.Element) {
	c.lru.Remove(el)
	delete(c.items, el.Value.(*memoryEntry).key)
}

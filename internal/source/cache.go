package source

import (
	"sync"
	"time"
)

// cacheEntry holds a cached value.
type cacheEntry[V any] struct {
	value     V
	createdAt time.Time
	expiresAt time.Time
}

// Cache is a size-bounded in-memory TTL cache. When full, the oldest entry
// is evicted.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry[V]
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

// NewCache creates a cache with the given size limit and TTL.
func NewCache[V any](maxSize int, ttl time.Duration) *Cache[V] {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Cache[V]{
		entries: make(map[string]*cacheEntry[V]),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get retrieves an unexpired entry by key.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero V
	entry, ok := c.entries[key]
	if !ok || c.now().After(entry.expiresAt) {
		return zero, false
	}
	return entry.value, true
}

// Set stores a value.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	now := c.now()
	c.entries[key] = &cacheEntry[V]{value: value, createdAt: now, expiresAt: now.Add(c.ttl)}
}

// Size returns the number of entries, expired or not.
func (c *Cache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictOldest removes the oldest entry (by creation time).
func (c *Cache[V]) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.createdAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.createdAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

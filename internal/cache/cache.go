package cache

import (
	"strings"
	"sync"
	"time"
)

type item struct {
	value     string
	expiresAt time.Time
}

// Cache is an in-process TTL key/value store. Expiry is checked lazily on
// read; there is no background sweep. A cold cache only costs latency.
type Cache struct {
	mu    sync.RWMutex
	items map[string]item
	now   func() time.Time
}

func New() *Cache {
	return &Cache{
		items: make(map[string]item),
		now:   time.Now,
	}
}

func (c *Cache) Get(key string) (string, bool) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		return "", false
	}
	if c.now().After(it.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a Put may have raced the expiry.
		if cur, ok := c.items[key]; ok && c.now().After(cur.expiresAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return "", false
	}
	return it.value, true
}

func (c *Cache) Put(key, value string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = item{value: value, expiresAt: c.now().Add(ttl)}
}

func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// InvalidateConversation removes every entry keyed under a conversation.
// Fingerprint-bound keys already self-invalidate on chunk changes; this is
// the belt-and-braces path for explicit refreshes.
func (c *Cache) InvalidateConversation(conversationID string) int {
	prefix := "conversation:" + conversationID + ":"

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.items {
		if strings.HasPrefix(key, prefix) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryCache is the in-process fetch cache used when no Redis server is
// configured
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) GetFeedData(_ context.Context, feedURL string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := GenerateFeedKey(feedURL)
	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}

	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}

	return entry.data, true, nil
}

func (c *MemoryCache) SetFeedData(_ context.Context, feedURL string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[GenerateFeedKey(feedURL)] = memoryEntry{
		data:      append([]byte(nil), data...),
		expiresAt: c.now().Add(ttl),
	}

	return nil
}

func (c *MemoryCache) Health(_ context.Context) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	return map[string]any{
		"status":    "healthy",
		"type":      "memory",
		"key_count": len(c.entries),
	}
}

func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.entries)
	return nil
}

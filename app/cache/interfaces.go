package cache

import (
	"context"
	"time"
)

// Cache stores raw feed payloads keyed by feed URL
type Cache interface {
	GetFeedData(ctx context.Context, feedURL string) ([]byte, bool, error)
	SetFeedData(ctx context.Context, feedURL string, data []byte, ttl time.Duration) error
	Health(ctx context.Context) map[string]any
	Close() error
}

var (
	_ Cache = (*RedisCache)(nil)
	_ Cache = (*MemoryCache)(nil)
)

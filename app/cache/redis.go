package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares fetched feed payloads between processes
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to the Redis server described by redisURL
// (redis://[:password@]host:port/db)
func NewRedisCache(ctx context.Context, redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolSize = 10
	opts.MinIdleConns = 2

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Connected to Redis", "addr", opts.Addr, "db", opts.DB)

	return &RedisCache{client: client}, nil
}

// GetFeedData returns the cached payload for a feed URL. Invalid entries are
// deleted and reported as a miss.
func (c *RedisCache) GetFeedData(ctx context.Context, feedURL string) ([]byte, bool, error) {
	key := GenerateFeedKey(feedURL)

	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	data, ok := decodeEnvelope(raw, feedURL, time.Now())
	if !ok {
		if err := c.client.Del(ctx, key).Err(); err != nil {
			slog.Warn("Failed to delete invalid cache entry", "key", key, "error", err)
		}
		return nil, false, nil
	}

	return data, true, nil
}

// SetFeedData stores a payload with TTL. A non-positive TTL disables caching.
func (c *RedisCache) SetFeedData(ctx context.Context, feedURL string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	key := GenerateFeedKey(feedURL)

	encoded, err := encodeEnvelope(feedURL, data, time.Now(), ttl)
	if err != nil {
		return err
	}

	if err := c.client.Set(ctx, key, encoded, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}

	return nil
}

// Health returns cache health information
func (c *RedisCache) Health(ctx context.Context) map[string]any {
	health := map[string]any{
		"status": "healthy",
		"type":   "redis",
	}

	if err := c.client.Ping(ctx).Err(); err != nil {
		health["status"] = "unhealthy"
		health["error"] = err.Error()
		return health
	}

	if dbSize, err := c.client.DBSize(ctx).Result(); err == nil {
		health["key_count"] = dbSize
	}

	return health
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache is a best-effort TTL key-value store over Redis. Every operation
// degrades to a miss or a no-op when the backend is unavailable; callers
// must treat cache failure as "recompute", never as an error to surface.
type Cache struct {
	rdb    *redis.Client
	logger *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// New connects to Redis and returns a ready Cache. A connection failure is
// returned so the caller can decide to run cacheless via Disabled.
func New(redisURL string, logger *zap.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Cache{rdb: rdb, logger: logger}, nil
}

// Disabled returns a Cache whose every operation is a miss. Used when Redis
// is not configured or unreachable at startup.
func Disabled(logger *zap.Logger) *Cache {
	return &Cache{rdb: nil, logger: logger}
}

// Enabled reports whether a backend is attached.
func (c *Cache) Enabled() bool {
	return c != nil && c.rdb != nil
}

// Get returns the raw cached bytes for key, or ok=false on miss, backend
// error, or disabled cache.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if !c.Enabled() {
		return nil, false
	}
	val, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.misses.Add(1)
		return nil, false
	}
	if err != nil {
		c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return val, true
}

// Stats returns lifetime hit and miss counts for this process.
func (c *Cache) Stats() (hits, misses int64) {
	if c == nil {
		return 0, 0
	}
	return c.hits.Load(), c.misses.Load()
}

// Set stores value under key with the given TTL. Returns false on failure.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	if !c.Enabled() {
		return false
	}
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Delete removes a single key. Returns true when a key was deleted.
func (c *Cache) Delete(ctx context.Context, key string) bool {
	if !c.Enabled() {
		return false
	}
	n, err := c.rdb.Del(ctx, key).Result()
	if err != nil {
		c.logger.Warn("cache delete failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return n > 0
}

// DeletePattern removes every key matching the glob pattern via SCAN and
// returns the number deleted.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) int {
	if !c.Enabled() {
		return 0
	}
	var deleted int
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if c.rdb.Del(ctx, iter.Val()).Val() > 0 {
			deleted++
		}
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("cache pattern scan failed", zap.String("pattern", pattern), zap.Error(err))
	}
	return deleted
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.rdb.Close()
}

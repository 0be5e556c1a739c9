package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quorumlabs/votegrid/pkg/power"
)

// DefaultCacheTTL bounds how long a cached aggregate lives. Keys carry the
// registry fingerprint, so entries superseded by a reweight are never read
// again; the TTL ages them out of Redis.
const DefaultCacheTTL = 24 * time.Hour

// Cache is a Redis-backed read-through cache for aggregate results at points
// strictly below the current one. It can make queries faster, never wronger:
// every Redis failure degrades to a miss and the engine aggregates live.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

// Compile-time interface check.
var _ ResultCache = (*Cache)(nil)

// NewCache creates a cache backed by the Redis instance at addr.
func NewCache(addr, password string, db int) *Cache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Cache{
		client: rdb,
		ttl:    DefaultCacheTTL,
		log:    slog.Default().With("component", "aggregate-cache"),
	}
}

// NewCacheWithClient wraps an existing Redis client. Used in tests.
func NewCacheWithClient(client *redis.Client) *Cache {
	return &Cache{
		client: client,
		ttl:    DefaultCacheTTL,
		log:    slog.Default().With("component", "aggregate-cache"),
	}
}

func cacheKey(fingerprint uint64, call power.CallKind, owner string, at power.Point) string {
	return fmt.Sprintf("votegrid:agg:%016x:%s:%s:%s", fingerprint, call, owner, at)
}

// Get returns the cached aggregate for (call, owner, at) under the given
// registry fingerprint, if any.
func (c *Cache) Get(ctx context.Context, fingerprint uint64, call power.CallKind, owner string, at power.Point) (uint64, bool) {
	key := cacheKey(fingerprint, call, owner, at)
	raw, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, false
	}
	if err != nil {
		c.log.DebugContext(ctx, "cache read failed", "error", err)
		return 0, false
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		c.log.WarnContext(ctx, "cache entry corrupt", "key", key, "value", raw)
		return 0, false
	}
	return v, true
}

// Put stores an aggregate result. Failures are logged and dropped.
func (c *Cache) Put(ctx context.Context, fingerprint uint64, call power.CallKind, owner string, at power.Point, value uint64) {
	key := cacheKey(fingerprint, call, owner, at)
	if err := c.client.Set(ctx, key, strconv.FormatUint(value, 10), c.ttl).Err(); err != nil {
		c.log.DebugContext(ctx, "cache write failed", "key", key, "error", err)
	}
}

// Close releases the underlying Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

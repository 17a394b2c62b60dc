// Package cache wraps Redis for the hot paths that cannot afford a
// database round trip on every request.
package cache

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	sessionRevokedPrefix = "session:revoked:"
	usagePrefix          = "usage:"

	// revocation entries only need to outlive the token TTL
	revocationTTL = 25 * time.Hour
)

// RedisCache caches session revocation state and per-org usage counters.
// Every method degrades gracefully: a Redis outage must never take down
// the API, it only costs us the fast path.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis using REDIS_URL or REDIS_ADDR. Returns
// nil (no cache) when neither is configured.
func NewRedisCache() *RedisCache {
	var opts *redis.Options

	if url := os.Getenv("REDIS_URL"); url != "" {
		parsed, err := redis.ParseURL(url)
		if err != nil {
			log.Printf("⚠️ Invalid REDIS_URL, running without cache: %v", err)
			return nil
		}
		opts = parsed
	} else if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		opts = &redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
		}
	} else {
		log.Println("⚠️ Redis not configured, running without cache")
		return nil
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("⚠️ Redis unreachable, running without cache: %v", err)
		return nil
	}

	log.Println("✅ Redis cache connected")
	return &RedisCache{client: client}
}

// MarkSessionRevoked records a revoked session so token validation can
// reject it without touching the database.
func (c *RedisCache) MarkSessionRevoked(ctx context.Context, sessionID string) {
	if c == nil {
		return
	}
	if err := c.client.Set(ctx, sessionRevokedPrefix+sessionID, "1", revocationTTL).Err(); err != nil {
		log.Printf("⚠️ Failed to cache session revocation: %v", err)
	}
}

// IsSessionRevoked reports whether the session is known revoked. The second
// return value is false when the cache has no answer and the caller must
// fall back to the database.
func (c *RedisCache) IsSessionRevoked(ctx context.Context, sessionID string) (revoked bool, known bool) {
	if c == nil {
		return false, false
	}
	val, err := c.client.Get(ctx, sessionRevokedPrefix+sessionID).Result()
	if err == redis.Nil {
		return false, false
	}
	if err != nil {
		return false, false
	}
	return val == "1", true
}

// CacheSessionValid records a session known good so subsequent validations
// skip the database. Validity entries expire fast so revocations propagate.
func (c *RedisCache) CacheSessionValid(ctx context.Context, sessionID string) {
	if c == nil {
		return
	}
	if err := c.client.Set(ctx, sessionRevokedPrefix+sessionID, "0", 5*time.Minute).Err(); err != nil {
		log.Printf("⚠️ Failed to cache session validity: %v", err)
	}
}

// MarkEventProcessed records a webhook event ID with SETNX. Returns false
// when the event was already seen, so duplicate deliveries short-circuit.
// With no cache every delivery reports first-seen and the caller relies on
// state-based idempotency instead.
func (c *RedisCache) MarkEventProcessed(ctx context.Context, eventID string) bool {
	if c == nil {
		return true
	}
	ok, err := c.client.SetNX(ctx, "webhook:event:"+eventID, "1", 24*time.Hour).Result()
	if err != nil {
		log.Printf("⚠️ Failed to dedupe webhook event: %v", err)
		return true
	}
	return ok
}

// UnmarkEventProcessed releases a dedupe claim taken by MarkEventProcessed.
// Called when applying the event failed, so the sender's retry is not
// mistaken for a duplicate.
func (c *RedisCache) UnmarkEventProcessed(ctx context.Context, eventID string) {
	if c == nil {
		return
	}
	if err := c.client.Del(ctx, "webhook:event:"+eventID).Err(); err != nil {
		log.Printf("⚠️ Failed to release webhook dedupe entry: %v", err)
	}
}

// IncrementUsage bumps a per-org usage counter (memory writes, API calls).
// Counters reset daily.
func (c *RedisCache) IncrementUsage(ctx context.Context, orgID, metric string) int64 {
	if c == nil {
		return 0
	}
	key := fmt.Sprintf("%s%s:%s:%s", usagePrefix, orgID, metric, time.Now().UTC().Format("2006-01-02"))
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("⚠️ Failed to increment usage counter: %v", err)
		return 0
	}
	if count == 1 {
		c.client.Expire(ctx, key, 48*time.Hour)
	}
	return count
}

// GetUsage reads today's value of a per-org usage counter.
func (c *RedisCache) GetUsage(ctx context.Context, orgID, metric string) int64 {
	if c == nil {
		return 0
	}
	key := fmt.Sprintf("%s%s:%s:%s", usagePrefix, orgID, metric, time.Now().UTC().Format("2006-01-02"))
	count, err := c.client.Get(ctx, key).Int64()
	if err != nil {
		return 0
	}
	return count
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

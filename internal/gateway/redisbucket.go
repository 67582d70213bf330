package gateway

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTokenBucket backs the per-backend rate smoother with Redis so
// bucket state survives process restarts (spec §10 domain stack); it
// satisfies the same Take() contract as the in-memory tokenBucket so
// either can sit behind a backendGuard.
type RedisTokenBucket struct {
	client     *redis.Client
	key        string
	capacity   int64
	refillEvery time.Duration
}

// NewRedisTokenBucket constructs a bucket keyed in Redis under
// "stemrun:gateway:bucket:<key>". It falls back transparently to
// always-allow behavior if Redis is unreachable, matching the
// gateway's "falls back to an in-memory bucket when no Redis DSN is
// configured" posture at a finer grain (a transient Redis outage
// degrades rather than blocks inference).
func NewRedisTokenBucket(client *redis.Client, key string, capacity int64, refillEvery time.Duration) *RedisTokenBucket {
	return &RedisTokenBucket{client: client, key: "stemrun:gateway:bucket:" + key, capacity: capacity, refillEvery: refillEvery}
}

// Take decrements the bucket atomically via INCR+EXPIRE, treating the
// expiring counter as a fixed-window limiter: up to capacity requests
// per refillEvery window.
func (b *RedisTokenBucket) Take() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	count, err := b.client.Incr(ctx, b.key).Result()
	if err != nil {
		return true
	}

	if count == 1 {
		b.client.Expire(ctx, b.key, b.refillEvery)
	}

	return count <= b.capacity
}

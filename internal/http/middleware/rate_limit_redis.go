package middleware

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisFixedWindowLimiter keeps window counters in redis so replicas share
// one budget per key. INCR plus a first-write EXPIRE makes the
// check-and-increment atomic across processes.
type RedisFixedWindowLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisFixedWindowLimiter(client redis.UniversalClient, prefix string) *RedisFixedWindowLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisFixedWindowLimiter{client: client, prefix: prefix}
}

func (l *RedisFixedWindowLimiter) Allow(ctx context.Context, key string, policy Policy) (Decision, error) {
	policy = normalizePolicy(policy)
	redisKey := l.prefix + ":" + key

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	// NX: only the request that opens the window sets its expiry.
	pipe.ExpireNX(ctx, redisKey, policy.Window)
	ttl := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, err
	}

	count := incr.Val()
	window := ttl.Val()
	if window < 0 {
		window = policy.Window
	}
	resetAt := time.Now().Add(window)

	if count > int64(policy.MaxRequests) {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: window,
			ResetAt:    resetAt,
		}, nil
	}
	return Decision{
		Allowed:   true,
		Remaining: policy.MaxRequests - int(count),
		ResetAt:   resetAt,
	}, nil
}

package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisLimiter(t *testing.T) (*RedisFixedWindowLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisFixedWindowLimiter(client, "ratelimit"), mr
}

func TestRedisLimiterDeniesOverLimit(t *testing.T) {
	l, _ := newTestRedisLimiter(t)
	policy := Policy{MaxRequests: 3, Window: time.Minute}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "login:10.0.0.1", policy)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d denied under the limit", i+1)
		}
	}

	d, err := l.Allow(ctx, "login:10.0.0.1", policy)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if d.Allowed {
		t.Fatal("fourth request allowed over a 3-request limit")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > policy.Window {
		t.Fatalf("RetryAfter = %v, want within (0, %v]", d.RetryAfter, policy.Window)
	}

	// Separate keys do not share a counter.
	d, err = l.Allow(ctx, "login:10.0.0.2", policy)
	if err != nil || !d.Allowed {
		t.Fatalf("unrelated key = (%+v, %v), want allowed", d, err)
	}
}

func TestRedisLimiterWindowExpires(t *testing.T) {
	l, mr := newTestRedisLimiter(t)
	policy := Policy{MaxRequests: 1, Window: time.Minute}
	ctx := context.Background()

	if d, err := l.Allow(ctx, "k", policy); err != nil || !d.Allowed {
		t.Fatalf("first = (%+v, %v), want allowed", d, err)
	}
	if d, err := l.Allow(ctx, "k", policy); err != nil || d.Allowed {
		t.Fatalf("second = (%+v, %v), want denied", d, err)
	}

	mr.FastForward(61 * time.Second)

	d, err := l.Allow(ctx, "k", policy)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !d.Allowed {
		t.Fatal("request denied after the window expired")
	}
}

func TestRedisLimiterBackendUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	l := NewRedisFixedWindowLimiter(client, "")

	mr.Close()

	if _, err := l.Allow(context.Background(), "k", Policy{MaxRequests: 1, Window: time.Minute}); err == nil {
		t.Fatal("Allow succeeded against a closed backend")
	}
}

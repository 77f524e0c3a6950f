package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/stitchworks/erp-auth/internal/audit"
	"github.com/stitchworks/erp-auth/internal/http/response"
	"github.com/stitchworks/erp-auth/internal/observability"
)

// Decision is the outcome of one rate-limit check, including the metadata
// exposed to clients on both allowed and denied requests.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// Policy is a per-endpoint-class limit: MaxRequests per Window.
type Policy struct {
	MaxRequests int
	Window      time.Duration
}

// Limiter is the check-and-increment primitive. Implementations must make
// the check atomic so two concurrent requests cannot both take the last
// slot. The in-process implementation serves a single instance; the redis
// one coordinates across horizontally scaled replicas.
type Limiter interface {
	Allow(ctx context.Context, key string, policy Policy) (Decision, error)
}

type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

// RateLimiter gates an endpoint class with a Limiter and writes the
// X-RateLimit response contract.
type RateLimiter struct {
	limiter Limiter
	policy  Policy
	mode    FailureMode
	scope   string
	keyFunc func(r *http.Request) string
	auditor *audit.Dispatcher
}

func NewRateLimiter(limiter Limiter, policy Policy, mode FailureMode, scope string, auditor *audit.Dispatcher) *RateLimiter {
	if scope == "" {
		scope = "api"
	}
	return &RateLimiter{
		limiter: limiter,
		policy:  normalizePolicy(policy),
		mode:    mode,
		scope:   scope,
		keyFunc: clientIPKey,
		auditor: auditor,
	}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.scope + ":" + rl.keyFunc(r)
			decision, err := rl.limiter.Allow(r.Context(), key, rl.policy)
			if err != nil {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "backend_error", string(rl.mode))
				if rl.mode == FailOpen {
					slog.Warn("rate limiter backend unavailable, allowing request",
						"scope", rl.scope,
						"error", err.Error(),
					)
					next.ServeHTTP(w, r)
					return
				}
				writeRateLimitHeaders(w.Header(), rl.policy.MaxRequests, 0, time.Now().Add(rl.policy.Window))
				w.Header().Set("Retry-After", retryAfterHeader(rl.policy.Window))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			writeRateLimitHeaders(w.Header(), rl.policy.MaxRequests, decision.Remaining, decision.ResetAt)
			if !decision.Allowed {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "deny", string(rl.mode))
				w.Header().Set("Retry-After", retryAfterHeader(decision.RetryAfter))
				rl.auditor.Emit(audit.Event{
					Action:     audit.ActionRateLimited,
					Resource:   "endpoint",
					ResourceID: rl.scope,
					IPAddress:  clientIPKey(r),
					UserAgent:  r.UserAgent(),
					NewValues:  map[string]any{"retry_after_seconds": int(decision.RetryAfter.Seconds())},
				})
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", map[string]any{
					"retry_after_seconds": int(decision.RetryAfter.Round(time.Second).Seconds()),
				})
				return
			}
			observability.RecordRateLimitDecision(r.Context(), rl.scope, "allow", string(rl.mode))
			next.ServeHTTP(w, r)
		})
	}
}

// bucket is one key's fixed window. Each bucket carries its own expiry so
// one limiter instance can serve policies with different windows.
type bucket struct {
	resetAt time.Time
	count   int
}

// localSweepInterval bounds how often Allow walks the whole store.
const localSweepInterval = time.Minute

// LocalFixedWindowLimiter counts requests per key in fixed windows behind a
// mutex, so check-and-increment is atomic within the process. State is
// per-instance only; use the redis limiter when running replicas.
type LocalFixedWindowLimiter struct {
	mu        sync.Mutex
	store     map[string]*bucket
	nextSweep time.Time
	now       func() time.Time
}

func NewLocalFixedWindowLimiter() *LocalFixedWindowLimiter {
	return &LocalFixedWindowLimiter{
		store: make(map[string]*bucket),
		now:   time.Now,
	}
}

func (l *LocalFixedWindowLimiter) Allow(_ context.Context, key string, policy Policy) (Decision, error) {
	policy = normalizePolicy(policy)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.nextSweep) {
		l.sweepLocked(now)
		l.nextSweep = now.Add(localSweepInterval)
	}

	b, ok := l.store[key]
	if !ok || !now.Before(b.resetAt) {
		// First request for the key, or the previous window elapsed.
		resetAt := now.Add(policy.Window)
		l.store[key] = &bucket{resetAt: resetAt, count: 1}
		return Decision{
			Allowed:   true,
			Remaining: policy.MaxRequests - 1,
			ResetAt:   resetAt,
		}, nil
	}

	if b.count >= policy.MaxRequests {
		// Deny without incrementing past the limit.
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: b.resetAt.Sub(now),
			ResetAt:    b.resetAt,
		}, nil
	}
	b.count++
	return Decision{
		Allowed:   true,
		Remaining: policy.MaxRequests - b.count,
		ResetAt:   b.resetAt,
	}, nil
}

// Sweep drops buckets whose windows have elapsed to bound memory. The
// middleware path sweeps opportunistically; the periodic sweeper calls this
// directly. Live buckets survive regardless of which policy triggered the
// sweep.
func (l *LocalFixedWindowLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked(l.now())
}

func (l *LocalFixedWindowLimiter) sweepLocked(now time.Time) int {
	removed := 0
	for k, b := range l.store {
		if !now.Before(b.resetAt) {
			delete(l.store, k)
			removed++
		}
	}
	return removed
}

func clientIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func retryAfterHeader(d time.Duration) string {
	seconds := int(d.Round(time.Second).Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return fmt.Sprintf("%d", seconds)
}

func writeRateLimitHeaders(h http.Header, limit, remaining int, resetAt time.Time) {
	h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", max(limit, 0)))
	h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", max(remaining, 0)))
	if resetAt.IsZero() {
		resetAt = time.Now().Add(time.Second)
	}
	h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))
}

func normalizePolicy(policy Policy) Policy {
	if policy.MaxRequests <= 0 {
		policy.MaxRequests = 1
	}
	if policy.Window <= 0 {
		policy.Window = time.Minute
	}
	return policy
}

// Package limiter bounds how many submissions a client may make per
// fixed window. Counters are keyed by (client, window id) and expire
// with the window, so bursts across a window boundary are accepted
// behavior rather than a bug.
package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCmds is the slice of the Redis API the limiter uses.
type redisCmds interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	Used       int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter is a fixed-window admission counter.
type Limiter struct {
	redis    redisCmds
	requests int
	window   time.Duration
	now      func() time.Time
}

// New creates a limiter allowing requests per window.
func New(redisClient redisCmds, requests int, window time.Duration) *Limiter {
	return &Limiter{
		redis:    redisClient,
		requests: requests,
		window:   window,
		now:      time.Now,
	}
}

func (l *Limiter) key(clientID string) string {
	windowID := l.now().Unix() / int64(l.window.Seconds())
	return fmt.Sprintf("ratelimit:pipeline:%s:%d", clientID, windowID)
}

// Allow increments the client's window counter atomically and reports
// whether the request is admitted. A Redis failure admits the request;
// availability wins over strictness for an approximate limit.
func (l *Limiter) Allow(ctx context.Context, clientID string) (Decision, error) {
	key := l.key(clientID)

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return Decision{Allowed: true, Remaining: l.requests}, err
	}
	if count == 1 {
		l.redis.Expire(ctx, key, l.window)
	}

	used := int(count)
	remaining := l.requests - used
	if remaining < 0 {
		remaining = 0
	}

	if used > l.requests {
		retryAfter := l.window
		if ttl, err := l.redis.TTL(ctx, key).Result(); err == nil && ttl > 0 {
			retryAfter = ttl
		}
		return Decision{Allowed: false, Used: used, Remaining: 0, RetryAfter: retryAfter}, nil
	}
	return Decision{Allowed: true, Used: used, Remaining: remaining}, nil
}

// Utilization reports the client's current window usage without
// consuming budget.
func (l *Limiter) Utilization(ctx context.Context, clientID string) (used, remaining int) {
	val, err := l.redis.Get(ctx, l.key(clientID)).Int()
	if err != nil {
		return 0, l.requests
	}
	used = val
	remaining = l.requests - used
	if remaining < 0 {
		remaining = 0
	}
	return used, remaining
}

// Limit returns the configured request budget.
func (l *Limiter) Limit() int { return l.requests }

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration { return l.window }

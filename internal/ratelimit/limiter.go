// Package ratelimit throttles repeated attempts at a security-sensitive
// operation by source IP, backed by Redis. Adapted from the teacher's
// internal/auth.RateLimiter (which guarded login attempts) to guard the
// §6 unseal endpoint: each key share is a high-value secret, and an
// attacker who can submit unlimited guesses against /sys/unseal turns a
// Shamir scheme's security margin into a brute-force race.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter counts attempts per key; a key's count expires window after its
// most recently recorded attempt.
type Limiter struct {
	redis      *redis.Client
	prefix     string
	maxAttempt int
	window     time.Duration
}

// New creates a Limiter. maxAttempt is the number of attempts allowed per
// key within window before Check reports Allowed=false.
func New(rdb *redis.Client, prefix string, maxAttempt int, window time.Duration) *Limiter {
	return &Limiter{redis: rdb, prefix: prefix, maxAttempt: maxAttempt, window: window}
}

// Result holds the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	RetryAt   time.Time
}

func (l *Limiter) redisKey(key string) string {
	return fmt.Sprintf("%s:%s", l.prefix, key)
}

// Check returns whether key is currently allowed to attempt the guarded
// operation.
func (l *Limiter) Check(ctx context.Context, key string) (*Result, error) {
	rk := l.redisKey(key)

	count, err := l.redis.Get(ctx, rk).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("checking rate limit: %w", err)
	}

	if count >= l.maxAttempt {
		ttl, err := l.redis.TTL(ctx, rk).Result()
		if err != nil {
			return nil, fmt.Errorf("getting TTL: %w", err)
		}
		return &Result{Allowed: false, Remaining: 0, RetryAt: time.Now().Add(ttl)}, nil
	}

	return &Result{Allowed: true, Remaining: l.maxAttempt - count}, nil
}

// Record records an attempt against key and resets the key's expiry to
// window from now, so the count lapses only once window passes with no
// further recorded attempt.
func (l *Limiter) Record(ctx context.Context, key string) error {
	rk := l.redisKey(key)

	pipe := l.redis.Pipeline()
	incr := pipe.Incr(ctx, rk)
	pipe.Expire(ctx, rk, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording rate limit attempt: %w", err)
	}

	if incr.Val() == 1 {
		l.redis.Expire(ctx, rk, l.window)
	}

	return nil
}

// Reset clears the counter for key, used after a successful attempt.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.redis.Del(ctx, l.redisKey(key)).Err()
}

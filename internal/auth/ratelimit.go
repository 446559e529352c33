package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter limits login attempts per (email, ip) pair using Redis
// INCR + EXPIRE. A lock window, separate from the attempt-count window, is
// applied once the attempt ceiling is exceeded so exceeding it repeatedly
// does not postpone the unlock.
type RateLimiter struct {
	redis       *redis.Client
	maxAttempt  int
	window      time.Duration
	lockWindow  time.Duration
}

// NewRateLimiter creates a rate limiter. maxAttempt is the max failed
// attempts allowed per (email, ip) within window; once exceeded, the key is
// locked for lockWindow.
func NewRateLimiter(rdb *redis.Client, maxAttempt int, window, lockWindow time.Duration) *RateLimiter {
	return &RateLimiter{
		redis:      rdb,
		maxAttempt: maxAttempt,
		window:     window,
		lockWindow: lockWindow,
	}
}

// RateLimitResult holds the result of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	RetryAt   time.Time
}

func loginKey(email, ip string) string {
	return fmt.Sprintf("login_ratelimit:%s:%s", strings.ToLower(email), ip)
}

func lockKey(email, ip string) string {
	return fmt.Sprintf("login_lock:%s:%s", strings.ToLower(email), ip)
}

// Check returns whether the given (email, ip) pair is allowed to attempt a login.
func (rl *RateLimiter) Check(ctx context.Context, email, ip string) (*RateLimitResult, error) {
	lk := lockKey(email, ip)

	ttl, err := rl.redis.TTL(ctx, lk).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("checking lock: %w", err)
	}
	if ttl > 0 {
		return &RateLimitResult{Allowed: false, Remaining: 0, RetryAt: time.Now().Add(ttl)}, nil
	}

	count, err := rl.redis.Get(ctx, loginKey(email, ip)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("checking rate limit: %w", err)
	}

	if count >= rl.maxAttempt {
		return &RateLimitResult{Allowed: false, Remaining: 0, RetryAt: time.Now().Add(rl.lockWindow)}, nil
	}

	return &RateLimitResult{
		Allowed:   true,
		Remaining: rl.maxAttempt - count,
	}, nil
}

// Record records a failed login attempt for the given (email, ip) pair. Once
// the attempt ceiling is reached, the pair is locked for lockWindow.
func (rl *RateLimiter) Record(ctx context.Context, email, ip string) error {
	key := loginKey(email, ip)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording rate limit: %w", err)
	}

	if incr.Val() >= int64(rl.maxAttempt) {
		if err := rl.redis.Set(ctx, lockKey(email, ip), 1, rl.lockWindow).Err(); err != nil {
			return fmt.Errorf("locking key: %w", err)
		}
	}

	return nil
}

// Reset clears the rate limit counter and lock for a (email, ip) pair (on
// successful login).
func (rl *RateLimiter) Reset(ctx context.Context, email, ip string) error {
	return rl.redis.Del(ctx, loginKey(email, ip), lockKey(email, ip)).Err()
}

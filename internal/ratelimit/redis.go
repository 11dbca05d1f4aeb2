package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares one budget across processes: a user connected to
// several instances still consumes a single window. Counters live in
// keys scoped to the current window and expire with it.
type RedisLimiter struct {
	rdb *redis.Client
	cfg Config
	now func() time.Time
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(rdb *redis.Client, cfg Config) *RedisLimiter {
	if cfg.Window <= 0 {
		cfg = DefaultConfig()
	}
	return &RedisLimiter{rdb: rdb, cfg: cfg, now: time.Now}
}

func (l *RedisLimiter) keys(userID string, now time.Time) (msgKey, tokKey string) {
	bucket := now.UnixNano() / int64(l.cfg.Window)
	msgKey = fmt.Sprintf("rl:%s:%d:msg", userID, bucket)
	tokKey = fmt.Sprintf("rl:%s:%d:tok", userID, bucket)
	return msgKey, tokKey
}

func (l *RedisLimiter) retryAfter(now time.Time) time.Duration {
	bucket := now.UnixNano() / int64(l.cfg.Window)
	next := (bucket + 1) * int64(l.cfg.Window)
	return time.Duration(next-now.UnixNano()) + time.Second
}

// AllowMessage implements Limiter via INCR + EXPIRE in one pipeline.
func (l *RedisLimiter) AllowMessage(ctx context.Context, userID string) (Decision, error) {
	now := l.now()
	msgKey, tokKey := l.keys(userID, now)

	pipe := l.rdb.Pipeline()
	incr := pipe.Incr(ctx, msgKey)
	pipe.Expire(ctx, msgKey, 2*l.cfg.Window)
	tok := pipe.Get(ctx, tokKey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return Decision{}, fmt.Errorf("rate limit check: %w", err)
	}

	if l.cfg.TokensPerWindow > 0 {
		if used, err := tok.Int64(); err == nil && used >= l.cfg.TokensPerWindow {
			return Decision{Allowed: false, RetryAfter: l.retryAfter(now)}, nil
		}
	}
	if incr.Val() > l.cfg.MessagesPerWindow {
		return Decision{Allowed: false, RetryAfter: l.retryAfter(now)}, nil
	}
	return Decision{Allowed: true}, nil
}

// AddTokens implements Limiter.
func (l *RedisLimiter) AddTokens(ctx context.Context, userID string, n int) error {
	if n <= 0 {
		return nil
	}
	_, tokKey := l.keys(userID, l.now())
	pipe := l.rdb.Pipeline()
	pipe.IncrBy(ctx, tokKey, int64(n))
	pipe.Expire(ctx, tokKey, 2*l.cfg.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rate limit token accounting: %w", err)
	}
	return nil
}

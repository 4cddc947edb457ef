package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig defines rate limiting parameters for the public API.
type RateLimitConfig struct {
	Limit  int           // Maximum requests allowed per client
	Window time.Duration // Sliding window length
}

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the wait before the next request can be admitted.
func (r *RateLimitResult) RetryAfter(now time.Time) time.Duration {
	if r.Allowed {
		return 0
	}
	d := r.ResetAt.Sub(now)
	if d < time.Second {
		return time.Second
	}
	return d.Truncate(time.Second)
}

// RateLimiter is a sliding-window limiter over a Redis sorted set per client.
type RateLimiter struct {
	client *Client
	logger *zap.Logger
	config RateLimitConfig
	now    func() time.Time
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(client *Client, logger *zap.Logger, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		client: client,
		logger: logger,
		config: config,
		now:    time.Now,
	}
}

// Allow checks whether one more request from key fits in the window.
func (r *RateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	return r.AllowN(ctx, key, 1)
}

// AllowN checks whether n more requests from key fit in the window and,
// if so, records them.
func (r *RateLimiter) AllowN(ctx context.Context, key string, n int) (*RateLimitResult, error) {
	now := r.now()
	windowStart := now.Add(-r.config.Window)
	redisKey := r.client.key("ratelimit", key)

	pipe := r.client.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, redisKey)
	oldestCmd := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis pipeline failed: %w", err)
	}

	current := int(countCmd.Val())
	result := &RateLimitResult{
		Limit:     r.config.Limit,
		Remaining: max(0, r.config.Limit-current),
		ResetAt:   now.Add(r.config.Window),
	}
	if oldest := oldestCmd.Val(); len(oldest) > 0 {
		result.ResetAt = time.Unix(0, int64(oldest[0].Score)).Add(r.config.Window)
	}

	if current+n > r.config.Limit {
		r.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int("current", current),
			zap.Int("limit", r.config.Limit),
		)
		return result, nil
	}

	members := make([]redis.Z, n)
	for i := range members {
		members[i] = redis.Z{
			Score:  float64(now.UnixNano() + int64(i)),
			Member: fmt.Sprintf("%d-%d", now.UnixNano(), i),
		}
	}

	add := r.client.rdb.Pipeline()
	add.ZAdd(ctx, redisKey, members...)
	add.Expire(ctx, redisKey, r.config.Window+time.Second)
	if _, err := add.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis zadd failed: %w", err)
	}

	result.Allowed = true
	result.Remaining = r.config.Limit - current - n
	return result, nil
}

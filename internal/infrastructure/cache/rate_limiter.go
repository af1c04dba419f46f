package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimiter bounds webhook ingress per sender.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// redisRateLimiter implements RateLimiter using Redis sorted sets for
// sliding window rate limiting
type redisRateLimiter struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisRateLimiter creates a new Redis-based rate limiter
func NewRedisRateLimiter(client *redis.Client, logger *zap.Logger) RateLimiter {
	return &redisRateLimiter{
		client: client,
		logger: logger,
	}
}

// Allow checks if a request is allowed under the rate limit using a sliding
// window algorithm
func (r *redisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	windowStart := now.Add(-window)

	rateLimitKey := RateLimitPrefix + key

	pipe := r.client.Pipeline()

	// Remove expired entries
	pipe.ZRemRangeByScore(ctx, rateLimitKey, "-inf", strconv.FormatInt(windowStart.UnixNano(), 10))

	// Count current entries in window
	countCmd := pipe.ZCard(ctx, rateLimitKey)

	// Add current request timestamp
	requestID := fmt.Sprintf("%d-%d", now.UnixNano(), now.Nanosecond()%1000)
	pipe.ZAdd(ctx, rateLimitKey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: requestID,
	})

	pipe.Expire(ctx, rateLimitKey, window+time.Minute)

	_, err := pipe.Exec(ctx)
	if err != nil {
		r.logger.Error("rate limiter pipeline failed",
			zap.String("key", key),
			zap.Int("limit", limit),
			zap.Duration("window", window),
			zap.Error(err))
		return false, fmt.Errorf("rate limiter pipeline failed: %w", err)
	}

	// Count is taken before the current request was added
	currentCount := countCmd.Val()
	allowed := currentCount < int64(limit)

	if !allowed {
		// Remove the request we just added since it's not allowed
		r.client.ZRem(ctx, rateLimitKey, requestID)

		r.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int64("current_count", currentCount),
			zap.Int("limit", limit),
			zap.Duration("window", window))

		return false, nil
	}

	return true, nil
}

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const rateLimitWindow = 24 * time.Hour

// RateLimiter gates poll creation per visitor. Allow reports whether the action
// may proceed and, when denied, how long until the window resets.
type RateLimiter interface {
	Allow(ctx context.Context, userID string) (bool, time.Duration, error)
}

// RedisRateLimiter counts poll creations per visitor in Redis with a daily
// expiry on first use of the window.
type RedisRateLimiter struct {
	client *redis.Client
	prefix string
	limit  int64
}

// NewRedisRateLimiter constructs a limiter allowing limit creations per visitor per day.
func NewRedisRateLimiter(client *redis.Client, limit int) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: client,
		prefix: "pollwave:create",
		limit:  int64(limit),
	}
}

// Allow increments the visitor's window counter and compares it to the limit.
func (l *RedisRateLimiter) Allow(ctx context.Context, userID string) (bool, time.Duration, error) {
	key := l.prefix + ":" + userID

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, rateLimitWindow).Err(); err != nil {
			return false, 0, err
		}
	}
	if count > l.limit {
		retryAfter, err := l.client.TTL(ctx, key).Result()
		if err != nil {
			retryAfter = rateLimitWindow
		}
		return false, retryAfter, nil
	}
	return true, 0, nil
}

// rateLimitMiddleware rejects poll creation once the visitor's daily budget is
// spent. Limiter outages fail open.
func rateLimitMiddleware(limiter RateLimiter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		visitorID := c.GetString(visitorContextKey)
		if visitorID == "" {
			c.Next()
			return
		}

		allowed, retryAfter, err := limiter.Allow(c.Request.Context(), visitorID)
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":         "rate_limit_exceeded",
				"retry_after_s": int64(retryAfter.Seconds()),
			})
			return
		}

		c.Next()
	}
}

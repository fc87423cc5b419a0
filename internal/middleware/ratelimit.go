package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/auth-api/pkg/response"
)

// RateLimiter throttles requests per client using Redis fixed windows.
// Brute-force throttling lives at the transport boundary rather than
// inside the credential service.
type RateLimiter struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRateLimiter builds a limiter backed by the given Redis client.
func NewRateLimiter(client *redis.Client, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{client: client, logger: logger}
}

// Limit returns middleware enforcing max requests per window, keyed by
// client IP under the given scope. When Redis is unreachable the limiter
// fails open: availability over strictness.
func (rl *RateLimiter) Limit(scope string, max int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.client == nil || max <= 0 {
			c.Next()
			return
		}

		key := fmt.Sprintf("ratelimit:%s:%s", scope, c.ClientIP())

		count, err := rl.client.Incr(c.Request.Context(), key).Result()
		if err != nil {
			rl.logger.Warn("rate limiter unavailable", zap.String("scope", scope), zap.Error(err))
			c.Next()
			return
		}
		if count == 1 {
			if err := rl.client.Expire(c.Request.Context(), key, window).Err(); err != nil {
				rl.logger.Warn("failed to set rate limit window", zap.String("scope", scope), zap.Error(err))
			}
		}

		if count > int64(max) {
			c.Header("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			c.JSON(http.StatusTooManyRequests, response.Envelope{
				Success: false,
				Message: "too many requests, try again later",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/collabfabric/engine/internal/cache"
	"github.com/collabfabric/engine/internal/logger"
)

// RedisRateLimitMiddleware creates a distributed rate limiter using Redis,
// so the limit holds across every engine instance serving a client's
// requests rather than just the one instance that happened to receive
// them.
func RedisRateLimitMiddleware(maxRequests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		redisClient := cache.GetRedisClient()
		if redisClient == nil {
			logger.Log.Warn("Redis rate limiter unavailable, allowing request")
			c.Next()
			return
		}

		clientIP := getClientIP(c.Request.RemoteAddr)
		key := fmt.Sprintf("rate_limit:%s", clientIP)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		val, err := redisClient.GetInt(ctx, key)
		if err != nil && err.Error() != "redis: nil" {
			logger.Log.Error("rate limit check failed, rejecting request",
				zap.String("client_ip", clientIP),
				zap.Error(err),
			)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service temporarily unavailable"})
			return
		}

		if val >= int64(maxRequests) {
			logger.Log.Warn("rate limit exceeded",
				logger.WithIP(clientIP),
				zap.Int("max_requests", maxRequests),
				zap.Int64("current_requests", val),
			)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": window.Seconds(),
			})
			return
		}

		newVal, err := redisClient.IncrBy(ctx, key, 1)
		if err != nil {
			logger.Log.Error("rate limit increment failed, rejecting request",
				zap.String("client_ip", clientIP),
				zap.Error(err),
			)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service temporarily unavailable"})
			return
		}

		if newVal == 1 {
			if err := redisClient.Expire(ctx, key, window); err != nil {
				logger.Log.Warn("failed to set rate limit expiration",
					zap.String("client_ip", clientIP),
					zap.Error(err),
				)
			}
		}

		c.Next()
	}
}

func getClientIP(remoteAddr string) string {
	if ip, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return ip
	}
	return remoteAddr
}

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	redisstate "impostor-game/internal/infra/state/redis"
)

// RateLimit 返回一个 Gin 中间件，按客户端 IP 做固定窗口限流，计数器存放在 Redis，多实例共享。
func RateLimit(redisClient *redis.Client, keyPrefix string, maxRequests int, window time.Duration) gin.HandlerFunc {
	if redisClient == nil {
		panic("Redis client cannot be nil for RateLimit middleware")
	}
	if maxRequests <= 0 {
		panic("maxRequests must be positive for RateLimit middleware")
	}
	if window <= 0 {
		panic("window duration must be positive for RateLimit middleware")
	}
	keys := redisstate.NewKeys(keyPrefix)

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := keys.RateLimit(c.ClientIP())

		// 只在窗口第一次请求时设置过期，窗口不会被持续请求无限延长
		count, err := redisClient.Incr(ctx, key).Result()
		if err == nil && count == 1 {
			err = redisClient.Expire(ctx, key, window).Err()
		}
		if err != nil {
			logrus.WithError(err).Error("RateLimit: Redis INCR/EXPIRE failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Rate limiting error"})
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		remaining := int64(maxRequests) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(maxRequests) {
			logrus.WithField("client_ip", c.ClientIP()).Warn("RateLimit: too many requests")
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			c.Abort()
			return
		}
		c.Next()
	}
}

package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimit is a fixed-window per-key limiter backed by redis, shared across
// instances. The key is the counterparty address header when present,
// otherwise the caller IP.
func RateLimit(client *redis.Client, limit int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get("X-REQUEST-SENDER-ADDRESS")
		if key == "" {
			key = c.IP()
		}
		bucket := fmt.Sprintf("ratelimit:%s:%d", key, time.Now().Unix()/int64(window.Seconds()))

		count, err := client.Incr(c.Context(), bucket).Result()
		if err != nil {
			// Redis being down must not take the endpoint with it.
			return c.Next()
		}
		if count == 1 {
			client.Expire(c.Context(), bucket, window)
		}
		if count > int64(limit) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}
		return c.Next()
	}
}

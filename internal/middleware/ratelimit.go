package middleware

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/recapbook/api/pkg/response"
)

type RateLimiter struct {
	redis *redis.Client
}

func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{redis: redisClient}
}

// Limit creates a fixed-window rate limiting middleware keyed by principal,
// or by client IP for anonymous requests.
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if maxRequests <= 0 {
			return c.Next()
		}

		subject := GetUserID(c)
		if subject == "" {
			subject = "ip:" + c.IP()
		}
		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, subject)
		ctx := context.Background()

		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			// Redis down: allow the request
			log.Printf("Warning: rate limiter unavailable: %v", err)
			return c.Next()
		}

		// a counter without an expiry would never reset; this also repairs
		// keys whose first EXPIRE was lost
		ttl, err := rl.redis.TTL(ctx, key).Result()
		if err != nil || ttl < 0 {
			ttl = window
			if err := rl.redis.Expire(ctx, key, window).Err(); err != nil {
				log.Printf("Warning: failed to set rate limit window on %s: %v", key, err)
			}
		}

		if count > int64(maxRequests) {
			c.Set("Retry-After", fmt.Sprintf("%d", int(ttl.Seconds())))
			return response.RateLimited(c)
		}

		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", maxRequests))
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", maxRequests-int(count)))
		return c.Next()
	}
}

// BuildLimit returns a rate limiter for build starts
func (rl *RateLimiter) BuildLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("build", maxPerHour, time.Hour)
}

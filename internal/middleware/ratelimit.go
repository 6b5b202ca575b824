package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"marketplace/internal/cache"
	"marketplace/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// Limiter counts requests per client in fixed windows. With a Redis client
// the counters are shared across instances, otherwise they live in memory.
type Limiter struct {
	rdb *redis.Client
	log *slog.Logger
	now func() time.Time

	mu      sync.Mutex
	windows map[string]window
}

type window struct {
	count   int
	resetAt time.Time
}

// NewLimiter creates a limiter. rdb may be nil.
func NewLimiter(rdb *redis.Client, log *slog.Logger) *Limiter {
	if log == nil {
		log = slog.Default()
	}
	return &Limiter{rdb: rdb, log: log, now: time.Now, windows: make(map[string]window)}
}

// Allow records one request of client against action and reports whether
// it is within limit for the current window.
func (l *Limiter) Allow(ctx context.Context, action, client string, limit int, win time.Duration) (bool, error) {
	key := cache.RateLimitKey(action, client)
	if l.rdb == nil {
		return l.allowLocal(key, limit, win), nil
	}

	cnt, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}
	if cnt == 1 {
		l.rdb.Expire(ctx, key, win)
	}
	return cnt <= int64(limit), nil
}

func (l *Limiter) allowLocal(key string, limit int, win time.Duration) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windows[key]
	if !now.Before(w.resetAt) {
		w = window{resetAt: now.Add(win)}
	}
	w.count++
	l.windows[key] = w
	return w.count <= limit
}

// RateLimit enforces limit requests per window for one action. Clients are
// keyed by user id when signed in, otherwise by remote IP. Store failures
// let the request through.
func RateLimit(l *Limiter, action string, limit int, win time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if limit <= 0 {
			return c.Next()
		}
		client := "ip:" + c.IP()
		if uid, ok := c.Locals(LocalUserID).(string); ok && uid != "" {
			client = "user:" + uid
		}

		allowed, err := l.Allow(c.UserContext(), action, client, limit, win)
		if err != nil {
			l.log.WarnContext(c.UserContext(), "rate limit unavailable", "action", action, "err", err)
			return c.Next()
		}
		if !allowed {
			return c.Status(fiber.StatusTooManyRequests).JSON(models.ErrorResponse{
				Error: "Too many requests. Please try again later.",
				Code:  models.CodeRateLimited,
			})
		}
		return c.Next()
	}
}

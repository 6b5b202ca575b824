// Package middleware provides the fiber middleware of the HTTP surface:
// request context and logging, session authentication, rate limiting and
// tracing.
package middleware

import (
	"context"
	"log/slog"
	"time"

	"marketplace/internal/observability"

	"github.com/gofiber/fiber/v2"
)

// Fiber locals set by the middleware.
const (
	LocalRequestID = "requestid"
	LocalUserID    = "userID"
	LocalSession   = "session"
	LocalTraceID   = "traceID"
)

// ContextMiddleware copies request id, user id and trace id from fiber
// locals into the request context so the context-aware logger sees them.
func ContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.SetUserContext(enrich(c, c.UserContext()))
		return c.Next()
	}
}

func enrich(c *fiber.Ctx, ctx context.Context) context.Context {
	if rid, ok := c.Locals(LocalRequestID).(string); ok && rid != "" {
		ctx = context.WithValue(ctx, observability.RequestIDKey, rid)
	}
	if uid, ok := c.Locals(LocalUserID).(string); ok && uid != "" {
		ctx = observability.WithUserID(ctx, uid)
	}
	if tid, ok := c.Locals(LocalTraceID).(string); ok && tid != "" {
		ctx = context.WithValue(ctx, observability.TraceIDKey, tid)
	}
	return ctx
}

// StructuredLogger logs one line per request with status and latency.
func StructuredLogger(log *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		fields := []any{
			slog.Int("status", c.Response().StatusCode()),
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.String("ip", c.IP()),
			slog.Duration("latency", time.Since(start)),
		}
		ctx := enrich(c, c.UserContext())
		if err != nil {
			fields = append(fields, slog.String("error", err.Error()))
			log.ErrorContext(ctx, "request failed", fields...)
		} else {
			log.InfoContext(ctx, "request processed", fields...)
		}
		return err
	}
}

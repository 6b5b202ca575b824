package middleware

import (
	"strings"

	"marketplace/internal/auth"
	"marketplace/internal/models"
	"marketplace/internal/observability"

	"github.com/gofiber/fiber/v2"
)

// bearerToken reads the token from the Authorization header, falling back
// to the token query parameter used by websocket clients.
func bearerToken(c *fiber.Ctx) string {
	if header := c.Get(fiber.HeaderAuthorization); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return c.Query("token")
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(models.ErrorResponse{
		Error: msg,
		Code:  models.CodeUnauthorized,
	})
}

// Authenticate attaches the caller's session when a valid token is sent.
// With required set, requests without a valid session are rejected.
func Authenticate(provider auth.Provider, required bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			if required {
				return unauthorized(c, "Authorization required")
			}
			return c.Next()
		}

		session, err := provider.VerifyToken(c.UserContext(), token)
		if err != nil {
			if required {
				return unauthorized(c, "Invalid or expired session")
			}
			return c.Next()
		}

		c.Locals(LocalUserID, session.Identity.UID)
		c.Locals(LocalSession, session)
		ctx := auth.WithSession(c.UserContext(), session)
		c.SetUserContext(observability.WithUserID(ctx, session.Identity.UID))
		return c.Next()
	}
}

// SessionFrom returns the session attached by Authenticate, or nil.
func SessionFrom(c *fiber.Ctx) *auth.Session {
	s, _ := c.Locals(LocalSession).(*auth.Session)
	return s
}

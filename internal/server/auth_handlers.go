package server

import (
	"context"
	"time"

	"marketplace/internal/auth"
	"marketplace/internal/models"

	"github.com/gofiber/fiber/v2"
)

// Implemented by providers that handle their own mail links.
type emailConfirmer interface {
	ConfirmEmail(ctx context.Context, token string) error
}

type passwordResetter interface {
	ResetPassword(ctx context.Context, token, newPassword string) error
}

// LoginResponse is returned on successful login.
type LoginResponse struct {
	Token     string    `json:"token"`
	UID       string    `json:"uid"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login handles POST /api/auth/login
func (s *Server) Login(c *fiber.Ctx) error {
	var req struct {
		LoginID  string `json:"login_id"`
		Password string `json:"password"`
	}
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}

	session, err := s.accounts.Login(c.UserContext(), req.LoginID, req.Password)
	if err != nil {
		return s.respondWithError(c, err)
	}
	return c.JSON(LoginResponse{
		Token:     session.Token,
		UID:       session.Identity.UID,
		Email:     session.Identity.Email,
		ExpiresAt: session.ExpiresAt,
	})
}

// Logout handles POST /api/auth/logout
func (s *Server) Logout(c *fiber.Ctx) error {
	if err := s.accounts.Logout(c.UserContext()); err != nil {
		return s.respondWithError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// FindLoginID handles POST /api/auth/find-id
func (s *Server) FindLoginID(c *fiber.Ctx) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}

	loginID, err := s.accounts.FindLoginID(c.UserContext(), req.Email)
	if err != nil {
		return s.respondWithError(c, err)
	}
	return c.JSON(fiber.Map{"login_id": loginID})
}

// RequestPasswordReset handles POST /api/auth/reset-password
func (s *Server) RequestPasswordReset(c *fiber.Ctx) error {
	var req struct {
		LoginID string `json:"login_id"`
		Email   string `json:"email"`
	}
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}

	if err := s.accounts.ResetPassword(c.UserContext(), req.LoginID, req.Email); err != nil {
		return s.respondWithError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"sent": true})
}

// ConfirmPasswordReset handles POST /api/auth/reset-password/confirm
func (s *Server) ConfirmPasswordReset(c *fiber.Ctx) error {
	resetter, ok := s.provider.(passwordResetter)
	if !ok {
		return fiber.ErrNotFound
	}
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}

	if err := resetter.ResetPassword(c.UserContext(), req.Token, req.Password); err != nil {
		if auth.CategoryOf(err) == auth.CategoryWeakCredential {
			return s.respondWithError(c, err)
		}
		return s.respondWithError(c, models.NewValidationError("This reset link is invalid or has expired."))
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// VerifyEmail handles GET /api/auth/verify-email, the target of the links
// mailed by the self-hosted provider.
func (s *Server) VerifyEmail(c *fiber.Ctx) error {
	confirmer, ok := s.provider.(emailConfirmer)
	if !ok {
		return fiber.ErrNotFound
	}
	if err := confirmer.ConfirmEmail(c.UserContext(), c.Query("token")); err != nil {
		s.log.InfoContext(c.UserContext(), "email verification rejected", "err", err)
		return s.respondWithError(c, models.NewValidationError("This verification link is invalid or has expired."))
	}
	return c.JSON(fiber.Map{"verified": true})
}

// GetMe handles GET /api/me
func (s *Server) GetMe(c *fiber.Ctx) error {
	page, err := s.accounts.Me(c.UserContext())
	if err != nil {
		return s.respondWithError(c, err)
	}
	return c.JSON(page)
}

// GetFeatures handles GET /api/features
func (s *Server) GetFeatures(c *fiber.Ctx) error {
	return c.JSON(s.flags.Snapshot(callerUID(c)))
}

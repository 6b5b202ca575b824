package server

import (
	"context"

	"marketplace/internal/models"
	"marketplace/internal/signup"

	"github.com/gofiber/fiber/v2"
)

// SignupResponse is returned by every signup step. OK reports whether the
// step succeeded; the draft carries the per-field errors and messages.
type SignupResponse struct {
	OK    bool        `json:"ok"`
	Draft signup.View `json:"draft"`
}

// StartSignup handles POST /api/signup/drafts
func (s *Server) StartSignup(c *fiber.Ctx) error {
	var req struct {
		ID string `json:"id"`
	}
	if len(c.Body()) > 0 {
		if err := s.parseBody(c, &req); err != nil {
			return nil
		}
	}

	d, err := s.signup.Start(c.UserContext(), req.ID)
	if err != nil {
		return s.respondWithError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(SignupResponse{OK: true, Draft: d.View()})
}

// GetSignup handles GET /api/signup/drafts/:id
func (s *Server) GetSignup(c *fiber.Ctx) error {
	d, err := s.signup.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.respondWithError(c, err)
	}
	return c.JSON(SignupResponse{OK: true, Draft: d.View()})
}

// DiscardSignup handles DELETE /api/signup/drafts/:id
func (s *Server) DiscardSignup(c *fiber.Ctx) error {
	if err := s.signup.Discard(c.UserContext(), c.Params("id")); err != nil {
		return s.respondWithError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// SetSignupField handles PUT /api/signup/drafts/:id/fields/:field
func (s *Server) SetSignupField(c *fiber.Ctx) error {
	field, err := s.signupField(c)
	if err != nil {
		return nil
	}
	var req struct {
		Value string `json:"value"`
	}
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}
	return s.runSignup(c, func(_ context.Context, f *signup.Flow) bool {
		return f.SetField(field, req.Value)
	})
}

// ValidateSignupField handles POST /api/signup/drafts/:id/fields/:field/validate
func (s *Server) ValidateSignupField(c *fiber.Ctx) error {
	field, err := s.signupField(c)
	if err != nil {
		return nil
	}
	return s.runSignup(c, func(_ context.Context, f *signup.Flow) bool {
		return f.Validate(field)
	})
}

// CheckSignupField handles POST /api/signup/drafts/:id/fields/:field/check
func (s *Server) CheckSignupField(c *fiber.Ctx) error {
	field, err := s.signupField(c)
	if err != nil {
		return nil
	}
	return s.runSignup(c, func(ctx context.Context, f *signup.Flow) bool {
		return f.CheckDuplicate(ctx, field)
	})
}

// SendVerification handles POST /api/signup/drafts/:id/verification
func (s *Server) SendVerification(c *fiber.Ctx) error {
	return s.runSignup(c, func(ctx context.Context, f *signup.Flow) bool {
		return f.SendVerification(ctx)
	})
}

// CheckVerification handles POST /api/signup/drafts/:id/verification/check
func (s *Server) CheckVerification(c *fiber.Ctx) error {
	return s.runSignup(c, func(ctx context.Context, f *signup.Flow) bool {
		return f.CheckVerification(ctx)
	})
}

// CompleteSignup handles POST /api/signup/drafts/:id/complete
func (s *Server) CompleteSignup(c *fiber.Ctx) error {
	return s.runSignup(c, func(ctx context.Context, f *signup.Flow) bool {
		return f.FinalSignup(ctx)
	})
}

func (s *Server) runSignup(c *fiber.Ctx, op func(context.Context, *signup.Flow) bool) error {
	d, ok, err := s.signup.Do(c.UserContext(), c.Params("id"), op)
	if err != nil {
		return s.respondWithError(c, err)
	}
	return c.JSON(SignupResponse{OK: ok, Draft: d.View()})
}

func (s *Server) signupField(c *fiber.Ctx) (signup.Field, error) {
	field, err := signup.ParseField(c.Params("field"))
	if err != nil {
		_ = s.respondWithError(c, models.NewValidationError("Unknown signup field"))
		return "", errResponseWritten
	}
	return field, nil
}

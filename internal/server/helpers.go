package server

import (
	"errors"

	"marketplace/internal/auth"
	"marketplace/internal/middleware"
	"marketplace/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// errResponseWritten signals that a helper already committed the response.
// Handlers return nil when they see it.
var errResponseWritten = errors.New("response already written")

func statusFor(code string) int {
	switch code {
	case models.CodeValidation:
		return fiber.StatusBadRequest
	case models.CodeUnauthorized:
		return fiber.StatusUnauthorized
	case models.CodeForbidden:
		return fiber.StatusForbidden
	case models.CodeNotFound:
		return fiber.StatusNotFound
	case models.CodeConflict:
		return fiber.StatusConflict
	case models.CodeRateLimited:
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}

// asAppError maps provider failures that escaped a service onto AppErrors.
func asAppError(err error) *models.AppError {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	msg, known := auth.UserMessage(err)
	if !known {
		return models.NewInternalError(err)
	}
	switch auth.CategoryOf(err) {
	case auth.CategoryRateLimited:
		return models.NewRateLimitedError(msg)
	case auth.CategoryInvalidCredentials:
		return models.NewUnauthorizedError(msg)
	case auth.CategoryDisabledFeature, auth.CategoryMisconfiguration:
		return models.NewForbiddenError(msg)
	case auth.CategoryAlreadyInUse:
		return models.NewConflictError(msg, err)
	default:
		return models.NewValidationError(msg)
	}
}

// respondWithError writes err as an ErrorResponse. Internal errors are
// logged and their detail withheld from the client.
func (s *Server) respondWithError(c *fiber.Ctx, err error) error {
	appErr := asAppError(err)
	status := statusFor(appErr.Code)
	if status == fiber.StatusInternalServerError {
		s.log.ErrorContext(c.UserContext(), "request failed",
			"method", c.Method(), "path", c.Path(), "err", err)
		return c.Status(status).JSON(models.ErrorResponse{
			Error: "Internal server error",
			Code:  models.CodeInternal,
		})
	}
	return c.Status(status).JSON(models.ErrorResponse{
		Error: appErr.Message,
		Code:  appErr.Code,
	})
}

// errorHandler turns errors returned from handlers into JSON responses.
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code := models.CodeInternal
		switch fe.Code {
		case fiber.StatusNotFound:
			code = models.CodeNotFound
		case fiber.StatusBadRequest, fiber.StatusMethodNotAllowed,
			fiber.StatusRequestEntityTooLarge, fiber.StatusUpgradeRequired:
			code = models.CodeValidation
		}
		return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message, Code: code})
	}
	return s.respondWithError(c, err)
}

// parseBody decodes the JSON body into dst, answering 400 on failure.
func (s *Server) parseBody(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		_ = s.respondWithError(c, models.NewValidationError("Invalid request body"))
		return errResponseWritten
	}
	return nil
}

// upgradeOnly admits websocket upgrade requests to the /ws routes.
func (s *Server) upgradeOnly(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// callerUID returns the authenticated user id, or "".
func callerUID(c *fiber.Ctx) string {
	uid, _ := c.Locals(middleware.LocalUserID).(string)
	return uid
}

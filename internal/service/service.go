// Package service provides the marketplace business logic: chat, products
// and account recovery. Callers are identified by the auth session attached
// to the request context.
package service

import (
	"context"

	"marketplace/internal/auth"
	"marketplace/internal/models"
)

// callerID returns the uid of the signed-in caller.
func callerID(ctx context.Context, action string) (string, error) {
	s := auth.SessionFromContext(ctx)
	if s == nil || s.Identity.UID == "" {
		return "", models.NewUnauthorizedError("Please log in to " + action + ".")
	}
	return s.Identity.UID, nil
}

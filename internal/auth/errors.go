package auth

import (
	"errors"
	"fmt"
)

// Category classifies provider failures into the cases callers handle.
type Category string

const (
	CategoryAlreadyInUse       Category = "already-in-use"
	CategoryInvalidFormat      Category = "invalid-format"
	CategoryRateLimited        Category = "rate-limited"
	CategoryWeakCredential     Category = "weak-credential"
	CategoryDisabledFeature    Category = "disabled-feature"
	CategoryMisconfiguration   Category = "misconfiguration"
	CategoryInvalidCredentials Category = "invalid-credentials"
	CategoryUnknown            Category = "unknown"
)

// Error is a categorised provider failure.
type Error struct {
	Category Category
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Category)
	}
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(c Category, format string, args ...any) *Error {
	return &Error{Category: c, Err: fmt.Errorf(format, args...)}
}

// CategoryOf returns the category carried by err, or CategoryUnknown.
func CategoryOf(err error) Category {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Category
	}
	return CategoryUnknown
}

var userMessages = map[Category]string{
	CategoryAlreadyInUse:       "This email is already registered.",
	CategoryInvalidFormat:      "The email address is not valid.",
	CategoryRateLimited:        "Too many requests. Please try again later.",
	CategoryWeakCredential:     "The password is too weak. Use at least 6 characters.",
	CategoryDisabledFeature:    "Email sign-up is currently disabled.",
	CategoryMisconfiguration:   "Sign-up is not configured correctly. Please contact support.",
	CategoryInvalidCredentials: "Invalid email or password.",
}

// UserMessage returns the user-facing text for a known category. The second
// result is false for unknown errors so the caller can pick its own fallback.
func UserMessage(err error) (string, bool) {
	msg, ok := userMessages[CategoryOf(err)]
	return msg, ok
}

// Package validation provides the pure format rules applied to user input.
package validation

import (
	"regexp"
	"unicode/utf8"
)

var (
	idCharsetRe  = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	letterRe     = regexp.MustCompile(`[A-Za-z]`)
	emailShapeRe = regexp.MustCompile(`^\S+@\S+\.\S+$`)
	lowerRe      = regexp.MustCompile(`[a-z]`)
	upperRe      = regexp.MustCompile(`[A-Z]`)
	digitRe      = regexp.MustCompile(`[0-9]`)
	specialRe    = regexp.MustCompile(`[^A-Za-z0-9]`)
)

// Error is a validation failure. Its text is displayed to the user as is.
type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrIDRequired       Error = "Please enter an id."
	ErrIDCharset        Error = "The id may only contain letters and digits."
	ErrIDLetters        Error = "The id must contain at least 4 letters."
	ErrNicknameRequired Error = "Please enter a nickname."
	ErrNicknameShort    Error = "The nickname must be at least 2 characters."
	ErrEmailRequired    Error = "Please enter an email address."
	ErrEmailInvalid     Error = "Please enter a valid email address."
	ErrPasswordRequired Error = "Please enter a password."
	ErrPasswordShort    Error = "The password must be at least 6 characters."
	ErrPasswordWeak     Error = "The password must contain upper and lower case letters, a digit and a special character."
	ErrConfirmRequired  Error = "Please confirm the password."
	ErrConfirmMismatch  Error = "The passwords do not match."
)

// MinIDLetters is the number of ASCII letters a login id must contain.
const MinIDLetters = 4

// ValidateID checks a login id: ASCII letters and digits only, with at least
// MinIDLetters letters.
func ValidateID(id string) error {
	if id == "" {
		return ErrIDRequired
	}
	if !idCharsetRe.MatchString(id) {
		return ErrIDCharset
	}
	if len(letterRe.FindAllString(id, -1)) < MinIDLetters {
		return ErrIDLetters
	}
	return nil
}

// ValidateNickname checks a nickname is at least two characters long.
func ValidateNickname(nickname string) error {
	if nickname == "" {
		return ErrNicknameRequired
	}
	if utf8.RuneCountInString(nickname) < 2 {
		return ErrNicknameShort
	}
	return nil
}

// ValidateEmail checks a conservative local@domain.tld shape.
func ValidateEmail(email string) error {
	if email == "" {
		return ErrEmailRequired
	}
	if !emailShapeRe.MatchString(email) {
		return ErrEmailInvalid
	}
	return nil
}

// ValidatePassword checks length and character classes.
func ValidatePassword(password string) error {
	if password == "" {
		return ErrPasswordRequired
	}
	if utf8.RuneCountInString(password) < 6 {
		return ErrPasswordShort
	}
	if !lowerRe.MatchString(password) || !upperRe.MatchString(password) ||
		!digitRe.MatchString(password) || !specialRe.MatchString(password) {
		return ErrPasswordWeak
	}
	return nil
}

// ValidateConfirm checks the confirmation matches the password exactly.
func ValidateConfirm(password, confirm string) error {
	if confirm == "" {
		return ErrConfirmRequired
	}
	if confirm != password {
		return ErrConfirmMismatch
	}
	return nil
}

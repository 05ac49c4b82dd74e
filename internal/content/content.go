package content

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const MaxMessageLength = 4000

var (
	policy        = bluemonday.UGCPolicy()
	usernameRegex = regexp.MustCompile(`^[\p{L}\p{N}._-]+$`)

	ErrEmptyMessage   = errors.New("message content is required")
	ErrMessageTooLong = errors.New("message content is too long")
)

// Sanitize removes unsafe HTML from user supplied text.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// Message trims and sanitizes chat content, rejecting empty or oversized input.
func Message(input string) (string, error) {
	out := strings.TrimSpace(Sanitize(input))
	if out == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(out) > MaxMessageLength {
		return "", ErrMessageTooLong
	}
	return out, nil
}

// ValidateUsername allows letters, digits, dot, dash and underscore.
func ValidateUsername(username string) error {
	if username == "" {
		return errors.New("username cannot be empty")
	}
	if n := utf8.RuneCountInString(username); n < 2 || n > 64 {
		return errors.New("username must be 2-64 characters")
	}
	if !usernameRegex.MatchString(username) {
		return errors.New("username contains invalid characters (allowed: letters, digits, dot, dash, underscore)")
	}
	return nil
}

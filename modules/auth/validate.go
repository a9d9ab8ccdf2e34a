package auth

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

const minPasswordLength = 6

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidationError lists per-field problems with the login form.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid login form: " + strings.Join(parts, "; ")
}

// ValidateEmail returns the user-facing problem with email, or "".
func ValidateEmail(email string) string {
	if email == "" {
		return "Email is required"
	}
	if !emailPattern.MatchString(email) {
		return "Please enter a valid email address"
	}
	return ""
}

// ValidatePassword returns the user-facing problem with password, or "".
func ValidatePassword(password string) string {
	if password == "" {
		return "Password is required"
	}
	if utf8.RuneCountInString(password) < minPasswordLength {
		return "Password must be at least 6 characters long"
	}
	return ""
}

// ValidateLogin checks both fields and returns a *ValidationError if either fails.
func ValidateLogin(email, password string) error {
	fields := map[string]string{}
	if msg := ValidateEmail(email); msg != "" {
		fields["email"] = msg
	}
	if msg := ValidatePassword(password); msg != "" {
		fields["password"] = msg
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

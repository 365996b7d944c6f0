package service

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidInput marks caller mistakes (bad URL, bad bounds, unknown
// enum value). Wrapped errors carry the detail.
var ErrInvalidInput = errors.New("invalid input")

// ValidateHTTPURL checks that raw is a well-formed absolute URL with an
// http or https scheme and returns its normalized form.
func ValidateHTTPURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: url must not be empty", ErrInvalidInput)
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: malformed url %q: %v", ErrInvalidInput, trimmed, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("%w: only http and https urls are allowed, got scheme %q", ErrInvalidInput, parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("%w: url %q has no host", ErrInvalidInput, trimmed)
	}
	return parsed.String(), nil
}

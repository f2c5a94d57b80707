package esi

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for API responses.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnauthorized indicates the bearer token was rejected (401).
	ErrUnauthorized = errors.New("esi: unauthorized")

	// ErrForbidden indicates the credential lacks access (403), e.g. a citadel
	// the character cannot dock in. Structures returning this are negatively cached.
	ErrForbidden = errors.New("esi: forbidden")

	// ErrNotFound indicates the resource does not exist (404).
	ErrNotFound = errors.New("esi: not found")

	// ErrNoContent indicates a 204 response: the resource exists but has no
	// data to return. For public contract items this means "items unknown".
	ErrNoContent = errors.New("esi: no content")

	// ErrTokenUnavailable indicates no usable bearer token could be obtained
	// (missing token, failed refresh). Not retried.
	ErrTokenUnavailable = errors.New("esi: token unavailable")

	// ErrNoCredential is returned by authenticated lookups configured without a token source.
	ErrNoCredential = errors.New("esi: no credential configured")
)

// HTTPError is a non-2xx response from the API.
type HTTPError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("esi %s %s: %d %s: %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode), body)
}

// HTTPStatusCode exposes the status for retry classification.
func (e *HTTPError) HTTPStatusCode() int {
	return e.StatusCode
}

// Unwrap maps the status to the matching sentinel error.
func (e *HTTPError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

// IsAuthorizationError reports whether err is an authorization failure:
// a rejected or missing credential, or denied access.
func IsAuthorizationError(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrTokenUnavailable)
}

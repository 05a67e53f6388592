package keycloak

import (
	"fmt"
)

// AuthError is returned when a token exchange is rejected or its response
// cannot be used.
type AuthError struct {
	Grant      string
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("failed to authenticate with Keycloak (%s grant): %d: %s", e.Grant, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("failed to authenticate with Keycloak (%s grant): %v", e.Grant, e.Err)
	default:
		return fmt.Sprintf("failed to authenticate with Keycloak (%s grant)", e.Grant)
	}
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// HTTPError is returned for any admin API response outside the 2xx range.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Status     string
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: %s: %s", e.Method, e.URL, e.Status, string(e.Body))
}

// TransportError wraps connection level failures (refused, timeout, DNS).
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request failed: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ValidationError reports a caller supplied value that does not exist on the server.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Message)
}

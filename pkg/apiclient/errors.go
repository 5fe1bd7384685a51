package apiclient

import (
	"errors"
	"fmt"
)

// ErrAuthExpired matches an *APIError whose request was rejected as
// unauthorized even after a forced token refresh.
var ErrAuthExpired = errors.New("authentication expired")

// Error codes carried in APIError.ErrorCode.
const (
	CodeAuthExpired     = "auth_expired"
	CodeConnectionError = "connection_error"
	CodeUnknownError    = "unknown_error"
)

// APIError represents a failed call to the backing API.
type APIError struct {
	StatusCode int
	ErrorCode  string
	Message    string
	Body       string

	// AuthExpired is set when the API rejected the request twice with 401,
	// once with the cached token and once with a freshly issued one.
	AuthExpired bool

	Err error
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("api returned status %d", e.StatusCode)
	}
	return "api request failed"
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrAuthExpired and this error is an auth
// expiry.
func (e *APIError) Is(target error) bool {
	return target == ErrAuthExpired && e.AuthExpired
}

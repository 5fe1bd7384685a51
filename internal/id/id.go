package id

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Session returns a new random session identifier.
// The error is non-nil only when the system entropy source fails.
func Session() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return u.String(), nil
}

// IsSession reports whether s is shaped like an id returned by Session.
// It is a cheap syntactic check used to reject obviously forged headers
// before touching the registry.
func IsSession(s string) bool {
	u, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return u.Version() == 4 && len(s) == 36
}

// Request returns a new ULID for request correlation.
func Request() string {
	return ulid.Make().String()
}

// RequestTime extracts the creation time encoded in a request id.
func RequestTime(s string) (time.Time, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid request id %q: %w", s, err)
	}
	return ulid.Time(u.Time()), nil
}

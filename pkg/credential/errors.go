package credential

import (
	"fmt"
	"unicode/utf8"
)

// AuthFetchError reports a failed token exchange.
// StatusCode and Body are set when the token endpoint answered with a non-2xx
// status. Err is set for transport and decoding failures.
type AuthFetchError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("token exchange failed: status %d: %s", e.StatusCode, truncate(e.Body, 200))
	}
	if e.Err != nil {
		return "token exchange failed: " + e.Err.Error()
	}
	return "token exchange failed"
}

func (e *AuthFetchError) Unwrap() error {
	return e.Err
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

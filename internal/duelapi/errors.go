package duelapi

import (
	"errors"
	"fmt"
)

// ValidationError reports a request rejected before any network call.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// HTTPError carries a non-2xx response. Message prefers the server-supplied
// error text when present, else the raw body.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("duello api error: status=%d", e.Status)
	}
	return fmt.Sprintf("duello api error: status=%d message=%s", e.Status, e.Message)
}

// NetworkError wraps a transport-level failure (dial, timeout, broken pipe).
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("duello request failed: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a pre-flight validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

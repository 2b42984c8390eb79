package fitbit

import (
	"errors"
	"fmt"
)

// ErrQuotaExceeded is returned when the hourly request quota would be
// exceeded. No request is sent and nothing is recorded against the window.
var ErrQuotaExceeded = errors.New("fitbit: hourly request quota exceeded")

// AuthError indicates expired, invalid, or revoked credentials. It is never
// retried automatically; the caller must escalate to re-authentication.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fitbit: auth: %s: %v", e.Reason, e.Err)
	}
	return "fitbit: auth: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError reports whether err is (or wraps) an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// RequestError indicates the service rejected the payload (HTTP 400).
// Message carries the service's own description of the problem.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string { return "fitbit: bad request: " + e.Message }

// TransportError wraps network failures and any response the other error
// kinds don't account for.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "fitbit: transport: " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

package tarotapi

import (
	"errors"
	"fmt"
)

// Base error types callers match with errors.Is.
var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrTimeout           = errors.New("timeout")
	ErrConnectionFailed  = errors.New("connection failed")
	ErrMalformedResponse = errors.New("malformed response")
)

// ErrorType categorizes an API failure.
type ErrorType string

const (
	ErrorTypeConnection ErrorType = "connection"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeAPI        ErrorType = "api"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeMalformed  ErrorType = "malformed"
)

// APIError is a structured error for backend operations.
type APIError struct {
	Type       ErrorType
	Op         string // operation that failed, e.g. "subscription_status"
	StatusCode int    // HTTP status code if applicable
	Err        error  // underlying error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s failed (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is matching against the base error types.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Type == ErrorTypeAuth
	case ErrTimeout:
		return e.Type == ErrorTypeTimeout
	case ErrConnectionFailed:
		return e.Type == ErrorTypeConnection || e.Type == ErrorTypeTimeout
	case ErrMalformedResponse:
		return e.Type == ErrorTypeMalformed
	}
	return false
}

// SubscriptionRequiredError reports a 403 paywall rejection. It carries the
// refreshed entitlement snapshot the backend attaches to such responses.
type SubscriptionRequiredError struct {
	Message string
	Info    *Entitlements
}

func (e *SubscriptionRequiredError) Error() string {
	if e.Message != "" {
		return "subscription required: " + e.Message
	}
	return "subscription required"
}

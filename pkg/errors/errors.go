package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork              ErrorType = "network"
	ErrorTypeRateLimit            ErrorType = "rate_limit"
	ErrorTypeUnavailable          ErrorType = "unavailable"
	ErrorTypeInvalidConfiguration ErrorType = "invalid_configuration"
	ErrorTypeSerialization        ErrorType = "serialization"
	ErrorTypeParsing              ErrorType = "parsing"
	ErrorTypeServerError          ErrorType = "server_error"
	ErrorTypeUnknown              ErrorType = "unknown"
)

// Error is a classified failure from the data source or from local state handling.
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	// Account is the handle the failing operation was about, if any.
	Account string
	// RetryAfter is the moment the data source said the budget resets.
	RetryAfter time.Time
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	if e.Account != "" {
		msg = fmt.Sprintf("%s [account %s]", msg, e.Account)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a typed error
func New(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// Wrap creates a typed error around a cause
func Wrap(errorType ErrorType, err error, message string) *Error {
	return &Error{Type: errorType, Message: message, Err: err}
}

// RateLimited builds the transient error returned when the request budget is exhausted.
func RateLimited(account string, retryAfter time.Time) *Error {
	return &Error{
		Type:       ErrorTypeRateLimit,
		Message:    "rate limit exceeded",
		Code:       429,
		Account:    account,
		RetryAfter: retryAfter,
	}
}

// Unavailable builds the per-account permanent error (protected, suspended, deleted).
func Unavailable(account string, code int, reason string) *Error {
	return &Error{
		Type:    ErrorTypeUnavailable,
		Message: reason,
		Code:    code,
		Account: account,
	}
}

// InvalidConfiguration builds a fatal configuration error.
func InvalidConfiguration(format string, args ...interface{}) *Error {
	return &Error{Type: ErrorTypeInvalidConfiguration, Message: fmt.Sprintf(format, args...)}
}

// Serialization wraps a failure to encode or decode persisted state.
func Serialization(err error, message string) *Error {
	return &Error{Type: ErrorTypeSerialization, Message: message, Err: err}
}

// TypeOf returns the ErrorType of the first *Error in err's chain, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// Is reports whether err carries the given type anywhere in its chain.
func Is(err error, errorType ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == errorType
	}
	return false
}

func IsRateLimited(err error) bool {
	return Is(err, ErrorTypeRateLimit)
}

func IsUnavailable(err error) bool {
	return Is(err, ErrorTypeUnavailable)
}

func IsInvalidConfiguration(err error) bool {
	return Is(err, ErrorTypeInvalidConfiguration)
}

func IsSerialization(err error) bool {
	return Is(err, ErrorTypeSerialization)
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0, 429:
		return true
	case 401, 403, 404:
		return false
	default:
		return statusCode >= 500
	}
}

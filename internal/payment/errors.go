package payment

import (
	"context"
	"errors"
	"fmt"
)

// Error codes.
const (
	// CodeValidationError marks malformed or mismatched input. Caller error;
	// never retried.
	CodeValidationError = "VALIDATION_ERROR"

	// CodeProviderError marks a facilitator or broadcast failure. Retryable
	// per policy.
	CodeProviderError = "PROVIDER_ERROR"

	// CodeProviderNoSettlement marks exhaustion of every configured strategy.
	CodeProviderNoSettlement = "PROVIDER_NO_SETTLEMENT"
)

// Error is the typed error carried through the payment core.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a typed payment error.
func NewError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// ValidationError is shorthand for a VALIDATION_ERROR with a formatted message.
func ValidationError(format string, args ...interface{}) *Error {
	return &Error{Code: CodeValidationError, Message: fmt.Sprintf(format, args...)}
}

// ErrorCode extracts the payment error code, or "" for foreign errors.
func ErrorCode(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsRetryable classifies an error for the retry engine. Validation failures
// indicate caller error and are never retried; provider, network and timeout
// failures are transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if ErrorCode(err) == CodeValidationError {
		return false
	}
	return true
}

package billing

import (
	"errors"
	"fmt"
)

// ErrorCode classifies billing failures for callers and the HTTP layer.
type ErrorCode string

const (
	CodeDBNotAvailable       ErrorCode = "DB_NOT_AVAILABLE"
	CodeInvalidTrackingID    ErrorCode = "INVALID_TRACKING_ID"
	CodeInvalidOperationType ErrorCode = "INVALID_OPERATION_TYPE"
	CodeUserBalanceNotFound  ErrorCode = "USER_BALANCE_NOT_FOUND"
	CodeIdempotencyError     ErrorCode = "IDEMPOTENCY_ERROR"
)

// Error is the taxonomy for non-recoverable billing failures. It wraps the
// underlying cause so callers can still errors.Is/As into driver errors.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a billing error with an optional wrapped cause.
func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// IsCode reports whether err is a billing error carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Code == code
	}
	return false
}

// InsufficientAITimeError is raised when a user's combined tiers cannot
// cover an operation, either at authorization time (EstimatedSeconds set)
// or at final debit time. It is recoverable by the caller.
type InsufficientAITimeError struct {
	RequiredSeconds  int64         `json:"required_seconds"`
	AvailableSeconds int64         `json:"available_seconds"`
	Balance          TierBreakdown `json:"balance"`
	EstimatedSeconds int64         `json:"estimated_seconds,omitempty"`
}

func (e *InsufficientAITimeError) Error() string {
	return fmt.Sprintf("insufficient_ai_time: required=%ds available=%ds", e.RequiredSeconds, e.AvailableSeconds)
}

// IsInsufficientAITime reports whether err carries an insufficient-balance
// failure, returning the typed error when it does.
func IsInsufficientAITime(err error) (*InsufficientAITimeError, bool) {
	var ie *InsufficientAITimeError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

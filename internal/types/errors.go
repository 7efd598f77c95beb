package types

import (
	"errors"
	"fmt"
)

// ErrorCode is a namespaced error code for kgraph errors.
type ErrorCode string

// Configuration error codes
const (
	CONFIG_LOAD_FAILED       ErrorCode = "CONFIG_LOAD_FAILED"
	CONFIG_PARSE_FAILED      ErrorCode = "CONFIG_PARSE_FAILED"
	CONFIG_VALIDATION_FAILED ErrorCode = "CONFIG_VALIDATION_FAILED"
)

// Store error codes
const (
	DB_OPEN_FAILED   ErrorCode = "DB_OPEN_FAILED"
	DB_SCHEMA_FAILED ErrorCode = "DB_SCHEMA_FAILED"
	DB_QUERY_FAILED  ErrorCode = "DB_QUERY_FAILED"
	DB_TX_FAILED     ErrorCode = "DB_TX_FAILED"
)

// Dedup error codes
const (
	DEDUP_MERGE_FAILED  ErrorCode = "DEDUP_MERGE_FAILED"
	DEDUP_SEARCH_FAILED ErrorCode = "DEDUP_SEARCH_FAILED"
)

// Error is a structured error carrying a code, message, retryability hint,
// and an optional wrapped cause.
type Error struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface.
// Format: "[CODE] message" or "[CODE] message: cause" if a cause exists.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code, so sentinel comparisons like
// errors.Is(err, types.NewError(DB_TX_FAILED, "")) work as expected.
func (e *Error) Is(target error) bool {
	var kerr *Error
	if errors.As(target, &kerr) {
		return e.Code == kerr.Code
	}
	return false
}

// NewError creates a non-retryable Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewRetryableError creates a retryable Error. Use for transient failures
// that may succeed on a later attempt.
func NewRetryableError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: true}
}

// WrapError creates a non-retryable Error wrapping an existing cause.
func WrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// IsRetryable reports whether err carries a retryable hint.
func IsRetryable(err error) bool {
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.Retryable
	}
	return false
}

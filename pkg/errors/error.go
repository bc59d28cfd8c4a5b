// Package errors provides structured error handling with typed error codes.
//
// Error codes are organized into categories:
//   - General errors (1-99): Unknown and general errors
//   - Validation errors (100-199): Caller usage errors such as a bad specifier or a nil callback
//   - Transport errors (200-299): Connect, send and receive failures
//   - Decode errors (300-399): Malformed frames and server-reported feed errors
//   - Lifecycle errors (400-499): Stream shutdown problems
//   - Callback errors (800-899): Consumer callback failures
//
// Usage:
//
//	// Create a new error
//	err := errors.New(errors.ErrCodeInvalidSpecifier, "specifier not allowed")
//
//	// Create a formatted error
//	err := errors.Newf(errors.ErrCodeFeedError, "feed reported: %s", message)
//
//	// Wrap an existing error
//	err := errors.Wrap(errors.ErrCodeTransportConnect, "failed to connect", originalErr)
//
//	// Check error code
//	if errors.HasCode(err, errors.ErrCodeMalformedFrame) { ... }
package errors

import (
	"errors"
	"fmt"
)

// Error represents a structured error with an error code and message.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   nil,
	}
}

// Newf creates a new Error with the given code and formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   nil,
	}
}

// Wrap wraps an existing error with a new Error containing the given code and message.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Wrapf wraps an existing error with a new Error containing the given code and formatted message.
func Wrapf(code ErrorCode, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Cause)
	}

	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether any error in err's chain matches target.
// This is a convenience wrapper around the standard errors.Is function.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// This is a convenience wrapper around the standard errors.As function.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// GetCode extracts the ErrorCode from an error.
// CallbackError values report ErrCodeCallbackFailed.
// Returns ErrCodeUnknown if the error carries no code.
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	var cbErr *CallbackError
	if errors.As(err, &cbErr) {
		return ErrCodeCallbackFailed
	}

	return ErrCodeUnknown
}

// HasCode checks if an error has a specific ErrorCode.
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// CallbackError is returned when a consumer callback fails.
// Handler identifies the offending function so the failure can be attributed.
type CallbackError struct {
	Handler string // Fully qualified name of the callback
	Cause   error  // Error returned (or panic value recovered) from the callback
}

// NewCallbackError creates a new CallbackError.
func NewCallbackError(handler string, cause error) *CallbackError {
	return &CallbackError{
		Handler: handler,
		Cause:   cause,
	}
}

// Error implements the error interface.
func (e *CallbackError) Error() string {
	return fmt.Sprintf("[%d] error with callback function %s: %v", ErrCodeCallbackFailed, e.Handler, e.Cause)
}

// Unwrap returns the error produced by the callback.
func (e *CallbackError) Unwrap() error {
	return e.Cause
}

// IsCallbackError checks if an error is a CallbackError.
// It uses errors.As to check the error chain.
func IsCallbackError(err error) bool {
	var cbErr *CallbackError

	return errors.As(err, &cbErr)
}

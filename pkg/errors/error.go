// Package errors provides structured error handling with typed error codes.
//
// Error codes are organized into categories:
//   - General errors (1-99): Unknown and general errors
//   - Validation errors (100-199): Invalid playbooks, expressions, parameters
//   - Data/Feed errors (200-299): Bar feed loading, ordering, and query failures
//   - Evaluation errors (300-399): Expression and condition evaluation failures
//   - Playbook errors (400-499): Playbook loading, compilation, and runtime errors
//   - Trading errors (500-599): Order placement and position management errors
//   - Backtest errors (600-699): Simulator configuration and run store errors
//   - Sweep/Monte Carlo errors (700-799): Parameter sweep and resampling errors
//
// Usage:
//
//	// Create a new error
//	err := errors.New(errors.ErrCodeInvalidParameter, "invalid parameter value")
//
//	// Create a formatted error
//	err := errors.Newf(errors.ErrCodePhaseNotFound, "phase %q not found", phaseID)
//
//	// Wrap an existing error
//	err := errors.Wrap(errors.ErrCodeQueryFailed, "failed to execute query", originalErr)
//
//	// Check error code
//	if errors.HasCode(err, errors.ErrCodePhaseNotFound) { ... }
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

// GetCode extracts the ErrorCode from an error if it's an *Error type.
// Returns ErrCodeUnknown if the error is not an *Error type.
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return ErrCodeUnknown
}

// HasCode checks if an error has a specific ErrorCode.
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// EvalError represents a runtime failure while evaluating an expression or
// condition (e.g., division by zero, an unresolvable reference). Evaluation
// never panics; failures surface as EvalError values so callers can record
// them as diagnostics and continue.
type EvalError struct {
	Code    ErrorCode // Evaluation error code (300-399 range)
	Expr    string    // Source text of the offending expression
	Ref     string    // Optional: the reference that could not be resolved
	Message string    // Human-readable message
}

// NewEvalError creates a new EvalError for the given expression source.
func NewEvalError(code ErrorCode, expr, ref, message string) *EvalError {
	return &EvalError{
		Code:    code,
		Expr:    expr,
		Ref:     ref,
		Message: message,
	}
}

// NewEvalErrorf creates a new EvalError with a formatted message.
func NewEvalErrorf(code ErrorCode, expr, ref, format string, args ...any) *EvalError {
	return &EvalError{
		Code:    code,
		Expr:    expr,
		Ref:     ref,
		Message: fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface.
func (e *EvalError) Error() string {
	if e.Expr != "" {
		return fmt.Sprintf("%s in %q", e.Message, e.Expr)
	}

	return e.Message
}

// IsEvalError checks if an error is an EvalError.
// It uses errors.As to check the error chain.
func IsEvalError(err error) bool {
	var evalErr *EvalError

	return errors.As(err, &evalErr)
}

// AsEvalError extracts the EvalError from an error chain, if present.
func AsEvalError(err error) (*EvalError, bool) {
	var evalErr *EvalError
	if errors.As(err, &evalErr) {
		return evalErr, true
	}

	return nil, false
}

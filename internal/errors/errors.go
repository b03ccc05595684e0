// Package errors defines the application error taxonomy. Errors carry a
// coarse code so callers can branch on category (and the job layer can make
// retry decisions) without string matching.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode is the category attached to an AppError.
type ErrorCode string

const (
	// ErrCodeNotFound: the referenced row does not exist.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeConflict: a uniqueness guarantee was violated.
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeValidation: the input fails a request-level check.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeForeignKey: a referenced row is missing or still referenced.
	ErrCodeForeignKey ErrorCode = "foreign_key"
	// ErrCodeInternal: an unexpected failure with no better category.
	ErrCodeInternal ErrorCode = "internal"
	// ErrCodeTimeout: a deadline expired before the operation finished.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled: the context was canceled.
	ErrCodeCanceled ErrorCode = "canceled"
	// ErrCodeNonRetryable: a job failure that retrying cannot fix, such as
	// an unregistered job type or a malformed payload. The job layer settles
	// these immediately instead of rescheduling.
	ErrCodeNonRetryable ErrorCode = "non_retryable"
)

// AppError pairs an ErrorCode with a message and an optional cause. It
// participates in errors.Is/As chains via Unwrap, so codes survive %w
// wrapping on the way up.
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
	// Field names the offending input for validation errors.
	Field string
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

func newError(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// NotFound builds a not_found error.
func NotFound(message string) *AppError {
	return newError(ErrCodeNotFound, message)
}

// NotFoundf builds a not_found error from a format string.
func NotFoundf(format string, args ...any) *AppError {
	return newError(ErrCodeNotFound, fmt.Sprintf(format, args...))
}

// Conflict builds a conflict error.
func Conflict(message string) *AppError {
	return newError(ErrCodeConflict, message)
}

// Validation builds a validation error.
func Validation(message string) *AppError {
	return newError(ErrCodeValidation, message)
}

// Validationf builds a validation error from a format string.
func Validationf(format string, args ...any) *AppError {
	return newError(ErrCodeValidation, fmt.Sprintf(format, args...))
}

// ValidationField builds a validation error naming the offending field.
func ValidationField(field, message string) *AppError {
	err := newError(ErrCodeValidation, message)
	err.Field = field
	return err
}

// Internal builds an internal error.
func Internal(message string) *AppError {
	return newError(ErrCodeInternal, message)
}

// Internalf builds an internal error from a format string.
func Internalf(format string, args ...any) *AppError {
	return newError(ErrCodeInternal, fmt.Sprintf(format, args...))
}

// NonRetryable builds a non_retryable error. Handlers return these to fail a
// job without touching its remaining retry budget.
func NonRetryable(message string) *AppError {
	return newError(ErrCodeNonRetryable, message)
}

// NonRetryablef builds a non_retryable error from a format string.
func NonRetryablef(format string, args ...any) *AppError {
	return newError(ErrCodeNonRetryable, fmt.Sprintf(format, args...))
}

// Wrap attaches a code and message to err, keeping it as the cause.
// Returns nil for a nil err.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// Wrapf is Wrap with a format string.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsNotFound reports whether err carries the not_found code.
func IsNotFound(err error) bool { return isCode(err, ErrCodeNotFound) }

// IsConflict reports whether err carries the conflict code.
func IsConflict(err error) bool { return isCode(err, ErrCodeConflict) }

// IsValidation reports whether err carries the validation code.
func IsValidation(err error) bool { return isCode(err, ErrCodeValidation) }

// IsForeignKey reports whether err carries the foreign_key code.
func IsForeignKey(err error) bool { return isCode(err, ErrCodeForeignKey) }

// IsTimeout reports whether err carries the timeout code.
func IsTimeout(err error) bool { return isCode(err, ErrCodeTimeout) }

// IsCanceled reports whether err carries the canceled code.
func IsCanceled(err error) bool { return isCode(err, ErrCodeCanceled) }

// IsNonRetryable reports whether err carries the non_retryable code,
// anywhere in its wrap chain.
func IsNonRetryable(err error) bool { return isCode(err, ErrCodeNonRetryable) }

// GetCode extracts the code from err, or "" when err is not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField extracts the offending field name from a validation error, or "".
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}

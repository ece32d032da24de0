package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the error chain.
// If err is nil, Wrap returns nil.
// If err is already a LedgerError, it wraps it with the new message.
// Otherwise, it creates a new Internal error wrapping the original.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	// If it's already a LedgerError, preserve its properties
	var lerr *Error
	if errors.As(err, &lerr) {
		wrapped := &Error{
			code:      lerr.code,
			category:  lerr.category,
			message:   message,
			cause:     err,
			metadata:  lerr.Metadata(),
			retryable: lerr.retryable,
			taskID:    lerr.taskID,
			tenantID:  lerr.tenantID,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	// Check for context errors
	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}

	// Default to internal error for unknown errors
	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, WithCause(err))
	return New(code, message, opts...)
}

// AsLedgerError attempts to extract a LedgerError from an error chain.
// Returns nil if no LedgerError is found.
func AsLedgerError(err error) LedgerError {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr
	}
	return nil
}

// Is checks if any error in the chain has the given error code.
func Is(err error, code ErrorCode) bool {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.code == code
	}
	return false
}

// IsCategory checks if any error in the chain has the given category.
func IsCategory(err error, category ErrorCategory) bool {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.category == category
	}
	return false
}

// IsRetryable checks if the error is retryable.
func IsRetryable(err error) bool {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Retryable()
	}
	// Unknown errors are treated as retryable: a thrown error during
	// dispatch gets the retry policy unless it declares otherwise.
	return true
}

// IsTransient checks if the error is transient.
func IsTransient(err error) bool {
	return IsCategory(err, CategoryTransient)
}

// IsPermanent checks if the error is permanent.
func IsPermanent(err error) bool {
	return IsCategory(err, CategoryPermanent)
}

// IsInternal checks if the error is an internal error.
func IsInternal(err error) bool {
	return IsCategory(err, CategoryInternal)
}

// Code extracts the error code from an error, if available.
// Returns empty string if err is not a LedgerError.
func Code(err error) ErrorCode {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.code
	}
	return ""
}

// Category extracts the error category from an error, if available.
// Returns empty string if err is not a LedgerError.
func Category(err error) ErrorCategory {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.category
	}
	return ""
}

// GetMetadata extracts metadata from an error.
// Returns nil if err is not a LedgerError.
func GetMetadata(err error) map[string]string {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Metadata()
	}
	return nil
}

// Cause returns the root cause of the error chain.
func Cause(err error) error {
	for {
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		inner := unwrapper.Unwrap()
		if inner == nil {
			return err
		}
		err = inner
	}
}

// Join combines multiple errors into a single error.
// If all errors are nil, returns nil.
// Uses errors.Join from the standard library.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// RecoverPanic converts a recovered panic value into an Error.
// Used at the executor boundary so a panicking action handler is
// absorbed into the entry's failure reason instead of crashing a worker.
func RecoverPanic(recovered interface{}) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(ErrCodeActionExecution, message,
		WithMetadata("panic_value", fmt.Sprintf("%T", recovered)),
		WithRetryable(false))
}

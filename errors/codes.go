package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: queue backend unavailable, downstream handoff timed out.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: unknown entry, illegal state transition, invalid input.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal indicates unexpected errors, bugs, or system failures.
	// Examples: corrupted entry payload, recovered panics.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes for the ledger failure taxonomy.
const (
	// Permanent errors
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"           // Entry does not exist (or belongs to another tenant)
	ErrCodeInvalidState      ErrorCode = "INVALID_STATE"       // Operation not legal from the entry's current status
	ErrCodeUndoWindowExpired ErrorCode = "UNDO_WINDOW_EXPIRED" // Undo requested after the permitted window
	ErrCodeInvalidInput      ErrorCode = "INVALID_INPUT"       // Malformed or invalid creation payload
	ErrCodeConflict          ErrorCode = "CONFLICT"            // Conflicting concurrent write
	ErrCodeCanceled          ErrorCode = "CANCELED"            // Operation was canceled

	// Transient errors
	ErrCodeQueueError ErrorCode = "QUEUE_ERROR" // Enqueue/cancel against the delayed-job backend failed
	ErrCodeStoreError ErrorCode = "STORE_ERROR" // Persistence backend failed
	ErrCodeTimeout    ErrorCode = "TIMEOUT"     // Operation timed out

	// Execution errors
	ErrCodeActionExecution ErrorCode = "ACTION_EXECUTION" // Dispatch of the task's action failed
	ErrCodeInternal        ErrorCode = "INTERNAL"         // Unexpected internal error
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeNotFound, ErrCodeInvalidState, ErrCodeUndoWindowExpired,
		ErrCodeInvalidInput, ErrCodeConflict, ErrCodeCanceled:
		return CategoryPermanent

	case ErrCodeQueueError, ErrCodeStoreError, ErrCodeTimeout, ErrCodeActionExecution:
		return CategoryTransient

	case ErrCodeInternal:
		return CategoryInternal

	default:
		return CategoryInternal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
func (c ErrorCode) DefaultRetryable() bool {
	return c.DefaultCategory().IsRetryable()
}

// codeDescriptions provides human-readable descriptions for error codes.
var codeDescriptions = map[ErrorCode]string{
	ErrCodeNotFound:          "ledger entry not found",
	ErrCodeInvalidState:      "operation not allowed from current status",
	ErrCodeUndoWindowExpired: "undo window has expired",
	ErrCodeInvalidInput:      "invalid input provided",
	ErrCodeConflict:          "conflicting operation",
	ErrCodeCanceled:          "operation canceled",
	ErrCodeQueueError:        "delayed-job queue operation failed",
	ErrCodeStoreError:        "ledger store operation failed",
	ErrCodeTimeout:           "operation timed out",
	ErrCodeActionExecution:   "action dispatch failed",
	ErrCodeInternal:          "internal error",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}

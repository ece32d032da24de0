package errors

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// LedgerError is the interface for all structured errors in taskledger.
// It extends the standard error interface with the context the executor
// and lifecycle callers need for retry and surfacing decisions.
type LedgerError interface {
	error

	// Code returns the specific error code identifying the failure type.
	Code() ErrorCode

	// Category returns the error category for retry/handling decisions.
	Category() ErrorCategory

	// Retryable returns true if the operation may succeed on retry.
	Retryable() bool

	// Metadata returns additional context as key-value pairs.
	Metadata() map[string]string

	// Unwrap returns the underlying error, if any.
	Unwrap() error
}

// Error is the concrete implementation of LedgerError.
type Error struct {
	code      ErrorCode
	category  ErrorCategory
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool // nil means use default based on category
	timestamp time.Time
	taskID    string // related ledger entry, if applicable
	tenantID  string // owning tenant, if applicable
}

// Ensure Error implements LedgerError and json.Marshaler/Unmarshaler.
var (
	_ LedgerError      = (*Error)(nil)
	_ json.Marshaler   = (*Error)(nil)
	_ json.Unmarshaler = (*Error)(nil)
)

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() ErrorCategory {
	return e.category
}

// Retryable returns whether this error is retryable.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.category.IsRetryable()
}

// Metadata returns the error metadata.
func (e *Error) Metadata() map[string]string {
	if e.metadata == nil {
		return make(map[string]string)
	}
	// Return a copy to prevent modification
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Timestamp returns when the error occurred.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// TaskID returns the related ledger entry ID, if set.
func (e *Error) TaskID() string {
	return e.taskID
}

// TenantID returns the owning tenant ID, if set.
func (e *Error) TenantID() string {
	return e.tenantID
}

// errorJSON is the JSON representation of an Error.
type errorJSON struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Cause     string            `json:"cause,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Retryable bool              `json:"retryable"`
	Timestamp string            `json:"timestamp,omitempty"`
	TaskID    string            `json:"task_id,omitempty"`
	TenantID  string            `json:"tenant_id,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	j := errorJSON{
		Code:      e.code,
		Category:  e.category,
		Message:   e.message,
		Metadata:  e.metadata,
		Retryable: e.Retryable(),
		TaskID:    e.taskID,
		TenantID:  e.tenantID,
	}
	if e.cause != nil {
		j.Cause = e.cause.Error()
	}
	if !e.timestamp.IsZero() {
		j.Timestamp = e.timestamp.Format(time.RFC3339Nano)
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Error) UnmarshalJSON(data []byte) error {
	var j errorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	e.code = j.Code
	e.category = j.Category
	e.message = j.Message
	e.metadata = j.Metadata
	e.taskID = j.TaskID
	e.tenantID = j.TenantID
	r := j.Retryable
	e.retryable = &r
	if j.Cause != "" {
		e.cause = fmt.Errorf("%s", j.Cause)
	}
	if j.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, j.Timestamp); err == nil {
			e.timestamp = t
		}
	}
	return nil
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithCategory overrides the default category.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) {
		e.category = cat
	}
}

// WithRetryable explicitly sets whether the error is retryable.
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithTaskID sets the related ledger entry ID.
func WithTaskID(id string) Option {
	return func(e *Error) {
		e.taskID = id
	}
}

// WithTenantID sets the owning tenant ID.
func WithTenantID(id string) Option {
	return func(e *Error) {
		e.tenantID = id
	}
}

// WithTimestamp sets a custom timestamp.
func WithTimestamp(t time.Time) Option {
	return func(e *Error) {
		e.timestamp = t
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// FromCode creates an error with the default description for the code.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// NotFound creates a not found error. Missing entries and cross-tenant
// lookups produce the identical error so existence never leaks.
func NotFound(taskID string, opts ...Option) *Error {
	opts = append([]Option{WithTaskID(taskID)}, opts...)
	return New(ErrCodeNotFound, fmt.Sprintf("task %s not found", taskID), opts...)
}

// InvalidState creates an illegal-transition error naming the entry's
// current status and the statuses the operation accepts.
func InvalidState(taskID, current string, allowed []string, opts ...Option) *Error {
	opts = append([]Option{
		WithTaskID(taskID),
		WithMetadata("current_status", current),
		WithMetadata("allowed_statuses", strings.Join(allowed, ",")),
	}, opts...)
	msg := fmt.Sprintf("task %s is %s, operation requires one of [%s]",
		taskID, current, strings.Join(allowed, ", "))
	return New(ErrCodeInvalidState, msg, opts...)
}

// UndoWindowExpired creates the distinguished sub-case of InvalidState
// for an undo attempted after the permitted window.
func UndoWindowExpired(taskID string, windowMins int, opts ...Option) *Error {
	opts = append([]Option{
		WithTaskID(taskID),
		WithMetadata("undo_window_mins", fmt.Sprintf("%d", windowMins)),
	}, opts...)
	msg := fmt.Sprintf("undo window of %d minutes for task %s has expired", windowMins, taskID)
	return New(ErrCodeUndoWindowExpired, msg, opts...)
}

// InvalidInput creates an invalid input error.
func InvalidInput(message string, opts ...Option) *Error {
	return New(ErrCodeInvalidInput, message, opts...)
}

// Conflict creates a conflict error.
func Conflict(message string, opts ...Option) *Error {
	return New(ErrCodeConflict, message, opts...)
}

// QueueFailure creates an error for a failed enqueue/cancel against the
// delayed-job backend.
func QueueFailure(message string, opts ...Option) *Error {
	return New(ErrCodeQueueError, message, opts...)
}

// StoreFailure creates an error for a failed persistence operation.
func StoreFailure(message string, opts ...Option) *Error {
	return New(ErrCodeStoreError, message, opts...)
}

// ActionFailure creates an error for a failed action dispatch.
func ActionFailure(taskID, reason string, opts ...Option) *Error {
	opts = append([]Option{WithTaskID(taskID)}, opts...)
	return New(ErrCodeActionExecution, fmt.Sprintf("action for task %s failed: %s", taskID, reason), opts...)
}

// Internal creates an internal error.
func Internal(message string, opts ...Option) *Error {
	return New(ErrCodeInternal, message, opts...)
}

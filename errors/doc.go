// Package errors provides the structured error taxonomy for the task
// ledger. It defines the codes and categories every ledger operation
// reports through, so callers and the executor can make consistent
// retry and surfacing decisions.
//
// # Error Categories
//
// Errors are classified into three categories:
//
//   - Transient: Temporary failures where retry may succeed (queue backend down, etc.)
//   - Permanent: Failures where retry will not help (invalid input, not found, illegal transition)
//   - Internal: Unexpected errors indicating bugs or system failures
//
// # Error Codes
//
// Each error has a specific code that identifies the type of failure:
//
//   - NOT_FOUND: Entry does not exist (missing id and cross-tenant lookups are indistinguishable)
//   - INVALID_STATE: Operation not legal from the entry's current status
//   - UNDO_WINDOW_EXPIRED: Undo attempted after the permitted window (sub-case of INVALID_STATE)
//   - QUEUE_ERROR: Enqueue/cancel against the delayed-job backend failed
//   - ACTION_EXECUTION: Dispatch of the task's action failed
//   - And more...
//
// # Usage
//
// Create a new error:
//
//	err := errors.InvalidState("task-1", "COMPLETED", []string{"PENDING", "SCHEDULED"})
//
// Wrap an existing error with context:
//
//	wrapped := errors.Wrap(err, "approving task")
//
// Check if an error is retryable:
//
//	if lerr := errors.AsLedgerError(err); lerr != nil && lerr.Retryable() {
//	    // retry logic
//	}
//
// # JSON Serialization
//
// All errors support JSON serialization, used when persisting an
// entry's failure reason and when emitting execution events:
//
//	data, err := json.Marshal(lerr)
//
// Errors can be deserialized back:
//
//	var lerr errors.Error
//	json.Unmarshal(data, &lerr)
package errors

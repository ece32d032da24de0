package ledger

import (
	"encoding/json"
	"time"
)

// Lifecycle notification subjects. Published fire-and-forget on the
// event bus when a task crosses a lifecycle boundary; downstream
// consumers (notifiers, audit sinks, dashboards) subscribe to these.
const (
	SubjectTaskCreated       = "ledger.task.created"
	SubjectTaskUndoRequested = "ledger.task.undo-requested"
	SubjectTaskApproved      = "ledger.task.approved"
	SubjectTaskDeclined      = "ledger.task.declined"
	SubjectTaskCompleted     = "ledger.task.completed"
	SubjectTaskFailed        = "ledger.task.failed"
	SubjectTaskUndone        = "ledger.task.undone"
	SubjectTaskCancelled     = "ledger.task.cancelled"

	// SubjectTaskExecuted carries ExecutionEvent, published once per
	// finished execution attempt regardless of outcome.
	SubjectTaskExecuted = "ledger.task.executed"
)

// LifecycleEvent is the payload published on lifecycle subjects.
type LifecycleEvent struct {
	TaskID     string    `json:"taskId"`
	TenantID   string    `json:"tenantId"`
	Type       Type      `json:"type"`
	Category   Category  `json:"category"`
	Status     Status    `json:"status"`
	EntityType string    `json:"entityType,omitempty"`
	EntityID   string    `json:"entityId,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NewLifecycleEvent builds an event snapshot from an entry.
func NewLifecycleEvent(e *Entry, actor, reason string, at time.Time) LifecycleEvent {
	return LifecycleEvent{
		TaskID:     e.ID,
		TenantID:   e.TenantID,
		Type:       e.Type,
		Category:   e.Category,
		Status:     e.Status,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Actor:      actor,
		Reason:     reason,
		OccurredAt: at,
	}
}

// Marshal encodes the event for the wire.
func (ev LifecycleEvent) Marshal() ([]byte, error) {
	return json.Marshal(ev)
}

// ExecutionEvent reports the final outcome of an execution: success
// true means the entry landed COMPLETED, false means FAILED after its
// retries ran out. Failures still mid-retry do not produce one.
type ExecutionEvent struct {
	TaskID        string    `json:"taskId"`
	TenantID      string    `json:"tenantId"`
	Success       bool      `json:"success"`
	FailureReason string    `json:"failureReason,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// Marshal encodes the event for the wire.
func (ev ExecutionEvent) Marshal() ([]byte, error) {
	return json.Marshal(ev)
}

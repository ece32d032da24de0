package ledger

import (
	"errors"
	"time"

	lederr "github.com/fieldserve/taskledger/errors"
)

// Common errors returned by Store implementations. The Manager converts
// these into the structured taxonomy before they reach a caller.
var (
	// ErrNotFound indicates the requested entry does not exist for the
	// given tenant. Cross-tenant lookups are indistinguishable from
	// missing ids.
	ErrNotFound = errors.New("entry not found")

	// ErrDuplicateKey indicates an insert collided with an existing
	// idempotency key.
	ErrDuplicateKey = errors.New("idempotency key already exists")

	// ErrStaleStatus indicates a conditional update found the entry in a
	// status outside the expected set.
	ErrStaleStatus = errors.New("entry status changed concurrently")

	// ErrClosed indicates the underlying store has been closed.
	ErrClosed = errors.New("store closed")
)

// Type classifies who or what asked for the task.
type Type string

const (
	TypeAIAction   Type = "AI_ACTION"
	TypeSystemTask Type = "SYSTEM_TASK"
	TypeHumanTask  Type = "HUMAN_TASK"
	TypeApproval   Type = "APPROVAL"
)

// Valid returns true if the type is a known value.
func (t Type) Valid() bool {
	switch t {
	case TypeAIAction, TypeSystemTask, TypeHumanTask, TypeApproval:
		return true
	default:
		return false
	}
}

// Category groups tasks by business area for dashboard filtering.
type Category string

const (
	CategoryBilling    Category = "BILLING"
	CategoryScheduling Category = "SCHEDULING"
	CategoryMessaging  Category = "MESSAGING"
	CategoryMarketing  Category = "MARKETING"
	CategoryOperations Category = "OPERATIONS"
)

// Valid returns true if the category is a known value.
func (c Category) Valid() bool {
	switch c {
	case CategoryBilling, CategoryScheduling, CategoryMessaging,
		CategoryMarketing, CategoryOperations:
		return true
	default:
		return false
	}
}

// Status represents the current state of a ledger entry.
type Status string

const (
	// StatusPending indicates the entry is admitted and awaiting
	// approval or immediate execution.
	StatusPending Status = "PENDING"

	// StatusScheduled indicates a delayed job exists for the entry.
	StatusScheduled Status = "SCHEDULED"

	// StatusInProgress indicates an execution attempt is underway.
	StatusInProgress Status = "IN_PROGRESS"

	// StatusCompleted indicates the action was dispatched (or the task
	// manually completed). The only status undo is reachable from.
	StatusCompleted Status = "COMPLETED"

	// StatusFailed indicates retries were exhausted or the failure was
	// not retryable.
	StatusFailed Status = "FAILED"

	// StatusCancelled indicates the entry was declined or obsoleted
	// before execution.
	StatusCancelled Status = "CANCELLED"

	// StatusUndone indicates a completed entry was reversed inside its
	// undo window.
	StatusUndone Status = "UNDONE"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if the status has no outgoing transitions
// except COMPLETED -> UNDONE. Entries are never deleted; they converge
// to a terminal status and remain as audit history.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusUndone:
		return true
	default:
		return false
	}
}

// transitions is the full edge set of the entry state machine. Any
// (from, to) pair not listed here is illegal.
var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusCompleted, StatusCancelled},
	StatusScheduled:  {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusScheduled, StatusFailed},
	StatusCompleted:  {StatusUndone},
}

// CanTransition reports whether moving from one status to another is a
// legal edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Entry is the sole entity of the ledger: a durable record of one
// requested action and its lifecycle.
type Entry struct {
	// ID is the unique identifier for the entry.
	ID string

	// TenantID is the owning tenant. Every operation is scoped to it.
	TenantID string

	// Type classifies the requester (AI, system, human, approval ask).
	Type Type

	// Category groups the task by business area.
	Category Category

	// Priority orders dashboard views, 1-100, higher first.
	Priority int

	// Title is the short human-readable summary.
	Title string

	// Description holds optional detail text.
	Description string

	// Icon is an optional presentation hint.
	Icon string

	// EntityType and EntityID form a weak back-reference to the domain
	// object the task concerns. The ledger never dereferences them.
	EntityType string
	EntityID   string

	// ActionType is the dispatch key. Empty means a pure
	// acknowledgement task with no outbound action.
	ActionType string

	// ActionEndpoint is carried for handler context; dispatch does not
	// use it.
	ActionEndpoint string

	// Payload is opaque structured data handed to the action handler.
	Payload map[string]interface{}

	// IdempotencyKey is globally unique and prevents duplicate
	// admission of equivalent tasks.
	IdempotencyKey string

	// TraceID correlates the entry with the request that created it.
	TraceID string

	// ScheduledFor, when set to a future time at creation, makes the
	// initial status SCHEDULED. Updated on each retry.
	ScheduledFor *time.Time

	// UndoWindowMins bounds post-completion reversal. Zero means the
	// entry is not undoable.
	UndoWindowMins int

	// UndoEndpoint, when set, causes an undo-requested notification
	// before the entry is marked UNDONE.
	UndoEndpoint string

	// UndoPayload is opaque data for the undo handler.
	UndoPayload map[string]interface{}

	// Status is the current state machine position.
	Status Status

	// ExecutedAt and ExecutedBy record the successful execution.
	ExecutedAt *time.Time
	ExecutedBy string

	// UndoneAt and UndoneBy record the reversal.
	UndoneAt *time.Time
	UndoneBy string

	// FailureReason holds the last failure, or the decline reason.
	FailureReason string

	// Result is the output recorded at completion.
	Result map[string]interface{}

	// RetryCount is the number of retries consumed. Never exceeds
	// MaxRetries.
	RetryCount int

	// MaxRetries bounds retries for this entry.
	MaxRetries int

	// AI provenance, informational only.
	AIConfidence *float64
	AIReasoning  string
	AIModel      string

	// Audit timestamps.
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone creates a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	clone := *e

	if e.Payload != nil {
		clone.Payload = cloneMap(e.Payload)
	}
	if e.UndoPayload != nil {
		clone.UndoPayload = cloneMap(e.UndoPayload)
	}
	if e.Result != nil {
		clone.Result = cloneMap(e.Result)
	}
	if e.ScheduledFor != nil {
		ts := *e.ScheduledFor
		clone.ScheduledFor = &ts
	}
	if e.ExecutedAt != nil {
		ts := *e.ExecutedAt
		clone.ExecutedAt = &ts
	}
	if e.UndoneAt != nil {
		ts := *e.UndoneAt
		clone.UndoneAt = &ts
	}
	if e.AIConfidence != nil {
		c := *e.AIConfidence
		clone.AIConfidence = &c
	}

	return &clone
}

// cloneMap copies one level deep. Payloads are treated as opaque; nested
// values are shared.
func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// UndoDeadline returns the instant the undo window closes, or zero time
// if the entry is not undoable or has not executed.
func (e *Entry) UndoDeadline() time.Time {
	if e.UndoWindowMins <= 0 || e.ExecutedAt == nil {
		return time.Time{}
	}
	return e.ExecutedAt.Add(time.Duration(e.UndoWindowMins) * time.Minute)
}

// DefaultPriority is assigned when a creation request omits priority.
const DefaultPriority = 50

// DefaultMaxRetries bounds retries for entries that do not set their own.
const DefaultMaxRetries = 3

// CreateOptions is the admission payload for a new ledger entry.
type CreateOptions struct {
	TenantID       string
	Type           Type
	Category       Category
	Title          string
	Description    string
	Icon           string
	Priority       int // default 50
	EntityType     string
	EntityID       string
	ActionType     string
	ActionEndpoint string
	Payload        map[string]interface{}
	ScheduledFor   *time.Time
	UndoWindowMins int
	UndoEndpoint   string
	UndoPayload    map[string]interface{}
	AIConfidence   *float64
	AIReasoning    string
	AIModel        string
	IdempotencyKey string
	TraceID        string
	MaxRetries     int // default 3
}

// Validate checks the creation payload and normalizes defaults.
func (o *CreateOptions) Validate() error {
	if o.TenantID == "" {
		return lederr.InvalidInput("tenantId is required")
	}
	if !o.Type.Valid() {
		return lederr.InvalidInput("unknown task type: " + string(o.Type))
	}
	if !o.Category.Valid() {
		return lederr.InvalidInput("unknown task category: " + string(o.Category))
	}
	if o.Title == "" {
		return lederr.InvalidInput("title is required")
	}
	if o.Priority == 0 {
		o.Priority = DefaultPriority
	}
	if o.Priority < 1 || o.Priority > 100 {
		return lederr.InvalidInput("priority must be between 1 and 100")
	}
	if o.UndoWindowMins < 0 {
		return lederr.InvalidInput("undoWindowMins must not be negative")
	}
	if o.AIConfidence != nil && (*o.AIConfidence < 0 || *o.AIConfidence > 1) {
		return lederr.InvalidInput("aiConfidence must be between 0 and 1")
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.MaxRetries < 0 {
		return lederr.InvalidInput("maxRetries must not be negative")
	}
	return nil
}

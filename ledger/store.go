package ledger

import (
	"context"
	"time"
)

// Filter selects entries for list queries. Zero values mean "no
// constraint" except TenantID, which is always required.
type Filter struct {
	// TenantID scopes the query. Required.
	TenantID string

	// Statuses restricts to entries in any of these statuses.
	Statuses []Status

	// Types restricts to entries of any of these types.
	Types []Type

	// Categories restricts to entries in any of these categories.
	Categories []Category

	// EntityType and EntityID select entries referencing one domain
	// object. Both must be set together.
	EntityType string
	EntityID   string

	// PriorityMin drops entries below this priority.
	PriorityMin int

	// CreatedAfter drops entries created at or before this instant.
	CreatedAfter time.Time

	// Limit caps the result size. Zero means the store default.
	Limit int
}

// Stats summarizes a tenant's ledger for dashboard headers.
type Stats struct {
	Pending        int `json:"pending"`
	Approvals      int `json:"approvals"`
	CompletedToday int `json:"completedToday"`
	FailedToday    int `json:"failedToday"`
}

// Store is the persistent, queryable repository of ledger entries.
// It is the single source of truth; transitions are conditional writes
// guarded by the current-status precondition.
type Store interface {
	// Insert persists a new entry. Returns ErrDuplicateKey if another
	// entry already holds the same idempotency key.
	Insert(ctx context.Context, e *Entry) error

	// Get retrieves an entry by id scoped to a tenant. A missing id and
	// a tenant mismatch both return ErrNotFound.
	Get(ctx context.Context, id, tenantID string) (*Entry, error)

	// GetByIdempotencyKey retrieves an entry by its globally unique
	// idempotency key. Returns ErrNotFound on miss.
	GetByIdempotencyKey(ctx context.Context, key string) (*Entry, error)

	// Update persists the entry if its stored status is in expect.
	// Returns ErrStaleStatus if the precondition fails, ErrNotFound if
	// the entry is gone. An empty expect set means unconditional.
	Update(ctx context.Context, e *Entry, expect []Status) error

	// List returns entries matching the filter, ordered by priority
	// descending then createdAt ascending.
	List(ctx context.Context, f Filter) ([]*Entry, error)

	// CancelWhere moves every entry matching tenant/entity in one of
	// the from statuses to CANCELLED with the given reason, as a single
	// atomic bulk write. Returns the entries that were cancelled.
	CancelWhere(ctx context.Context, tenantID, entityType, entityID string, from []Status, reason string) ([]*Entry, error)

	// Stats counts pending work and today's outcomes for a tenant.
	// dayStart is the tenant-local start of "today".
	Stats(ctx context.Context, tenantID string, dayStart time.Time) (*Stats, error)

	// Close releases resources held by the store.
	Close() error
}

// statusIn reports whether s is in the set. An empty set matches all.
func statusIn(s Status, set []Status) bool {
	if len(set) == 0 {
		return true
	}
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// typeIn reports whether t is in the set. An empty set matches all.
func typeIn(t Type, set []Type) bool {
	if len(set) == 0 {
		return true
	}
	for _, v := range set {
		if v == t {
			return true
		}
	}
	return false
}

// categoryIn reports whether c is in the set. An empty set matches all.
func categoryIn(c Category, set []Category) bool {
	if len(set) == 0 {
		return true
	}
	for _, v := range set {
		if v == c {
			return true
		}
	}
	return false
}

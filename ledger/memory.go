package ledger

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// defaultListLimit caps List results when the filter does not set one.
const defaultListLimit = 100

// MemoryStore implements Store using in-memory maps.
// Useful for testing and single-process scenarios.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*Entry
	byKey  map[string]string // idempotency key -> entry id
	closed atomic.Bool
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]*Entry),
		byKey: make(map[string]string),
	}
}

// Insert persists a new entry.
func (s *MemoryStore) Insert(ctx context.Context, e *Entry) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byKey[e.IdempotencyKey]; ok {
		return ErrDuplicateKey
	}

	s.byID[e.ID] = e.Clone()
	s.byKey[e.IdempotencyKey] = e.ID
	return nil
}

// Get retrieves an entry by id scoped to a tenant.
func (s *MemoryStore) Get(ctx context.Context, id, tenantID string) (*Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byID[id]
	if !ok || e.TenantID != tenantID {
		// Identical outcome for miss and tenant mismatch.
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

// GetByIdempotencyKey retrieves an entry by its idempotency key.
func (s *MemoryStore) GetByIdempotencyKey(ctx context.Context, key string) (*Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if key == "" {
		return nil, ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	e, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

// Update persists the entry if its stored status is in expect.
func (s *MemoryStore) Update(ctx context.Context, e *Entry, expect []Status) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[e.ID]
	if !ok || stored.TenantID != e.TenantID {
		return ErrNotFound
	}
	if len(expect) > 0 && !statusIn(stored.Status, expect) {
		return ErrStaleStatus
	}

	clone := e.Clone()
	if clone.UpdatedAt.IsZero() {
		clone.UpdatedAt = time.Now()
	}
	s.byID[e.ID] = clone
	return nil
}

// List returns entries matching the filter, ordered by priority
// descending then createdAt ascending.
func (s *MemoryStore) List(ctx context.Context, f Filter) ([]*Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Entry
	for _, e := range s.byID {
		if !matches(e, f) {
			continue
		}
		out = append(out, e.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// matches applies every filter constraint to one entry.
func matches(e *Entry, f Filter) bool {
	if e.TenantID != f.TenantID {
		return false
	}
	if !statusIn(e.Status, f.Statuses) {
		return false
	}
	if !typeIn(e.Type, f.Types) {
		return false
	}
	if !categoryIn(e.Category, f.Categories) {
		return false
	}
	if f.EntityType != "" && (e.EntityType != f.EntityType || e.EntityID != f.EntityID) {
		return false
	}
	if f.PriorityMin > 0 && e.Priority < f.PriorityMin {
		return false
	}
	if !f.CreatedAfter.IsZero() && !e.CreatedAt.After(f.CreatedAfter) {
		return false
	}
	return true
}

// CancelWhere moves every matching entry to CANCELLED in one pass under
// a single lock acquisition.
func (s *MemoryStore) CancelWhere(ctx context.Context, tenantID, entityType, entityID string, from []Status, reason string) ([]*Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var cancelled []*Entry
	for _, e := range s.byID {
		if e.TenantID != tenantID || e.EntityType != entityType || e.EntityID != entityID {
			continue
		}
		if !statusIn(e.Status, from) {
			continue
		}
		e.Status = StatusCancelled
		e.FailureReason = reason
		e.UpdatedAt = now
		cancelled = append(cancelled, e.Clone())
	}
	return cancelled, nil
}

// Stats counts pending work and today's outcomes for a tenant.
func (s *MemoryStore) Stats(ctx context.Context, tenantID string, dayStart time.Time) (*Stats, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{}
	for _, e := range s.byID {
		if e.TenantID != tenantID {
			continue
		}
		switch e.Status {
		case StatusPending:
			stats.Pending++
			if e.Type == TypeApproval {
				stats.Approvals++
			}
		case StatusCompleted:
			if e.ExecutedAt != nil && !e.ExecutedAt.Before(dayStart) {
				stats.CompletedToday++
			}
		case StatusFailed:
			if !e.UpdatedAt.Before(dayStart) {
				stats.FailedToday++
			}
		}
	}
	return stats, nil
}

// Close shuts down the store.
func (s *MemoryStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return nil
}

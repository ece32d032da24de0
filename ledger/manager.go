package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fieldserve/taskledger/bus"
	lederr "github.com/fieldserve/taskledger/errors"
	"github.com/fieldserve/taskledger/logging"
	"github.com/fieldserve/taskledger/queue"
)

// ApprovalPriority is the job priority used when a human approves a
// task. Approved work pre-empts everything waiting in the queue.
const ApprovalPriority = 100

// Query limit defaults. List queries clamp caller limits to MaxQueryLimit.
const (
	MaxQueryLimit           = 100
	DefaultPendingLimit     = 20
	DefaultApprovalsLimit   = 10
	DefaultTodayLimit       = 20
	DefaultEntityTasksLimit = 10
)

// ManagerConfig holds manager configuration.
type ManagerConfig struct {
	// Location resolves "today" for daily queries and stats.
	// Default: time.UTC
	Location *time.Location
}

// DefaultManagerConfig returns configuration with sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Location: time.UTC,
	}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithConfig sets the manager configuration.
func WithConfig(cfg ManagerConfig) ManagerOption {
	return func(m *Manager) {
		if cfg.Location != nil {
			m.config.Location = cfg.Location
		}
	}
}

// WithBus sets the event bus lifecycle notifications are published on.
// Without a bus the manager is silent but fully functional.
func WithBus(b bus.EventBus) ManagerOption {
	return func(m *Manager) {
		m.bus = b
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l.WithComponent("ledger")
	}
}

// WithClock sets the time source. Used by tests to control the undo
// window and scheduling boundaries.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// WithIDGenerator sets a custom entry id generator.
func WithIDGenerator(gen func() string) ManagerOption {
	return func(m *Manager) {
		m.newID = gen
	}
}

// Manager is the ledger's entry point: it admits new tasks exactly
// once, drives their lifecycle through the state machine, and answers
// dashboard queries. The store is the source of truth; the job queue
// and event bus are downstream of every persisted transition.
type Manager struct {
	store  Store
	jobs   queue.JobQueue
	bus    bus.EventBus
	logger *logging.Logger
	config ManagerConfig
	now    func() time.Time
	newID  func() string
}

// NewManager creates a new Manager backed by the given store and job
// queue.
func NewManager(store Store, jobs queue.JobQueue, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, lederr.InvalidInput("store is required")
	}
	if jobs == nil {
		return nil, lederr.InvalidInput("job queue is required")
	}

	m := &Manager{
		store:  store,
		jobs:   jobs,
		config: DefaultManagerConfig(),
		now:    time.Now,
		newID:  uuid.NewString,
		logger: logging.New().WithComponent("ledger"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// CreateTask admits a task into the ledger. Admission is idempotent:
// a second call with an equivalent payload returns the existing entry
// untouched, whatever state it has since reached. A future ScheduledFor
// admits the entry as SCHEDULED with a delayed job already enqueued.
func (m *Manager) CreateTask(ctx context.Context, opts CreateOptions) (*Entry, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	key := DeriveIdempotencyKey(&opts)

	existing, err := m.store.GetByIdempotencyKey(ctx, key)
	if err == nil {
		m.logger.Deduplicated(existing.ID, key)
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, m.storeErr(err, "")
	}

	now := m.now()
	entry := &Entry{
		ID:             m.newID(),
		TenantID:       opts.TenantID,
		Type:           opts.Type,
		Category:       opts.Category,
		Priority:       opts.Priority,
		Title:          opts.Title,
		Description:    opts.Description,
		Icon:           opts.Icon,
		EntityType:     opts.EntityType,
		EntityID:       opts.EntityID,
		ActionType:     opts.ActionType,
		ActionEndpoint: opts.ActionEndpoint,
		Payload:        opts.Payload,
		IdempotencyKey: key,
		TraceID:        opts.TraceID,
		UndoWindowMins: opts.UndoWindowMins,
		UndoEndpoint:   opts.UndoEndpoint,
		UndoPayload:    opts.UndoPayload,
		Status:         StatusPending,
		MaxRetries:     opts.MaxRetries,
		AIConfidence:   opts.AIConfidence,
		AIReasoning:    opts.AIReasoning,
		AIModel:        opts.AIModel,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	scheduled := opts.ScheduledFor != nil && opts.ScheduledFor.After(now)
	if scheduled {
		ts := *opts.ScheduledFor
		entry.ScheduledFor = &ts
		entry.Status = StatusScheduled
	}

	if err := m.store.Insert(ctx, entry); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			// Lost an admission race; the winner's entry is the answer.
			winner, rerr := m.store.GetByIdempotencyKey(ctx, key)
			if rerr != nil {
				return nil, m.storeErr(rerr, "")
			}
			m.logger.Deduplicated(winner.ID, key)
			return winner, nil
		}
		return nil, m.storeErr(err, "")
	}

	if scheduled {
		job := queue.Job{
			ID:       queue.ScheduleJobID(entry.ID),
			TaskID:   entry.ID,
			TenantID: entry.TenantID,
			Priority: entry.Priority,
			RunAt:    *entry.ScheduledFor,
		}
		if err := m.jobs.Enqueue(ctx, job); err != nil {
			// The entry exists but nothing will ever run it. Park it as
			// FAILED so it surfaces on dashboards instead of rotting as
			// SCHEDULED forever.
			entry.Status = StatusFailed
			entry.FailureReason = "failed to enqueue scheduled job: " + err.Error()
			entry.UpdatedAt = m.now()
			if uerr := m.store.Update(ctx, entry, []Status{StatusScheduled}); uerr != nil {
				m.logger.Error("failed to park unenqueueable entry", map[string]interface{}{
					"task":  entry.ID,
					"error": uerr.Error(),
				})
			}
			return nil, lederr.QueueFailure("enqueue scheduled job: "+err.Error(),
				lederr.WithTaskID(entry.ID), lederr.WithTenantID(entry.TenantID), lederr.WithCause(err))
		}
		m.logger.Enqueued(entry.ID, job.ID, entry.ScheduledFor.Sub(now))
	}

	m.logger.Admitted(entry.ID, key, entry.Status.String())
	m.emit(SubjectTaskCreated, entry, "", "")
	return entry, nil
}

// Task returns a single entry scoped to a tenant.
func (m *Manager) Task(ctx context.Context, tenantID, id string) (*Entry, error) {
	entry, err := m.store.Get(ctx, id, tenantID)
	if err != nil {
		return nil, m.storeErr(err, id)
	}
	return entry, nil
}

// Approve moves a waiting task into execution on behalf of a human.
// Any schedule or retry job still pending is cancelled and replaced by
// an immediate job at ApprovalPriority, so approved work jumps the
// queue. The job is enqueued before the status commit: a crash between
// the two leaves a duplicate job, never a stuck IN_PROGRESS entry.
func (m *Manager) Approve(ctx context.Context, tenantID, id, approvedBy string) (*Entry, error) {
	entry, err := m.store.Get(ctx, id, tenantID)
	if err != nil {
		return nil, m.storeErr(err, id)
	}

	waiting := []Status{StatusPending, StatusScheduled}
	if !statusIn(entry.Status, waiting) {
		return nil, lederr.InvalidState(id, entry.Status.String(),
			[]string{StatusPending.String(), StatusScheduled.String()},
			lederr.WithTenantID(tenantID))
	}

	m.cancelJob(ctx, entry.ID, queue.ScheduleJobID(entry.ID))
	m.cancelJob(ctx, entry.ID, queue.RetryJobID(entry.ID, entry.RetryCount))

	now := m.now()
	job := queue.Job{
		ID:         queue.ApprovalJobID(entry.ID),
		TaskID:     entry.ID,
		TenantID:   entry.TenantID,
		ApprovedBy: approvedBy,
		Priority:   ApprovalPriority,
		RunAt:      now,
	}
	if err := m.jobs.Enqueue(ctx, job); err != nil {
		// Entry stays approvable; the caller can retry.
		return nil, lederr.QueueFailure("enqueue approved job: "+err.Error(),
			lederr.WithTaskID(entry.ID), lederr.WithTenantID(tenantID), lederr.WithCause(err))
	}
	m.logger.Enqueued(entry.ID, job.ID, 0)

	from := entry.Status
	entry.Status = StatusInProgress
	entry.ScheduledFor = nil
	entry.UpdatedAt = now
	if err := m.store.Update(ctx, entry, waiting); err != nil {
		return nil, m.transitionErr(ctx, err, tenantID, id, waiting)
	}

	m.logger.Transition(entry.ID, from.String(), entry.Status.String())
	m.emit(SubjectTaskApproved, entry, approvedBy, "")
	return entry, nil
}

// Decline cancels a waiting task with a recorded reason. The schedule
// job, if any, is cancelled best-effort.
func (m *Manager) Decline(ctx context.Context, tenantID, id, declinedBy, reason string) (*Entry, error) {
	entry, err := m.store.Get(ctx, id, tenantID)
	if err != nil {
		return nil, m.storeErr(err, id)
	}

	waiting := []Status{StatusPending, StatusScheduled}
	if !statusIn(entry.Status, waiting) {
		return nil, lederr.InvalidState(id, entry.Status.String(),
			[]string{StatusPending.String(), StatusScheduled.String()},
			lederr.WithTenantID(tenantID))
	}

	m.cancelJob(ctx, entry.ID, queue.ScheduleJobID(entry.ID))

	from := entry.Status
	entry.Status = StatusCancelled
	entry.FailureReason = reason
	entry.UpdatedAt = m.now()
	if err := m.store.Update(ctx, entry, waiting); err != nil {
		return nil, m.transitionErr(ctx, err, tenantID, id, waiting)
	}

	m.logger.Transition(entry.ID, from.String(), entry.Status.String())
	m.emit(SubjectTaskDeclined, entry, declinedBy, reason)
	return entry, nil
}

// CompleteTask marks a task done by hand, recording who finished it and
// an optional result. Outstanding retry jobs are cancelled best-effort.
func (m *Manager) CompleteTask(ctx context.Context, tenantID, id, completedBy string, result map[string]interface{}) (*Entry, error) {
	entry, err := m.store.Get(ctx, id, tenantID)
	if err != nil {
		return nil, m.storeErr(err, id)
	}

	allowed := []Status{StatusPending, StatusInProgress}
	if !statusIn(entry.Status, allowed) {
		return nil, lederr.InvalidState(id, entry.Status.String(),
			[]string{StatusPending.String(), StatusInProgress.String()},
			lederr.WithTenantID(tenantID))
	}

	m.cancelJob(ctx, entry.ID, queue.RetryJobID(entry.ID, entry.RetryCount))

	from := entry.Status
	now := m.now()
	entry.Status = StatusCompleted
	entry.ExecutedAt = &now
	entry.ExecutedBy = completedBy
	entry.Result = result
	entry.UpdatedAt = now
	if err := m.store.Update(ctx, entry, allowed); err != nil {
		return nil, m.transitionErr(ctx, err, tenantID, id, allowed)
	}

	m.logger.Transition(entry.ID, from.String(), entry.Status.String())
	m.emit(SubjectTaskCompleted, entry, completedBy, "")
	return entry, nil
}

// UndoTask reverses a completed task inside its undo window. Tasks with
// an undo endpoint get an undo-requested notification before the status
// flips; the entry is marked UNDONE either way. After the window closes
// the refusal is distinguishable from any other invalid-state error.
func (m *Manager) UndoTask(ctx context.Context, tenantID, id, undoneBy string) (*Entry, error) {
	entry, err := m.store.Get(ctx, id, tenantID)
	if err != nil {
		return nil, m.storeErr(err, id)
	}

	if entry.Status != StatusCompleted {
		return nil, lederr.InvalidState(id, entry.Status.String(),
			[]string{StatusCompleted.String()},
			lederr.WithTenantID(tenantID))
	}
	if entry.UndoWindowMins <= 0 {
		return nil, lederr.Newf(lederr.ErrCodeInvalidState, "task %s does not support undo", id)
	}
	if m.now().After(entry.UndoDeadline()) {
		return nil, lederr.UndoWindowExpired(id, entry.UndoWindowMins,
			lederr.WithTenantID(tenantID))
	}

	if entry.UndoEndpoint != "" {
		m.emit(SubjectTaskUndoRequested, entry, undoneBy, "")
	}

	now := m.now()
	entry.Status = StatusUndone
	entry.UndoneAt = &now
	entry.UndoneBy = undoneBy
	entry.UpdatedAt = now
	if err := m.store.Update(ctx, entry, []Status{StatusCompleted}); err != nil {
		return nil, m.transitionErr(ctx, err, tenantID, id, []Status{StatusCompleted})
	}

	m.logger.Transition(entry.ID, StatusCompleted.String(), entry.Status.String())
	m.emit(SubjectTaskUndone, entry, undoneBy, "")
	return entry, nil
}

// CancelEntityTasks cancels every waiting task that references a domain
// object, in one bulk write. Used when the object a task was about goes
// away (an invoice gets paid, an appointment is deleted). Returns the
// entries that were cancelled.
func (m *Manager) CancelEntityTasks(ctx context.Context, tenantID, entityType, entityID, reason string) ([]*Entry, error) {
	if entityType == "" || entityID == "" {
		return nil, lederr.InvalidInput("entityType and entityId are required")
	}

	waiting := []Status{StatusPending, StatusScheduled}
	cancelled, err := m.store.CancelWhere(ctx, tenantID, entityType, entityID, waiting, reason)
	if err != nil {
		return nil, m.storeErr(err, "")
	}

	for _, entry := range cancelled {
		m.cancelJob(ctx, entry.ID, queue.ScheduleJobID(entry.ID))
		m.cancelJob(ctx, entry.ID, queue.RetryJobID(entry.ID, entry.RetryCount))
		m.logger.Transition(entry.ID, "", StatusCancelled.String())
		m.emit(SubjectTaskCancelled, entry, "", reason)
	}
	return cancelled, nil
}

// PendingQuery narrows a PendingTasks call. Zero values mean no
// constraint.
type PendingQuery struct {
	Types       []Type
	Categories  []Category
	PriorityMin int
	Limit       int
}

// PendingTasks returns the tenant's PENDING entries, highest priority
// first. SCHEDULED entries are not pending: nothing is waiting on a
// human for them yet.
func (m *Manager) PendingTasks(ctx context.Context, tenantID string, q PendingQuery) ([]*Entry, error) {
	return m.list(ctx, Filter{
		TenantID:    tenantID,
		Statuses:    []Status{StatusPending},
		Types:       q.Types,
		Categories:  q.Categories,
		PriorityMin: q.PriorityMin,
		Limit:       clampLimit(q.Limit, DefaultPendingLimit),
	})
}

// PendingApprovals returns PENDING entries of type APPROVAL, the subset
// of pending work that is blocked on a human decision.
func (m *Manager) PendingApprovals(ctx context.Context, tenantID string, limit int) ([]*Entry, error) {
	return m.list(ctx, Filter{
		TenantID: tenantID,
		Statuses: []Status{StatusPending},
		Types:    []Type{TypeApproval},
		Limit:    clampLimit(limit, DefaultApprovalsLimit),
	})
}

// TodaysTasks returns entries created since the start of today in the
// manager's location, whatever their status.
func (m *Manager) TodaysTasks(ctx context.Context, tenantID string, limit int) ([]*Entry, error) {
	return m.list(ctx, Filter{
		TenantID:     tenantID,
		CreatedAfter: m.dayStart().Add(-time.Nanosecond),
		Limit:        clampLimit(limit, DefaultTodayLimit),
	})
}

// EntityTasks returns entries referencing one domain object, any status.
func (m *Manager) EntityTasks(ctx context.Context, tenantID, entityType, entityID string, limit int) ([]*Entry, error) {
	if entityType == "" || entityID == "" {
		return nil, lederr.InvalidInput("entityType and entityId are required")
	}
	return m.list(ctx, Filter{
		TenantID:   tenantID,
		EntityType: entityType,
		EntityID:   entityID,
		Limit:      clampLimit(limit, DefaultEntityTasksLimit),
	})
}

// TaskStats returns dashboard counters for a tenant.
func (m *Manager) TaskStats(ctx context.Context, tenantID string) (*Stats, error) {
	if tenantID == "" {
		return nil, lederr.InvalidInput("tenantId is required")
	}
	stats, err := m.store.Stats(ctx, tenantID, m.dayStart())
	if err != nil {
		return nil, m.storeErr(err, "")
	}
	return stats, nil
}

func (m *Manager) list(ctx context.Context, f Filter) ([]*Entry, error) {
	if f.TenantID == "" {
		return nil, lederr.InvalidInput("tenantId is required")
	}
	entries, err := m.store.List(ctx, f)
	if err != nil {
		return nil, m.storeErr(err, "")
	}
	return entries, nil
}

// dayStart returns midnight today in the configured location.
func (m *Manager) dayStart() time.Time {
	now := m.now().In(m.config.Location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, m.config.Location)
}

// cancelJob cancels a queued job, logging but swallowing failures.
// A leftover job is harmless: execution of a terminal entry is a no-op.
func (m *Manager) cancelJob(ctx context.Context, taskID, jobID string) {
	if err := m.jobs.Cancel(ctx, jobID); err != nil {
		m.logger.JobCancelFailed(taskID, jobID, err)
	}
}

// emit publishes a lifecycle notification. Publishing is fire-and-forget;
// failures are logged and dropped.
func (m *Manager) emit(subject string, entry *Entry, actor, reason string) {
	if m.bus == nil {
		return
	}
	data, err := NewLifecycleEvent(entry, actor, reason, m.now()).Marshal()
	if err != nil {
		return
	}
	if err := m.bus.Publish(subject, data); err != nil {
		m.logger.Warn("event publish failed", map[string]interface{}{
			"subject": subject,
			"task":    entry.ID,
			"error":   err.Error(),
		})
	}
}

// storeErr maps store sentinels into the structured taxonomy.
func (m *Manager) storeErr(err error, taskID string) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return lederr.NotFound(taskID)
	case errors.Is(err, ErrDuplicateKey):
		return lederr.Conflict("idempotency key already exists", lederr.WithTaskID(taskID))
	default:
		return lederr.StoreFailure(err.Error(), lederr.WithTaskID(taskID), lederr.WithCause(err))
	}
}

// transitionErr maps a failed conditional update. A stale-status result
// means a concurrent writer won; report the status it left behind.
func (m *Manager) transitionErr(ctx context.Context, err error, tenantID, id string, allowed []Status) error {
	if !errors.Is(err, ErrStaleStatus) {
		return m.storeErr(err, id)
	}
	names := make([]string, len(allowed))
	for i, s := range allowed {
		names[i] = s.String()
	}
	current := "UNKNOWN"
	if e, gerr := m.store.Get(ctx, id, tenantID); gerr == nil {
		current = e.Status.String()
	}
	return lederr.InvalidState(id, current, names, lederr.WithTenantID(tenantID))
}

// clampLimit applies the default and the hard cap to a caller limit.
func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}

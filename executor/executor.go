package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fieldserve/taskledger/bus"
	"github.com/fieldserve/taskledger/dispatch"
	lederr "github.com/fieldserve/taskledger/errors"
	"github.com/fieldserve/taskledger/ledger"
	"github.com/fieldserve/taskledger/logging"
	"github.com/fieldserve/taskledger/queue"
)

// SystemActor is recorded as executedBy when no human approved the task.
const SystemActor = "SYSTEM"

// Result is the outcome of one execution attempt. Executor errors never
// propagate as Go errors to job consumers: they are absorbed into the
// entry's persisted status, and Result carries what happened for logs
// and tests.
type Result struct {
	// Success is true when the attempt left the entry COMPLETED, or
	// found nothing to do.
	Success bool

	// Subject is the bus subject the action event went out on, if any.
	Subject string

	// Err is the failure that was absorbed, if any.
	Err error
}

// Executor drives one execution attempt for a due task: load, guard,
// dispatch, commit the outcome. It owns the retry decision on failure.
type Executor struct {
	store      ledger.Store
	jobs       queue.JobQueue
	dispatcher *dispatch.Dispatcher
	policy     RetryPolicy
	bus        bus.EventBus
	logger     *logging.Logger
	now        func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithPolicy sets the retry policy.
func WithPolicy(p RetryPolicy) Option {
	return func(x *Executor) {
		x.policy = p
	}
}

// WithBus sets the event bus lifecycle notifications are published on.
func WithBus(b bus.EventBus) Option {
	return func(x *Executor) {
		x.bus = b
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(x *Executor) {
		x.logger = l.WithComponent("executor")
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(x *Executor) {
		x.now = now
	}
}

// NewExecutor creates an Executor.
func NewExecutor(store ledger.Store, jobs queue.JobQueue, d *dispatch.Dispatcher, opts ...Option) *Executor {
	x := &Executor{
		store:      store,
		jobs:       jobs,
		dispatcher: d,
		policy:     DefaultRetryPolicy(),
		logger:     logging.New().WithComponent("executor"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Execute runs one attempt for a task. Safe to call any number of times
// for the same task: a terminal entry is a successful no-op, which is
// the primary defense against at-least-once job delivery.
func (x *Executor) Execute(ctx context.Context, taskID, tenantID, approvedBy string) Result {
	started := x.now()
	res := x.execute(ctx, taskID, tenantID, approvedBy)
	x.logger.ExecutionResult(taskID, x.now().Sub(started), res.Err)
	return res
}

func (x *Executor) execute(ctx context.Context, taskID, tenantID, approvedBy string) Result {
	entry, err := x.store.Get(ctx, taskID, tenantID)
	if err != nil {
		// A job pointing at nothing is an integrity problem, not a
		// transient one. Nothing to park as FAILED either.
		return Result{Err: lederr.NotFound(taskID, lederr.WithTenantID(tenantID))}
	}

	if entry.Status.IsTerminal() {
		return Result{Success: true}
	}

	entry.Status = ledger.StatusInProgress
	entry.UpdatedAt = x.now()
	expect := []ledger.Status{ledger.StatusPending, ledger.StatusScheduled, ledger.StatusInProgress}
	if err := x.store.Update(ctx, entry, expect); err != nil {
		if errors.Is(err, ledger.ErrStaleStatus) {
			// A concurrent decline or cancel won the race. Their write
			// stands; this delivery has nothing left to do.
			return Result{Success: true}
		}
		return Result{Err: lederr.StoreFailure(err.Error(), lederr.WithTaskID(taskID), lederr.WithCause(err))}
	}

	actor := approvedBy
	if actor == "" {
		actor = SystemActor
	}

	// Pure acknowledgement task, nothing to dispatch.
	if entry.ActionType == "" {
		return x.complete(ctx, entry, actor, "", nil)
	}

	subject, err := x.dispatch(entry)
	if err != nil {
		return x.fail(ctx, entry, err)
	}

	return x.complete(ctx, entry, actor, subject, map[string]interface{}{
		"event": subject,
	})
}

// dispatch hands the action event off, converting a panicking route
// into an error instead of crashing the worker.
func (x *Executor) dispatch(entry *ledger.Entry) (subject string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = lederr.RecoverPanic(r)
		}
	}()
	subject, err = x.dispatcher.Dispatch(entry)
	if err != nil {
		err = lederr.ActionFailure(entry.ID, err.Error(),
			lederr.WithTenantID(entry.TenantID), lederr.WithCause(err))
	}
	return subject, err
}

func (x *Executor) complete(ctx context.Context, entry *ledger.Entry, actor, subject string, result map[string]interface{}) Result {
	now := x.now()
	entry.Status = ledger.StatusCompleted
	entry.ExecutedAt = &now
	entry.ExecutedBy = actor
	entry.Result = result
	entry.UpdatedAt = now

	if err := x.store.Update(ctx, entry, []ledger.Status{ledger.StatusInProgress}); err != nil {
		return Result{Err: lederr.StoreFailure(err.Error(), lederr.WithTaskID(entry.ID), lederr.WithCause(err))}
	}

	x.logger.Transition(entry.ID, ledger.StatusInProgress.String(), entry.Status.String())
	x.emit(ledger.SubjectTaskCompleted, entry, actor, "")
	x.emitExecuted(entry, true, "")
	return Result{Success: true, Subject: subject}
}

// fail applies the retry policy to a failed attempt. The retry job is
// enqueued before SCHEDULED is committed: if the enqueue fails the
// entry falls back to FAILED with a compound reason, so a SCHEDULED
// entry always has a live job behind it. The inverse leak, a job
// outliving a FAILED entry, is absorbed by the terminal no-op check.
func (x *Executor) fail(ctx context.Context, entry *ledger.Entry, cause error) Result {
	if !x.policy.ShouldRetry(entry, cause) {
		return x.markFailed(ctx, entry, cause.Error(), cause)
	}

	attempt := entry.RetryCount + 1
	delay := x.policy.Delay(attempt)
	runAt := x.now().Add(delay)

	job := queue.Job{
		ID:       queue.RetryJobID(entry.ID, attempt),
		TaskID:   entry.ID,
		TenantID: entry.TenantID,
		Priority: entry.Priority,
		RunAt:    runAt,
	}
	if err := x.jobs.Enqueue(ctx, job); err != nil {
		reason := fmt.Sprintf("%s (retry enqueue failed: %s)", cause.Error(), err.Error())
		return x.markFailed(ctx, entry, reason, cause)
	}

	entry.Status = ledger.StatusScheduled
	entry.RetryCount = attempt
	entry.ScheduledFor = &runAt
	entry.FailureReason = cause.Error()
	entry.UpdatedAt = x.now()
	if err := x.store.Update(ctx, entry, []ledger.Status{ledger.StatusInProgress}); err != nil {
		return Result{Err: lederr.StoreFailure(err.Error(), lederr.WithTaskID(entry.ID), lederr.WithCause(err))}
	}

	x.logger.RetryScheduled(entry.ID, attempt, delay)
	return Result{Err: cause}
}

func (x *Executor) markFailed(ctx context.Context, entry *ledger.Entry, reason string, cause error) Result {
	entry.Status = ledger.StatusFailed
	entry.FailureReason = reason
	entry.UpdatedAt = x.now()
	if err := x.store.Update(ctx, entry, []ledger.Status{ledger.StatusInProgress}); err != nil {
		return Result{Err: lederr.StoreFailure(err.Error(), lederr.WithTaskID(entry.ID), lederr.WithCause(err))}
	}

	x.logger.Transition(entry.ID, ledger.StatusInProgress.String(), entry.Status.String())
	x.emit(ledger.SubjectTaskFailed, entry, "", reason)
	x.emitExecuted(entry, false, reason)
	return Result{Err: cause}
}

func (x *Executor) emitExecuted(entry *ledger.Entry, success bool, reason string) {
	if x.bus == nil {
		return
	}
	data, err := ledger.ExecutionEvent{
		TaskID:        entry.ID,
		TenantID:      entry.TenantID,
		Success:       success,
		FailureReason: reason,
		OccurredAt:    x.now(),
	}.Marshal()
	if err != nil {
		return
	}
	if err := x.bus.Publish(ledger.SubjectTaskExecuted, data); err != nil {
		x.logger.Warn("event publish failed", map[string]interface{}{
			"subject": ledger.SubjectTaskExecuted,
			"task":    entry.ID,
			"error":   err.Error(),
		})
	}
}

func (x *Executor) emit(subject string, entry *ledger.Entry, actor, reason string) {
	if x.bus == nil {
		return
	}
	data, err := ledger.NewLifecycleEvent(entry, actor, reason, x.now()).Marshal()
	if err != nil {
		return
	}
	if err := x.bus.Publish(subject, data); err != nil {
		x.logger.Warn("event publish failed", map[string]interface{}{
			"subject": subject,
			"task":    entry.ID,
			"error":   err.Error(),
		})
	}
}

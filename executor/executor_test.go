package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/fieldserve/taskledger/bus"
	"github.com/fieldserve/taskledger/dispatch"
	"github.com/fieldserve/taskledger/ledger"
	"github.com/fieldserve/taskledger/queue"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

// failingBus rejects every publish, so every dispatch attempt fails.
type failingBus struct{}

func (failingBus) Publish(subject string, data []byte) error {
	return errors.New("bus down")
}
func (failingBus) Subscribe(subject string) (bus.Subscription, error) {
	return nil, errors.New("bus down")
}
func (failingBus) QueueSubscribe(subject, group string) (bus.Subscription, error) {
	return nil, errors.New("bus down")
}
func (failingBus) Close() error { return nil }

// panicBus panics on publish, standing in for a misbehaving route.
type panicBus struct{}

func (panicBus) Publish(subject string, data []byte) error {
	panic("route exploded")
}
func (panicBus) Subscribe(subject string) (bus.Subscription, error) {
	return nil, errors.New("unsupported")
}
func (panicBus) QueueSubscribe(subject, group string) (bus.Subscription, error) {
	return nil, errors.New("unsupported")
}
func (panicBus) Close() error { return nil }

// failingQueue rejects every enqueue.
type failingQueue struct{}

func (failingQueue) Enqueue(ctx context.Context, job queue.Job) error {
	return errors.New("queue down")
}
func (failingQueue) Cancel(ctx context.Context, jobID string) error { return nil }
func (failingQueue) Lookup(ctx context.Context, jobID string) (*queue.Job, error) {
	return nil, queue.ErrJobNotFound
}
func (failingQueue) Jobs() <-chan queue.Job { return nil }
func (failingQueue) Close() error           { return nil }

func insertEntry(t *testing.T, store ledger.Store, actionType string) *ledger.Entry {
	t.Helper()
	now := time.Now()
	e := &ledger.Entry{
		ID:             fmt.Sprintf("task-%s", t.Name()),
		TenantID:       "tenant-1",
		Type:           ledger.TypeAIAction,
		Category:       ledger.CategoryBilling,
		Priority:       ledger.DefaultPriority,
		Title:          "test task",
		EntityType:     "invoice",
		EntityID:       "inv-1",
		ActionType:     actionType,
		Payload:        map[string]interface{}{"amount": 125},
		IdempotencyKey: "key-" + t.Name(),
		Status:         ledger.StatusPending,
		MaxRetries:     ledger.DefaultMaxRetries,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := store.Insert(context.Background(), e); err != nil {
		t.Fatalf("Failed to insert entry: %v", err)
	}
	return e
}

func TestExecuteCompletesAction(t *testing.T) {
	store := ledger.NewMemoryStore()
	defer store.Close()
	jobs := queue.NewMemoryQueue(queue.MemoryConfig{PollInterval: time.Hour})
	defer jobs.Close()
	eventBus := bus.NewMemoryBus(bus.DefaultConfig())
	defer eventBus.Close()

	sub, err := eventBus.Subscribe("ledger.action.payment-reminder-requested")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	entry := insertEntry(t, store, "SEND_PAYMENT_REMINDER")
	exec := NewExecutor(store, jobs, dispatch.NewDispatcher(eventBus))

	res := exec.Execute(context.Background(), entry.ID, "tenant-1", "dr.smith")
	if !res.Success {
		t.Fatalf("Expected success, got %v", res.Err)
	}
	if res.Subject != "ledger.action.payment-reminder-requested" {
		t.Errorf("Unexpected subject %s", res.Subject)
	}

	select {
	case <-sub.Events():
	case <-time.After(time.Second):
		t.Fatal("Expected action event on the bus")
	}

	got, _ := store.Get(context.Background(), entry.ID, "tenant-1")
	if got.Status != ledger.StatusCompleted {
		t.Errorf("Expected COMPLETED, got %s", got.Status)
	}
	if got.ExecutedBy != "dr.smith" {
		t.Errorf("Expected approver recorded, got %q", got.ExecutedBy)
	}
	if got.ExecutedAt == nil {
		t.Error("Expected executedAt set")
	}
}

func TestExecuteSystemActor(t *testing.T) {
	store := ledger.NewMemoryStore()
	defer store.Close()
	jobs := queue.NewMemoryQueue(queue.MemoryConfig{PollInterval: time.Hour})
	defer jobs.Close()
	eventBus := bus.NewMemoryBus(bus.DefaultConfig())
	defer eventBus.Close()

	entry := insertEntry(t, store, "SEND_PAYMENT_REMINDER")
	exec := NewExecutor(store, jobs, dispatch.NewDispatcher(eventBus))

	if res := exec.Execute(context.Background(), entry.ID, "tenant-1", ""); !res.Success {
		t.Fatalf("Expected success, got %v", res.Err)
	}

	got, _ := store.Get(context.Background(), entry.ID, "tenant-1")
	if got.ExecutedBy != SystemActor {
		t.Errorf("Expected %s, got %q", SystemActor, got.ExecutedBy)
	}
}

func TestExecutedEventSuccessFlag(t *testing.T) {
	store := ledger.NewMemoryStore()
	defer store.Close()
	jobs := queue.NewMemoryQueue(queue.MemoryConfig{PollInterval: time.Hour})
	defer jobs.Close()
	eventBus := bus.NewMemoryBus(bus.DefaultConfig())
	defer eventBus.Close()

	sub, err := eventBus.Subscribe(ledger.SubjectTaskExecuted)
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	entry := insertEntry(t, store, "SEND_PAYMENT_REMINDER")
	exec := NewExecutor(store, jobs, dispatch.NewDispatcher(eventBus), WithBus(eventBus))

	if res := exec.Execute(context.Background(), entry.ID, "tenant-1", ""); !res.Success {
		t.Fatalf("Expected success, got %v", res.Err)
	}

	var ev ledger.ExecutionEvent
	select {
	case raw := <-sub.Events():
		if err := json.Unmarshal(raw.Data, &ev); err != nil {
			t.Fatalf("Failed to decode event: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected executed event on the bus")
	}
	if !ev.Success {
		t.Error("Expected success=true on completed execution")
	}
	if ev.TaskID != entry.ID || ev.TenantID != "tenant-1" {
		t.Errorf("Unexpected event identity: %+v", ev)
	}

	// Exhaust retries against a dead dispatcher bus; the final FAILED
	// commit reports success=false.
	now := time.Now()
	failed := &ledger.Entry{
		ID:             "task-failing",
		TenantID:       "tenant-1",
		Type:           ledger.TypeAIAction,
		Category:       ledger.CategoryMessaging,
		Priority:       ledger.DefaultPriority,
		Title:          "failing task",
		EntityType:     "customer",
		EntityID:       "cust-1",
		ActionType:     "SEND_SMS",
		IdempotencyKey: "key-failing",
		Status:         ledger.StatusPending,
		MaxRetries:     0,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := store.Insert(context.Background(), failed); err != nil {
		t.Fatalf("Failed to insert entry: %v", err)
	}
	failExec := NewExecutor(store, jobs, dispatch.NewDispatcher(failingBus{}), WithBus(eventBus))
	failExec.Execute(context.Background(), failed.ID, "tenant-1", "")

	select {
	case raw := <-sub.Events():
		if err := json.Unmarshal(raw.Data, &ev); err != nil {
			t.Fatalf("Failed to decode event: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected executed event for failed execution")
	}
	if ev.Success {
		t.Error("Expected success=false on failed execution")
	}
	if ev.FailureReason == "" {
		t.Error("Expected failureReason on failed execution")
	}
}

// A task without an action type is a pure acknowledgement: it completes
// without touching the dispatcher.
func TestExecuteAcknowledgement(t *testing.T) {
	store := ledger.NewMemoryStore()
	defer store.Close()
	jobs := queue.NewMemoryQueue(queue.MemoryConfig{PollInterval: time.Hour})
	defer jobs.Close()

	entry := insertEntry(t, store, "")
	// The failing bus proves the dispatcher is never invoked.
	exec := NewExecutor(store, jobs, dispatch.NewDispatcher(failingBus{}))

	res := exec.Execute(context.Background(), entry.ID, "tenant-1", "")
	if !res.Success {
		t.Fatalf("Expected success, got %v", res.Err)
	}
	got, _ := store.Get(context.Background(), entry.ID, "tenant-1")
	if got.Status != ledger.StatusCompleted {
		t.Errorf("Expected COMPLETED, got %s", got.Status)
	}
}

// Re-executing a finished task must be a success no-op with nothing
// dispatched and the original outcome untouched.
func TestExecuteTerminalNoOp(t *testing.T) {
	store := ledger.NewMemoryStore()
	defer store.Close()
	jobs := queue.NewMemoryQueue(queue.MemoryConfig{PollInterval: time.Hour})
	defer jobs.Close()
	eventBus := bus.NewMemoryBus(bus.DefaultConfig())
	defer eventBus.Close()

	entry := insertEntry(t, store, "SEND_PAYMENT_REMINDER")
	exec := NewExecutor(store, jobs, dispatch.NewDispatcher(eventBus))
	ctx := context.Background()

	if res := exec.Execute(ctx, entry.ID, "tenant-1", "dr.smith"); !res.Success {
		t.Fatalf("Expected first execution to succeed, got %v", res.Err)
	}
	first, _ := store.Get(ctx, entry.ID, "tenant-1")

	sub, err := eventBus.Subscribe("ledger.action.payment-reminder-requested")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	for i := 0; i < 2; i++ {
		if res := exec.Execute(ctx, entry.ID, "tenant-1", "dr.smith"); !res.Success {
			t.Fatalf("Expected duplicate delivery %d to succeed, got %v", i, res.Err)
		}
	}

	select {
	case <-sub.Events():
		t.Fatal("Expected no dispatch on duplicate delivery")
	case <-time.After(50 * time.Millisecond):
	}

	again, _ := store.Get(ctx, entry.ID, "tenant-1")
	if !again.ExecutedAt.Equal(*first.ExecutedAt) {
		t.Error("Expected executedAt unchanged")
	}
	if !again.UpdatedAt.Equal(first.UpdatedAt) {
		t.Error("Expected entry untouched by duplicate deliveries")
	}
}

func TestExecuteMissingEntry(t *testing.T) {
	store := ledger.NewMemoryStore()
	defer store.Close()
	jobs := queue.NewMemoryQueue(queue.MemoryConfig{PollInterval: time.Hour})
	defer jobs.Close()

	exec := NewExecutor(store, jobs, dispatch.NewDispatcher(bus.NewMemoryBus(bus.DefaultConfig())))

	res := exec.Execute(context.Background(), "no-such-task", "tenant-1", "")
	if res.Success {
		t.Error("Expected failure for missing entry")
	}
	if res.Err == nil {
		t.Error("Expected an error for missing entry")
	}
}

// With maxRetries=3 and every attempt failing: exactly 3 retries with
// growing backoff, 4 attempts total, then FAILED with no further job.
func TestRetryProgression(t *testing.T) {
	store := ledger.NewMemoryStore()
	defer store.Close()
	jobs := queue.NewMemoryQueue(queue.MemoryConfig{PollInterval: time.Hour})
	defer jobs.Close()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	entry := insertEntry(t, store, "SEND_PAYMENT_REMINDER")
	exec := NewExecutor(store, jobs, dispatch.NewDispatcher(failingBus{}),
		WithClock(clock.Now))
	ctx := context.Background()

	wantDelays := []time.Duration{30 * time.Second, 60 * time.Second, 90 * time.Second}
	for attempt := 1; attempt <= 3; attempt++ {
		res := exec.Execute(ctx, entry.ID, "tenant-1", "")
		if res.Success {
			t.Fatalf("Attempt %d: expected failure", attempt)
		}

		got, _ := store.Get(ctx, entry.ID, "tenant-1")
		if got.Status != ledger.StatusScheduled {
			t.Fatalf("Attempt %d: expected SCHEDULED, got %s", attempt, got.Status)
		}
		if got.RetryCount != attempt {
			t.Errorf("Attempt %d: expected retryCount %d, got %d", attempt, attempt, got.RetryCount)
		}
		wantAt := clock.now.Add(wantDelays[attempt-1])
		if got.ScheduledFor == nil || !got.ScheduledFor.Equal(wantAt) {
			t.Errorf("Attempt %d: expected scheduledFor %v, got %v", attempt, wantAt, got.ScheduledFor)
		}
		if _, err := jobs.Lookup(ctx, queue.RetryJobID(entry.ID, attempt)); err != nil {
			t.Errorf("Attempt %d: expected retry job, got %v", attempt, err)
		}
	}

	// Fourth attempt exhausts the budget.
	res := exec.Execute(ctx, entry.ID, "tenant-1", "")
	if res.Success {
		t.Fatal("Expected final attempt to fail")
	}
	got, _ := store.Get(ctx, entry.ID, "tenant-1")
	if got.Status != ledger.StatusFailed {
		t.Fatalf("Expected FAILED, got %s", got.Status)
	}
	if got.RetryCount != 3 {
		t.Errorf("Expected retryCount 3, got %d", got.RetryCount)
	}
	if got.FailureReason == "" {
		t.Error("Expected failure reason recorded")
	}
	if _, err := jobs.Lookup(ctx, queue.RetryJobID(entry.ID, 4)); !errors.Is(err, queue.ErrJobNotFound) {
		t.Errorf("Expected no 4th retry job, got %v", err)
	}

	// A 5th delivery of any stale job is a no-op.
	if res := exec.Execute(ctx, entry.ID, "tenant-1", ""); !res.Success {
		t.Errorf("Expected terminal no-op, got %v", res.Err)
	}
}

// A panicking route is absorbed as a non-retryable failure.
func TestPanicFailsWithoutRetry(t *testing.T) {
	store := ledger.NewMemoryStore()
	defer store.Close()
	jobs := queue.NewMemoryQueue(queue.MemoryConfig{PollInterval: time.Hour})
	defer jobs.Close()

	entry := insertEntry(t, store, "SEND_PAYMENT_REMINDER")
	exec := NewExecutor(store, jobs, dispatch.NewDispatcher(panicBus{}))
	ctx := context.Background()

	res := exec.Execute(ctx, entry.ID, "tenant-1", "")
	if res.Success {
		t.Fatal("Expected failure")
	}

	got, _ := store.Get(ctx, entry.ID, "tenant-1")
	if got.Status != ledger.StatusFailed {
		t.Errorf("Expected FAILED without retry, got %s", got.Status)
	}
	if got.RetryCount != 0 {
		t.Errorf("Expected no retries consumed, got %d", got.RetryCount)
	}
	if _, err := jobs.Lookup(ctx, queue.RetryJobID(entry.ID, 1)); !errors.Is(err, queue.ErrJobNotFound) {
		t.Errorf("Expected no retry job, got %v", err)
	}
}

// If the retry job cannot be enqueued the entry must fall back to
// FAILED with a compound reason, never sit SCHEDULED with no job.
func TestRetryEnqueueFailureFallsBack(t *testing.T) {
	store := ledger.NewMemoryStore()
	defer store.Close()

	entry := insertEntry(t, store, "SEND_PAYMENT_REMINDER")
	exec := NewExecutor(store, failingQueue{}, dispatch.NewDispatcher(failingBus{}))
	ctx := context.Background()

	res := exec.Execute(ctx, entry.ID, "tenant-1", "")
	if res.Success {
		t.Fatal("Expected failure")
	}

	got, _ := store.Get(ctx, entry.ID, "tenant-1")
	if got.Status != ledger.StatusFailed {
		t.Fatalf("Expected FAILED, got %s", got.Status)
	}
	if got.FailureReason == "" {
		t.Fatal("Expected a failure reason")
	}
	if want := "retry enqueue failed"; !strings.Contains(got.FailureReason, want) {
		t.Errorf("Expected compound reason mentioning %q, got %q", want, got.FailureReason)
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := DefaultRetryPolicy()
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 90 * time.Second},
		{10, 5 * time.Minute},
		{0, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := p.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

// End-to-end: an approval job flows through the worker pool and leaves
// the entry COMPLETED with the action event emitted.
func TestWorkerPoolExecutesJobs(t *testing.T) {
	store := ledger.NewMemoryStore()
	defer store.Close()
	jobs := queue.NewMemoryQueue(queue.MemoryConfig{PollInterval: 5 * time.Millisecond})
	defer jobs.Close()
	eventBus := bus.NewMemoryBus(bus.DefaultConfig())
	defer eventBus.Close()

	sub, err := eventBus.Subscribe("ledger.action.payment-reminder-requested")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	entry := insertEntry(t, store, "SEND_PAYMENT_REMINDER")
	exec := NewExecutor(store, jobs, dispatch.NewDispatcher(eventBus))
	pool := NewWorkerPool(exec, jobs, WorkerConfig{Concurrency: 2})
	pool.Start(context.Background())
	defer pool.Stop()

	job := queue.Job{
		ID:         queue.ApprovalJobID(entry.ID),
		TaskID:     entry.ID,
		TenantID:   "tenant-1",
		ApprovedBy: "dr.smith",
		Priority:   100,
		RunAt:      time.Now(),
	}
	if err := jobs.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	select {
	case <-sub.Events():
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for action event")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := store.Get(context.Background(), entry.ID, "tenant-1")
		if got.Status == ledger.StatusCompleted {
			if got.ExecutedBy != "dr.smith" {
				t.Errorf("Expected approver recorded, got %q", got.ExecutedBy)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for COMPLETED, status %s", got.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestQueue(t *testing.T, poll time.Duration) *MemoryQueue {
	t.Helper()
	q := NewMemoryQueue(MemoryConfig{PollInterval: poll})
	t.Cleanup(func() { q.Close() })
	return q
}

func receiveJob(t *testing.T, q *MemoryQueue, timeout time.Duration) Job {
	t.Helper()
	select {
	case job := <-q.Jobs():
		return job
	case <-time.After(timeout):
		t.Fatal("Timed out waiting for job delivery")
		return Job{}
	}
}

func TestEnqueueDelivers(t *testing.T) {
	q := newTestQueue(t, 5*time.Millisecond)
	ctx := context.Background()

	job := Job{
		ID:       ApprovalJobID("task-1"),
		TaskID:   "task-1",
		TenantID: "tenant-1",
		Priority: 100,
		RunAt:    time.Now(),
	}
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	got := receiveJob(t, q, time.Second)
	if got.ID != job.ID {
		t.Errorf("Expected job %s, got %s", job.ID, got.ID)
	}
	if got.TaskID != "task-1" {
		t.Errorf("Expected task-1, got %s", got.TaskID)
	}
}

func TestDelayedDelivery(t *testing.T) {
	q := newTestQueue(t, 5*time.Millisecond)
	ctx := context.Background()

	job := Job{
		ID:       ScheduleJobID("task-1"),
		TaskID:   "task-1",
		TenantID: "tenant-1",
		Priority: 50,
		RunAt:    time.Now().Add(60 * time.Millisecond),
	}
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	select {
	case <-q.Jobs():
		t.Fatal("Job delivered before its due time")
	case <-time.After(20 * time.Millisecond):
	}

	got := receiveJob(t, q, time.Second)
	if got.ID != job.ID {
		t.Errorf("Expected job %s, got %s", job.ID, got.ID)
	}
}

// Simultaneously due jobs come out higher priority first.
func TestPriorityOrdering(t *testing.T) {
	q := newTestQueue(t, 50*time.Millisecond)
	ctx := context.Background()

	due := time.Now()
	low := Job{ID: "retry-task-1-1", TaskID: "task-1", TenantID: "t", Priority: 10, RunAt: due}
	high := Job{ID: ApprovalJobID("task-2"), TaskID: "task-2", TenantID: "t", Priority: 100, RunAt: due}

	if err := q.Enqueue(ctx, low); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, high); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	first := receiveJob(t, q, time.Second)
	second := receiveJob(t, q, time.Second)
	if first.ID != high.ID {
		t.Errorf("Expected high priority first, got %s", first.ID)
	}
	if second.ID != low.ID {
		t.Errorf("Expected low priority second, got %s", second.ID)
	}
}

func TestCancelPreventsDelivery(t *testing.T) {
	q := newTestQueue(t, 5*time.Millisecond)
	ctx := context.Background()

	job := Job{
		ID:       ScheduleJobID("task-1"),
		TaskID:   "task-1",
		TenantID: "tenant-1",
		Priority: 50,
		RunAt:    time.Now().Add(50 * time.Millisecond),
	}
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	if err := q.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("Failed to cancel: %v", err)
	}

	select {
	case got := <-q.Jobs():
		t.Fatalf("Cancelled job %s was delivered", got.ID)
	case <-time.After(120 * time.Millisecond):
	}
}

// Cancelling an id that is not queued must be a silent no-op: cancels
// run on hot state-transition paths and losing the race is normal.
func TestCancelUnknownJob(t *testing.T) {
	q := newTestQueue(t, time.Hour)
	if err := q.Cancel(context.Background(), "approved-never-queued"); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

// Re-enqueueing the same id replaces the pending job.
func TestEnqueueReplaces(t *testing.T) {
	q := newTestQueue(t, time.Hour)
	ctx := context.Background()

	first := Job{ID: "retry-task-1-1", TaskID: "task-1", TenantID: "t", Priority: 10, RunAt: time.Now().Add(time.Hour)}
	second := first
	second.Priority = 90

	if err := q.Enqueue(ctx, first); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, second); err != nil {
		t.Fatalf("Failed to re-enqueue: %v", err)
	}

	got, err := q.Lookup(ctx, first.ID)
	if err != nil {
		t.Fatalf("Failed to lookup: %v", err)
	}
	if got.Priority != 90 {
		t.Errorf("Expected replacement to win, got priority %d", got.Priority)
	}
}

func TestLookupMissing(t *testing.T) {
	q := newTestQueue(t, time.Hour)
	if _, err := q.Lookup(context.Background(), "no-such-job"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound, got %v", err)
	}
}

func TestJobValidate(t *testing.T) {
	valid := Job{ID: "approved-task-1", TaskID: "task-1", TenantID: "t", RunAt: time.Now()}
	if err := valid.Validate(); err != nil {
		t.Errorf("Expected valid job, got %v", err)
	}

	cases := []struct {
		name string
		job  Job
	}{
		{"missing id", Job{TaskID: "task-1", TenantID: "t", RunAt: time.Now()}},
		{"missing task", Job{ID: "j", TenantID: "t", RunAt: time.Now()}},
		{"missing tenant", Job{ID: "j", TaskID: "task-1", RunAt: time.Now()}},
	}
	for _, tc := range cases {
		if err := tc.job.Validate(); err == nil {
			t.Errorf("Expected validation error for %s", tc.name)
		}
	}
}

func TestJobIDs(t *testing.T) {
	if got := ApprovalJobID("abc"); got != "approved-abc" {
		t.Errorf("Expected approved-abc, got %s", got)
	}
	if got := RetryJobID("abc", 2); got != "retry-abc-2" {
		t.Errorf("Expected retry-abc-2, got %s", got)
	}
	if got := ScheduleJobID("abc"); got != "task-abc" {
		t.Errorf("Expected task-abc, got %s", got)
	}
}

func TestCloseSemantics(t *testing.T) {
	q := NewMemoryQueue(MemoryConfig{PollInterval: time.Hour})
	if err := q.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Expected idempotent close, got %v", err)
	}

	ctx := context.Background()
	job := Job{ID: "approved-task-1", TaskID: "task-1", TenantID: "t", RunAt: time.Now()}
	if err := q.Enqueue(ctx, job); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if _, ok := <-q.Jobs(); ok {
		t.Error("Expected delivery channel closed")
	}
}

// Package queue wraps an external at-least-once delayed-job primitive
// behind the JobQueue interface the ledger schedules execution through.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common errors.
var (
	// ErrClosed indicates the queue has been shut down.
	ErrClosed = errors.New("queue closed")

	// ErrJobNotFound indicates a lookup for an unknown job id.
	// Cancel of an unknown job is NOT an error; only Lookup returns this.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidJob indicates the job is missing required fields.
	ErrInvalidJob = errors.New("invalid job")
)

// Job is one scheduled execution of a ledger entry.
type Job struct {
	// ID is the deterministic job id. Determinism is what makes
	// cancellation and duplicate suppression possible.
	ID string `json:"id"`

	// TaskID is the ledger entry to execute.
	TaskID string `json:"taskId"`

	// TenantID is the entry's owning tenant.
	TenantID string `json:"tenantId"`

	// ApprovedBy carries the approving user for the approval fast path.
	ApprovedBy string `json:"approvedBy,omitempty"`

	// Priority orders simultaneously due jobs, higher first.
	Priority int `json:"priority"`

	// RunAt is when the job becomes due.
	RunAt time.Time `json:"runAt"`
}

// Validate checks required job fields.
func (j *Job) Validate() error {
	if j.ID == "" || j.TaskID == "" || j.TenantID == "" {
		return ErrInvalidJob
	}
	return nil
}

// JobQueue is the delayed-job adapter. Implementations deliver each
// enqueued job at least once at or after its due time. Consumers must
// tolerate duplicate delivery.
type JobQueue interface {
	// Enqueue schedules a job. Enqueueing an id that is already
	// pending replaces the previous schedule.
	Enqueue(ctx context.Context, job Job) error

	// Cancel removes a pending job. Cancelling a job that does not
	// exist (already delivered, never enqueued) returns nil: cancel is
	// always best-effort on hot state-transition paths.
	Cancel(ctx context.Context, jobID string) error

	// Lookup returns a pending job by id, or ErrJobNotFound.
	Lookup(ctx context.Context, jobID string) (*Job, error)

	// Jobs returns the channel due jobs are delivered on.
	// The channel is closed when the queue closes.
	Jobs() <-chan Job

	// Close shuts down the queue and releases resources.
	Close() error
}

// ApprovalJobID is the deterministic id for the approval fast path, so
// a second approve attempt cannot race a second live job.
func ApprovalJobID(taskID string) string {
	return "approved-" + taskID
}

// RetryJobID is the deterministic id for the attempt'th backoff retry.
func RetryJobID(taskID string, attempt int) string {
	return fmt.Sprintf("retry-%s-%d", taskID, attempt)
}

// ScheduleJobID is the deterministic id for an entry's initial
// scheduled execution.
func ScheduleJobID(taskID string) string {
	return "task-" + taskID
}

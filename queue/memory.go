package queue

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryQueue implements JobQueue using in-memory scheduling.
// Useful for testing and single-process scenarios.
type MemoryQueue struct {
	mu      sync.Mutex
	pending map[string]Job
	out     chan Job
	closed  atomic.Bool

	// For due-job polling
	pollTicker *time.Ticker
	done       chan struct{}
	wg         sync.WaitGroup
}

// MemoryConfig holds memory queue configuration.
type MemoryConfig struct {
	// PollInterval is the due-check granularity.
	// Default: 25ms
	PollInterval time.Duration

	// BufferSize is the delivery channel capacity.
	// Default: 256
	BufferSize int
}

// DefaultMemoryConfig returns configuration with sensible defaults.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		PollInterval: 25 * time.Millisecond,
		BufferSize:   256,
	}
}

// NewMemoryQueue creates a new in-memory delayed-job queue.
func NewMemoryQueue(cfg MemoryConfig) *MemoryQueue {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultMemoryConfig().PollInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultMemoryConfig().BufferSize
	}

	q := &MemoryQueue{
		pending:    make(map[string]Job),
		out:        make(chan Job, cfg.BufferSize),
		pollTicker: time.NewTicker(cfg.PollInterval),
		done:       make(chan struct{}),
	}
	q.wg.Add(1)
	go q.pollLoop()
	return q
}

// pollLoop delivers due jobs until close.
func (q *MemoryQueue) pollLoop() {
	defer q.wg.Done()
	for {
		select {
		case <-q.pollTicker.C:
			q.deliverDue()
		case <-q.done:
			return
		}
	}
}

// deliverDue moves every due job to the delivery channel, higher
// priority first for simultaneously due jobs.
func (q *MemoryQueue) deliverDue() {
	now := time.Now()

	q.mu.Lock()
	var due []Job
	for id, job := range q.pending {
		if !job.RunAt.After(now) {
			due = append(due, job)
			delete(q.pending, id)
		}
	}
	q.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].RunAt.Before(due[j].RunAt)
	})

	for _, job := range due {
		select {
		case q.out <- job:
		case <-q.done:
			return
		}
	}
}

// Enqueue schedules a job.
func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if q.closed.Load() {
		return ErrClosed
	}

	q.mu.Lock()
	q.pending[job.ID] = job
	q.mu.Unlock()
	return nil
}

// Cancel removes a pending job. Unknown ids are a no-op.
func (q *MemoryQueue) Cancel(ctx context.Context, jobID string) error {
	if q.closed.Load() {
		return ErrClosed
	}

	q.mu.Lock()
	delete(q.pending, jobID)
	q.mu.Unlock()
	return nil
}

// Lookup returns a pending job by id.
func (q *MemoryQueue) Lookup(ctx context.Context, jobID string) (*Job, error) {
	if q.closed.Load() {
		return nil, ErrClosed
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.pending[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &job, nil
}

// Jobs returns the delivery channel.
func (q *MemoryQueue) Jobs() <-chan Job {
	return q.out
}

// Close shuts down the queue.
func (q *MemoryQueue) Close() error {
	if q.closed.Swap(true) {
		return nil
	}
	q.pollTicker.Stop()
	close(q.done)
	q.wg.Wait()
	close(q.out)
	return nil
}

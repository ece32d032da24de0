package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSQueue implements JobQueue on a NATS JetStream KV bucket.
//
// Each pending job lives as one KV entry keyed by its job id, so
// deterministic ids give cancel and replace semantics for free. A poll
// loop claims due jobs with a revision-guarded delete before delivering
// them, so concurrent queue instances on the same bucket mostly deliver
// each job once. Claims are not fenced against a crash between delete
// and handoff; consumers own idempotent re-execution either way.
type NATSQueue struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	kv     jetstream.KeyValue
	config NATSQueueConfig
	out    chan Job
	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// NATSQueueConfig holds NATS queue configuration.
type NATSQueueConfig struct {
	// Conn is the NATS connection to use.
	Conn *nats.Conn

	// Bucket is the KV bucket holding pending jobs.
	Bucket string

	// PollInterval is the due-check granularity.
	// Default: 250ms
	PollInterval time.Duration

	// BufferSize is the delivery channel capacity.
	// Default: 256
	BufferSize int
}

// DefaultNATSQueueConfig returns configuration with sensible defaults.
func DefaultNATSQueueConfig() NATSQueueConfig {
	return NATSQueueConfig{
		Bucket:       "ledger-jobs",
		PollInterval: 250 * time.Millisecond,
		BufferSize:   256,
	}
}

// NewNATSQueue creates a new NATS-backed delayed-job queue.
func NewNATSQueue(cfg NATSQueueConfig) (*NATSQueue, error) {
	if cfg.Conn == nil {
		return nil, fmt.Errorf("nats connection required")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultNATSQueueConfig().Bucket
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultNATSQueueConfig().PollInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultNATSQueueConfig().BufferSize
	}

	js, err := jetstream.New(cfg.Conn)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: cfg.Bucket,
	})
	if err != nil {
		return nil, fmt.Errorf("create kv bucket: %w", err)
	}

	q := &NATSQueue{
		conn:   cfg.Conn,
		js:     js,
		kv:     kv,
		config: cfg,
		out:    make(chan Job, cfg.BufferSize),
		done:   make(chan struct{}),
	}
	q.wg.Add(1)
	go q.pollLoop()
	return q, nil
}

// pollLoop claims and delivers due jobs until close.
func (q *NATSQueue) pollLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.deliverDue()
		case <-q.done:
			return
		}
	}
}

// deliverDue scans the bucket and delivers every job whose due time has
// passed, higher priority first.
func (q *NATSQueue) deliverDue() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	keys, err := q.kv.Keys(ctx)
	if err != nil {
		// jetstream reports an empty bucket as an error
		return
	}

	now := time.Now()
	var due []claimedJob
	for _, key := range keys {
		entry, err := q.kv.Get(ctx, key)
		if err != nil {
			continue
		}
		var job Job
		if err := json.Unmarshal(entry.Value(), &job); err != nil {
			// Unparseable entries are dead weight; drop them.
			_ = q.kv.Delete(ctx, key)
			continue
		}
		if job.RunAt.After(now) {
			continue
		}
		due = append(due, claimedJob{job: job, revision: entry.Revision()})
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].job.Priority != due[j].job.Priority {
			return due[i].job.Priority > due[j].job.Priority
		}
		return due[i].job.RunAt.Before(due[j].job.RunAt)
	})

	for _, c := range due {
		// Revision-guarded delete: the instance that wins the delete
		// owns delivery; losers skip.
		if err := q.kv.Delete(ctx, c.job.ID, jetstream.LastRevision(c.revision)); err != nil {
			continue
		}
		select {
		case q.out <- c.job:
		case <-q.done:
			return
		}
	}
}

type claimedJob struct {
	job      Job
	revision uint64
}

// Enqueue schedules a job. Re-enqueueing an existing id replaces it.
func (q *NATSQueue) Enqueue(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if q.closed.Load() {
		return ErrClosed
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	if _, err := q.kv.Put(ctx, job.ID, data); err != nil {
		return fmt.Errorf("kv put: %w", err)
	}
	return nil
}

// Cancel removes a pending job. Unknown ids are a no-op.
func (q *NATSQueue) Cancel(ctx context.Context, jobID string) error {
	if q.closed.Load() {
		return ErrClosed
	}

	if err := q.kv.Delete(ctx, jobID); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil
		}
		return fmt.Errorf("kv delete: %w", err)
	}
	return nil
}

// Lookup returns a pending job by id.
func (q *NATSQueue) Lookup(ctx context.Context, jobID string) (*Job, error) {
	if q.closed.Load() {
		return nil, ErrClosed
	}

	entry, err := q.kv.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("kv get: %w", err)
	}

	var job Job
	if err := json.Unmarshal(entry.Value(), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

// Jobs returns the delivery channel.
func (q *NATSQueue) Jobs() <-chan Job {
	return q.out
}

// Close shuts down the queue. Pending jobs remain in the bucket for the
// next instance.
func (q *NATSQueue) Close() error {
	if q.closed.Swap(true) {
		return nil
	}
	close(q.done)
	q.wg.Wait()
	close(q.out)
	return nil
}

package executor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/fieldserve/taskledger/logging"
	"github.com/fieldserve/taskledger/queue"
)

// WorkerConfig holds worker pool configuration.
type WorkerConfig struct {
	// Concurrency is the number of goroutines consuming jobs.
	// Default: 4
	Concurrency int
}

// DefaultWorkerConfig returns configuration with sensible defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency: 4,
	}
}

// WorkerPool consumes due jobs from a queue and runs them through an
// Executor. Multiple pools may consume the same queue across processes;
// the executor's terminal no-op check makes duplicate delivery safe.
type WorkerPool struct {
	exec    *Executor
	jobs    queue.JobQueue
	config  WorkerConfig
	logger  *logging.Logger
	started atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWorkerPool creates a worker pool over the given queue.
func NewWorkerPool(exec *Executor, jobs queue.JobQueue, cfg WorkerConfig) *WorkerPool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultWorkerConfig().Concurrency
	}
	return &WorkerPool{
		exec:   exec,
		jobs:   jobs,
		config: cfg,
		logger: logging.New().WithComponent("worker"),
	}
}

// SetLogger replaces the pool's logger.
func (p *WorkerPool) SetLogger(l *logging.Logger) {
	p.logger = l.WithComponent("worker")
}

// Start launches the workers. Calling Start twice is a no-op.
func (p *WorkerPool) Start(ctx context.Context) {
	if p.started.Swap(true) {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.config.Concurrency; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
	p.logger.Info("workers started", map[string]interface{}{
		"concurrency": p.config.Concurrency,
	})
}

func (p *WorkerPool) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case job, ok := <-p.jobs.Jobs():
			if !ok {
				return
			}
			p.exec.Execute(ctx, job.TaskID, job.TenantID, job.ApprovedBy)
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts the workers and waits for in-flight executions to finish.
// Jobs still in the queue stay there for the next run.
func (p *WorkerPool) Stop() {
	if !p.started.Load() || p.cancel == nil {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.logger.Info("workers stopped")
}

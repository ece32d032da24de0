// Package executor runs due tasks: it pulls jobs off the queue, drives
// one execution attempt per delivery, and applies the retry policy on
// failure.
//
// An attempt loads the entry, no-ops if it is already terminal, moves
// it to IN_PROGRESS, dispatches its action event, and commits COMPLETED.
// Failures consume the entry's retry budget with linear backoff
// (attempt × 30s, capped at 5m by default); exhausted or non-retryable
// failures commit FAILED. A retry job is always enqueued before
// SCHEDULED is committed, so the ledger never holds a SCHEDULED entry
// with no job behind it.
//
// Example usage:
//
//	exec := executor.NewExecutor(store, jobs, dispatcher,
//		executor.WithBus(eventBus),
//	)
//
//	pool := executor.NewWorkerPool(exec, jobs, executor.DefaultWorkerConfig())
//	pool.Start(ctx)
//	defer pool.Stop()
//
// Execution errors never escape the pool: they are absorbed into the
// entry's failureReason and the failed lifecycle event.
package executor

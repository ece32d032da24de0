// Package queue provides delayed job scheduling for task execution.
//
// A JobQueue holds jobs until their due time and then delivers them on
// a channel, higher priority first. Job ids are deterministic functions
// of the task they belong to, which makes enqueue idempotent (same id
// replaces) and cancellation possible without tracking queue-side
// handles.
//
// Two implementations are provided:
//
//   - MemoryQueue: in-process, for tests and single-node deployments
//   - NATSQueue: JetStream KV backed, shared across processes
//
// Example usage:
//
//	q := queue.NewMemoryQueue(queue.DefaultMemoryConfig())
//	defer q.Close()
//
//	err := q.Enqueue(ctx, queue.Job{
//		ID:       queue.ApprovalJobID(task.ID),
//		TaskID:   task.ID,
//		TenantID: task.TenantID,
//		Priority: 100,
//		RunAt:    time.Now(),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	for job := range q.Jobs() {
//		// execute the task the job points at
//	}
//
// Delivery is at-least-once. Consumers must tolerate duplicate
// deliveries; re-executing a finished task is expected to be a no-op.
package queue

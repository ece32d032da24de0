// Package ledger provides a durable, multi-tenant record of automated
// and human-approved task execution.
//
// Every requested action becomes an Entry that moves through a fixed
// state machine (PENDING, SCHEDULED, IN_PROGRESS, COMPLETED, FAILED,
// CANCELLED, UNDONE) and is never deleted: terminal entries are the
// audit history. The Manager admits entries exactly once per
// idempotency key, drives approvals, declines, manual completion,
// undo, and bulk cancellation, and answers dashboard queries.
//
// Two Store implementations are provided:
//
//   - MemoryStore: in-process, for tests and embedded use
//   - PostgresStore: pgx-backed, for production
//
// Example usage:
//
//	store := ledger.NewMemoryStore()
//	defer store.Close()
//
//	jobs := queue.NewMemoryQueue(queue.DefaultMemoryConfig())
//	defer jobs.Close()
//
//	mgr, err := ledger.NewManager(store, jobs)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	entry, err := mgr.CreateTask(ctx, ledger.CreateOptions{
//		TenantID:   "clinic-42",
//		Type:       ledger.TypeApproval,
//		Category:   ledger.CategoryBilling,
//		Title:      "Send payment reminder to J. Doe",
//		ActionType: "payment-reminder",
//		EntityType: "invoice",
//		EntityID:   "inv-991",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Later, a human approves it and execution begins.
//	_, err = mgr.Approve(ctx, "clinic-42", entry.ID, "dr.smith")
//
// Transitions are conditional writes: every update names the statuses
// it expects to find, so concurrent actors cannot corrupt the machine,
// only lose races cleanly.
package ledger

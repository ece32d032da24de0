// Package bus provides the event seam between the ledger core and the
// domain handlers that perform real side effects.
//
// # Overview
//
// The EventBus interface enables fire-and-forget pub/sub. The ledger
// publishes dispatched actions and lifecycle notifications; independent
// domain handlers subscribe and own their own retry and consistency.
// No ledger operation ever blocks on a consumer.
//
// Subjects are dot-separated tokens ("ledger.task.created").
// Subscriptions may use NATS wildcards: "*" matches one token, ">"
// matches the rest of the subject. MemoryBus honors the same matching
// rules NATS applies server-side, so tests behave like production.
//
// # Available Implementations
//
//   - NATSBus: Production-grade messaging using NATS
//   - MemoryBus: In-memory implementation for testing and single-process use
//
// # Patterns
//
// Pub/Sub - broadcast to all subscribers:
//
//	bus.Publish("ledger.task.approved", data)
//	sub, _ := bus.Subscribe("ledger.task.approved")
//	for ev := range sub.Events() {
//	    // Handle event
//	}
//
// Queue Groups - load balanced across handler instances:
//
//	sub, _ := bus.QueueSubscribe("ledger.sms-requested", "sms-senders")
//	// Only one handler in the group receives each event
//
// Queue subscriptions let a handler scale horizontally: multiple
// instances subscribe with the same queue name and each event is
// delivered to exactly one of them, with no coordination between them.
package bus

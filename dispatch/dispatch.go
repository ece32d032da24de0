// Package dispatch maps task action types to outbound events.
//
// The Dispatcher is the sole seam between the generic ledger core and
// domain-specific side effects. Each action type routes to a bus
// subject; unknown types fall through to a generic subject carrying
// enough context for a catch-all handler. Supporting a new action is a
// table entry and a subscriber, nothing in the executor changes.
package dispatch

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fieldserve/taskledger/bus"
	"github.com/fieldserve/taskledger/ledger"
	"github.com/fieldserve/taskledger/logging"
)

// FallbackSubject carries any action type without a registered route.
const FallbackSubject = "ledger.action.requested"

// Route describes where an action type's events go and under which
// field name the entity id travels.
type Route struct {
	// Subject is the bus subject events are published to.
	Subject string

	// IDField names the envelope field holding the entry's entityId.
	IDField string
}

// DefaultRoutes returns the built-in action table.
func DefaultRoutes() map[string]Route {
	return map[string]Route{
		"SEND_PAYMENT_REMINDER":     {Subject: "ledger.action.payment-reminder-requested", IDField: "invoiceId"},
		"SEND_APPOINTMENT_REMINDER": {Subject: "ledger.action.appointment-reminder-requested", IDField: "appointmentId"},
		"SEND_SMS":                  {Subject: "ledger.action.sms-requested", IDField: "recipientId"},
		"SEND_EMAIL":                {Subject: "ledger.action.email-requested", IDField: "recipientId"},
		"ASSIGN_TECHNICIAN":         {Subject: "ledger.action.technician-assignment-requested", IDField: "jobId"},
		"CHARGE_CARD":               {Subject: "ledger.action.card-charge-requested", IDField: "invoiceId"},
		"SCHEDULE_FOLLOW_UP":        {Subject: "ledger.action.follow-up-requested", IDField: "customerId"},
	}
}

// Dispatcher publishes action events for due tasks. Publishing returns
// once the bus has accepted the event; it never waits for the handler.
type Dispatcher struct {
	bus    bus.EventBus
	logger *logging.Logger

	mu     sync.RWMutex
	routes map[string]Route
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l.WithComponent("dispatch")
	}
}

// WithRoutes replaces the built-in action table.
func WithRoutes(routes map[string]Route) Option {
	return func(d *Dispatcher) {
		d.routes = routes
	}
}

// NewDispatcher creates a Dispatcher publishing on the given bus.
func NewDispatcher(b bus.EventBus, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		bus:    b,
		logger: logging.New().WithComponent("dispatch"),
		routes: DefaultRoutes(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds or replaces a route for an action type. Safe to call
// while workers are dispatching.
func (d *Dispatcher) Register(actionType string, route Route) {
	d.mu.Lock()
	d.routes[actionType] = route
	d.mu.Unlock()
}

// Dispatch publishes the outbound event for an entry's action and
// returns the subject it was published on. The envelope is the entry's
// payload plus tenant and target identifiers; for unrouted action types
// it additionally carries the raw actionType and entity reference so a
// catch-all handler can route it itself.
func (d *Dispatcher) Dispatch(e *ledger.Entry) (string, error) {
	if e.ActionType == "" {
		return "", fmt.Errorf("entry %s has no action type", e.ID)
	}

	envelope := make(map[string]interface{}, len(e.Payload)+4)
	for k, v := range e.Payload {
		envelope[k] = v
	}
	envelope["tenantId"] = e.TenantID
	envelope["taskId"] = e.ID

	d.mu.RLock()
	route, known := d.routes[e.ActionType]
	d.mu.RUnlock()
	subject := route.Subject
	if known {
		if route.IDField != "" && e.EntityID != "" {
			envelope[route.IDField] = e.EntityID
		}
	} else {
		subject = FallbackSubject
		envelope["actionType"] = e.ActionType
		envelope["entityType"] = e.EntityType
		envelope["entityId"] = e.EntityID
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	if err := d.bus.Publish(subject, data); err != nil {
		return "", fmt.Errorf("publish %s: %w", subject, err)
	}

	d.logger.Dispatched(e.ID, e.ActionType, subject)
	return subject, nil
}

package bus

import (
	"errors"
	"strings"
)

// Common errors.
var (
	ErrClosed         = errors.New("bus closed")
	ErrInvalidSubject = errors.New("invalid subject")
)

// Event represents an event received from the bus.
type Event struct {
	// Subject the event was published to.
	Subject string

	// Data is the event payload, JSON-encoded by convention.
	Data []byte
}

// EventBus provides fire-and-forget pub/sub messaging. Publish returns
// once the event is handed to the transport; it never waits for a
// consumer to act on it.
type EventBus interface {
	// Publish sends an event to all subscribers of a subject.
	Publish(subject string, data []byte) error

	// Subscribe creates a subscription to a subject.
	// All subscribers receive all events.
	Subscribe(subject string) (Subscription, error)

	// QueueSubscribe creates a queue subscription.
	// Events are load-balanced across queue members.
	QueueSubscribe(subject, queue string) (Subscription, error)

	// Close shuts down the bus connection.
	Close() error
}

// Subscription represents an active subscription.
type Subscription interface {
	// Events returns the channel for incoming events.
	// Channel is closed when the subscription ends.
	Events() <-chan *Event

	// Unsubscribe cancels the subscription.
	Unsubscribe() error
}

// Config holds common bus configuration.
type Config struct {
	// BufferSize for subscription channels.
	// Default: 256
	BufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 256,
	}
}

// ValidateSubject checks subject syntax: non-empty dot-separated
// tokens, no whitespace, ">" only as the final token.
func ValidateSubject(subject string) error {
	if subject == "" || strings.ContainsAny(subject, " \t\r\n") {
		return ErrInvalidSubject
	}
	tokens := strings.Split(subject, ".")
	for i, tok := range tokens {
		if tok == "" {
			return ErrInvalidSubject
		}
		if tok == ">" && i != len(tokens)-1 {
			return ErrInvalidSubject
		}
	}
	return nil
}

// MatchSubject reports whether a concrete subject matches a
// subscription pattern. "*" matches exactly one token, ">" matches one
// or more trailing tokens.
func MatchSubject(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, tok := range pt {
		if tok == ">" {
			return len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if tok != "*" && tok != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}

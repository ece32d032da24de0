package bus

import (
	"sync"
	"sync/atomic"
)

// MemoryBus implements EventBus with in-process channels. Useful for
// testing and single-process deployments. Wildcard subscriptions are
// matched per publish, the same way NATS matches them server-side.
type MemoryBus struct {
	config Config

	mu     sync.RWMutex
	subs   []*memorySub
	closed atomic.Bool
}

type memorySub struct {
	pattern string
	queue   string // empty for regular subscriptions
	ch      chan *Event
	closed  atomic.Bool
	bus     *MemoryBus
}

// NewMemoryBus creates a new in-memory event bus.
func NewMemoryBus(cfg Config) *MemoryBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	return &MemoryBus{config: cfg}
}

// Publish fans an event out to every matching subscriber, and to one
// member of each matching queue group. Slow subscribers whose buffers
// are full miss the event rather than block the publisher.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}

	ev := &Event{Subject: subject, Data: data}

	// Sends are non-blocking, so delivery happens under the read lock.
	// Channels are only closed under the write lock.
	b.mu.RLock()
	defer b.mu.RUnlock()

	matched := make([]*memorySub, 0, len(b.subs))
	for _, sub := range b.subs {
		if !sub.closed.Load() && MatchSubject(sub.pattern, subject) {
			matched = append(matched, sub)
		}
	}

	// groups collects queue members by pattern+queue so exactly one
	// member per group receives the event.
	var groups map[string][]*memorySub
	for _, sub := range matched {
		if sub.queue == "" {
			select {
			case sub.ch <- ev:
			default:
			}
			continue
		}
		if groups == nil {
			groups = make(map[string][]*memorySub)
		}
		key := sub.pattern + "|" + sub.queue
		groups[key] = append(groups[key], sub)
	}

	for _, members := range groups {
		for _, sub := range members {
			select {
			case sub.ch <- ev:
			default:
				continue
			}
			break
		}
	}

	return nil
}

// Subscribe creates a subscription. The subject may contain wildcards.
func (b *MemoryBus) Subscribe(subject string) (Subscription, error) {
	return b.subscribe(subject, "")
}

// QueueSubscribe creates a queue subscription. Events matching the
// subject are delivered to one member of the named queue group.
func (b *MemoryBus) QueueSubscribe(subject, queue string) (Subscription, error) {
	if queue == "" {
		return nil, ErrInvalidSubject
	}
	return b.subscribe(subject, queue)
}

func (b *MemoryBus) subscribe(subject, queue string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub := &memorySub{
		pattern: subject,
		queue:   queue,
		ch:      make(chan *Event, b.config.BufferSize),
		bus:     b,
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return sub, nil
}

// Close shuts down the bus and ends all subscriptions.
func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if !sub.closed.Swap(true) {
			close(sub.ch)
		}
	}
	b.subs = nil

	return nil
}

func (b *MemoryBus) remove(target *memorySub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub == target {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	close(target.ch)
}

// Events returns the event channel.
func (s *memorySub) Events() <-chan *Event {
	return s.ch
}

// Unsubscribe cancels the subscription.
func (s *memorySub) Unsubscribe() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.bus.remove(s)
	return nil
}

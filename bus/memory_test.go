package bus

import (
	"testing"
	"time"
)

func TestMemoryBusPublishSubscribe(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	defer b.Close()

	sub, err := b.Subscribe("ledger.task.approved")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := b.Publish("ledger.task.approved", []byte(`{"taskId":"t1"}`)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case ev := <-sub.Events():
		if ev.Subject != "ledger.task.approved" {
			t.Errorf("Expected subject ledger.task.approved, got %s", ev.Subject)
		}
		if string(ev.Data) != `{"taskId":"t1"}` {
			t.Errorf("Unexpected payload: %s", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
	}
}

func TestMemoryBusFanOut(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	defer b.Close()

	sub1, _ := b.Subscribe("ledger.sms-requested")
	sub2, _ := b.Subscribe("ledger.sms-requested")

	b.Publish("ledger.sms-requested", []byte("payload"))

	for i, sub := range []Subscription{sub1, sub2} {
		select {
		case <-sub.Events():
		case <-time.After(time.Second):
			t.Fatalf("Subscriber %d did not receive event", i+1)
		}
	}
}

func TestMemoryBusQueueGroup(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	defer b.Close()

	sub1, _ := b.QueueSubscribe("ledger.email-requested", "senders")
	sub2, _ := b.QueueSubscribe("ledger.email-requested", "senders")

	const n = 10
	for i := 0; i < n; i++ {
		b.Publish("ledger.email-requested", []byte("e"))
	}

	// Each event goes to exactly one member of the group.
	deadline := time.After(time.Second)
	received := 0
	for received < n {
		select {
		case <-sub1.Events():
			received++
		case <-sub2.Events():
			received++
		case <-deadline:
			t.Fatalf("Expected %d events across the group, got %d", n, received)
		}
	}

	select {
	case <-sub1.Events():
		t.Error("Received more events than published")
	case <-sub2.Events():
		t.Error("Received more events than published")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusSubjectIsolation(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	defer b.Close()

	sub, _ := b.Subscribe("ledger.task.declined")
	b.Publish("ledger.task.approved", []byte("other"))

	select {
	case ev := <-sub.Events():
		t.Errorf("Expected no event, got %s", ev.Subject)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	defer b.Close()

	sub, _ := b.Subscribe("ledger.task.executed")
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}

	// Channel is closed after unsubscribe
	if _, ok := <-sub.Events(); ok {
		t.Error("Expected closed channel after unsubscribe")
	}

	// Double unsubscribe is a no-op
	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("Second Unsubscribe failed: %v", err)
	}
}

func TestMemoryBusClosed(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	b.Close()

	if err := b.Publish("subject", []byte("x")); err != ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if _, err := b.Subscribe("subject"); err != ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestMemoryBusWildcards(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	defer b.Close()

	star, _ := b.Subscribe("ledger.task.*")
	tail, _ := b.Subscribe("ledger.>")

	b.Publish("ledger.task.completed", []byte("c"))

	for _, sub := range []Subscription{star, tail} {
		select {
		case ev := <-sub.Events():
			if ev.Subject != "ledger.task.completed" {
				t.Errorf("Expected concrete subject, got %s", ev.Subject)
			}
		case <-time.After(time.Second):
			t.Fatal("Wildcard subscriber did not receive event")
		}
	}

	// "*" spans exactly one token.
	b.Publish("ledger.action.sms-requested", []byte("s"))
	select {
	case ev := <-star.Events():
		t.Errorf("Expected no event on ledger.task.*, got %s", ev.Subject)
	case <-time.After(50 * time.Millisecond):
	}
	select {
	case <-tail.Events():
	case <-time.After(time.Second):
		t.Fatal("ledger.> did not receive action event")
	}
}

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"ledger.task.created", "ledger.task.created", true},
		{"ledger.task.created", "ledger.task.failed", false},
		{"ledger.task.*", "ledger.task.created", true},
		{"ledger.task.*", "ledger.task", false},
		{"ledger.task.*", "ledger.task.created.extra", false},
		{"ledger.>", "ledger.task.created", true},
		{"ledger.>", "ledger", false},
		{"*.task.*", "ledger.task.undone", true},
	}
	for _, tt := range tests {
		if got := MatchSubject(tt.pattern, tt.subject); got != tt.want {
			t.Errorf("MatchSubject(%q, %q) = %v, want %v", tt.pattern, tt.subject, got, tt.want)
		}
	}
}

func TestValidateSubject(t *testing.T) {
	valid := []string{"ledger.task.created", "ledger.*", "ledger.>", "x"}
	for _, s := range valid {
		if err := ValidateSubject(s); err != nil {
			t.Errorf("Expected %q valid, got %v", s, err)
		}
	}
	invalid := []string{"", "ledger..task", ".ledger", "ledger.", "ledger.>.task", "has space"}
	for _, s := range invalid {
		if err := ValidateSubject(s); err != ErrInvalidSubject {
			t.Errorf("Expected %q invalid, got %v", s, err)
		}
	}
}

func TestMemoryBusInvalidSubject(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	defer b.Close()

	if err := b.Publish("", []byte("x")); err != ErrInvalidSubject {
		t.Errorf("Expected ErrInvalidSubject, got %v", err)
	}
	if _, err := b.QueueSubscribe("subject", ""); err != ErrInvalidSubject {
		t.Errorf("Expected ErrInvalidSubject for empty queue, got %v", err)
	}
}

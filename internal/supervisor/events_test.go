package supervisor

import (
	"testing"
)

func TestHubFansOutInSubscriptionOrder(t *testing.T) {
	hub := NewHub()

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		hub.Subscribe(EventTypeStdout, func(Event) {
			order = append(order, i)
		})
	}

	hub.Publish(Event{Type: EventTypeStdout, Line: "hello"})

	if len(order) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(order))
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("delivery order %v is not subscription order", order)
		}
	}
}

func TestHubKeepsEventKindsIndependent(t *testing.T) {
	hub := NewHub()

	var stdout, stderr int
	hub.Subscribe(EventTypeStdout, func(Event) { stdout++ })
	hub.Subscribe(EventTypeStderr, func(Event) { stderr++ })

	hub.Publish(Event{Type: EventTypeStdout, Line: "out"})
	hub.Publish(Event{Type: EventTypeStdout, Line: "out"})
	hub.Publish(Event{Type: EventTypeStderr, Line: "err"})

	if stdout != 2 || stderr != 1 {
		t.Fatalf("expected 2 stdout and 1 stderr deliveries, got %d and %d", stdout, stderr)
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()

	var first, second int
	cancel := hub.Subscribe(EventTypeFault, func(Event) { first++ })
	hub.Subscribe(EventTypeFault, func(Event) { second++ })

	hub.Publish(Event{Type: EventTypeFault})
	cancel()
	cancel() // releasing twice must be safe
	hub.Publish(Event{Type: EventTypeFault})

	if first != 1 {
		t.Fatalf("expected 1 delivery to cancelled subscriber, got %d", first)
	}
	if second != 2 {
		t.Fatalf("expected 2 deliveries to remaining subscriber, got %d", second)
	}
}

func TestHubResetDropsSubscribers(t *testing.T) {
	hub := NewHub()

	var calls int
	hub.Subscribe(EventTypeExited, func(Event) { calls++ })
	hub.reset()
	hub.Publish(Event{Type: EventTypeExited})

	if calls != 0 {
		t.Fatalf("expected no deliveries after reset, got %d", calls)
	}
}

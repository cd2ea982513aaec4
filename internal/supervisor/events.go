package supervisor

import (
	"sync"
	"time"

	"github.com/Paintersrp/warden/internal/history"
)

// EventType identifies the category of a lifecycle or output notification.
type EventType string

const (
	EventTypeStdout  EventType = "stdout"
	EventTypeStderr  EventType = "stderr"
	EventTypeStarted EventType = "started"
	EventTypeExited  EventType = "exited"
	EventTypeFault   EventType = "fault"
)

// Event represents a single notification emitted by a supervisor. Only the
// fields relevant to the event type are populated: Line for stdout/stderr,
// PID for started, Result for exited and Record for fault.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Line      string
	PID       int
	Result    Result
	Record    history.Record
}

type subscription struct {
	id int
	fn func(Event)
}

// Hub distributes supervisor events to subscribers. Each event type keeps an
// independent subscriber list and publishing fans out synchronously, in
// subscription order, on the goroutine that produced the event. Subscribers
// must not block for long or they stall the producing goroutine.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[EventType][]subscription
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[EventType][]subscription)}
}

// Subscribe registers fn for events of type t. The returned function removes
// the registration and may be called more than once.
func (h *Hub) Subscribe(t EventType, fn func(Event)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[t] = append(h.subs[t], subscription{id: id, fn: fn})
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		list := h.subs[t]
		for i, sub := range list {
			if sub.id == id {
				h.subs[t] = append(append([]subscription(nil), list[:i]...), list[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers evt to the subscribers registered for its type. Delivery
// runs on the caller's goroutine, in subscription order; a missing timestamp
// is filled in with the current time. On a hub owned by a supervisor only the
// supervisor itself publishes; drive standalone hubs from NewHub directly.
func (h *Hub) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	h.mu.Lock()
	list := append([]subscription(nil), h.subs[evt.Type]...)
	h.mu.Unlock()
	for _, sub := range list {
		sub.fn(evt)
	}
}

// reset drops every registration. Used on supervisor disposal.
func (h *Hub) reset() {
	h.mu.Lock()
	h.subs = make(map[EventType][]subscription)
	h.mu.Unlock()
}

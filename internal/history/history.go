// Package history keeps a bounded record of internal supervisor failures.
package history

import (
	"sync"
	"time"
)

// Kind classifies an internal supervisor failure.
type Kind string

const (
	KindStartFailed             Kind = "start_failed"
	KindRunningProcess          Kind = "running_process"
	KindStop                    Kind = "stop"
	KindStopInterrupt           Kind = "stop_interrupt"
	KindStopAbort               Kind = "stop_abort"
	KindStopTerm                Kind = "stop_term"
	KindStopCloseMainWindow     Kind = "stop_close_main_window"
	KindKill                    Kind = "kill"
	KindSignal                  Kind = "signal"
	KindSignalNotSupported      Kind = "signal_not_supported"
	KindSignalProcessNotRunning Kind = "signal_process_not_running"
	KindWrite                   Kind = "write"
	KindCleanup                 Kind = "cleanup"
)

// Record captures a single failure together with its underlying cause.
type Record struct {
	Kind Kind
	Err  error
	Time time.Time
}

// DefaultCapacity bounds a history when no explicit capacity is configured.
const DefaultCapacity = 10

// History is a fixed-capacity, insertion-ordered buffer of failure records.
// Once the capacity is exceeded the oldest record is evicted. Safe for
// concurrent use.
type History struct {
	mu       sync.Mutex
	records  []Record
	capacity int
}

// New constructs a history bounded to the provided capacity. Non-positive
// capacities fall back to DefaultCapacity.
func New(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{capacity: capacity}
}

// Push appends a record for the provided failure and returns it.
func (h *History) Push(kind Kind, err error) Record {
	rec := Record{Kind: kind, Err: err, Time: time.Now()}
	h.mu.Lock()
	h.records = append(h.records, rec)
	if len(h.records) > h.capacity {
		h.records = h.records[len(h.records)-h.capacity:]
	}
	h.mu.Unlock()
	return rec
}

// Last returns the most recent record, if any.
func (h *History) Last() (Record, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.records) == 0 {
		return Record{}, false
	}
	return h.records[len(h.records)-1], true
}

// All returns a copy of the retained records in insertion order.
func (h *History) All() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Record(nil), h.records...)
}

// Len reports the number of retained records.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

// Capacity reports the configured bound.
func (h *History) Capacity() int {
	return h.capacity
}

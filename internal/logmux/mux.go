// Package logmux fans supervisor event streams from one or more programs
// into a single bounded channel for the CLI and TUI consumers.
package logmux

import (
	"sync"
	"time"

	"github.com/Paintersrp/warden/internal/supervisor"
)

// Entry pairs a supervisor event with the program that produced it. Dropped
// is non-zero on synthesized entries that account for discarded output when a
// consumer cannot keep up.
type Entry struct {
	Program string
	Event   supervisor.Event
	Dropped int
}

// Mux subscribes to supervisor hubs and delivers their events through a
// bounded channel. Hub publishing is synchronous on the producing goroutine,
// so the mux never blocks there: when the output buffer is full, events are
// dropped and the number of discarded entries is surfaced later.
type Mux struct {
	out chan Entry

	mu      sync.Mutex
	drops   map[string]int
	cancels []func()
	closed  bool
}

// New constructs a mux backed by a channel of the provided size. A size of
// zero results in a minimally buffered channel.
func New(size int) *Mux {
	if size <= 0 {
		size = 1
	}
	return &Mux{
		out:   make(chan Entry, size),
		drops: make(map[string]int),
	}
}

// Output exposes the muxed entry channel.
func (m *Mux) Output() <-chan Entry {
	return m.out
}

// Add subscribes to every event stream of hub, labelling entries with
// program. The registration is released by Close.
func (m *Mux) Add(program string, hub *supervisor.Hub) {
	forward := func(evt supervisor.Event) {
		m.deliver(Entry{Program: program, Event: evt})
	}
	kinds := []supervisor.EventType{
		supervisor.EventTypeStdout,
		supervisor.EventTypeStderr,
		supervisor.EventTypeStarted,
		supervisor.EventTypeExited,
		supervisor.EventTypeFault,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	for _, kind := range kinds {
		m.cancels = append(m.cancels, hub.Subscribe(kind, forward))
	}
}

// Close releases every subscription, emits pending drop metadata and closes
// the output channel.
func (m *Mux) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	cancels := m.cancels
	m.cancels = nil
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	m.flushDrops()
	close(m.out)
}

func (m *Mux) deliver(entry Entry) {
	if !m.flushPending(entry.Program) {
		m.recordDrop(entry.Program, 1)
		return
	}
	if m.trySend(entry) {
		return
	}
	m.recordDrop(entry.Program, 1)
}

func (m *Mux) flushPending(program string) bool {
	for {
		count := m.takeDrops(program)
		if count == 0 {
			return true
		}
		meta := Entry{Program: program, Dropped: count, Event: supervisor.Event{Timestamp: time.Now()}}
		if m.trySend(meta) {
			continue
		}
		m.recordDrop(program, count)
		return false
	}
}

func (m *Mux) takeDrops(program string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := m.drops[program]
	if count != 0 {
		delete(m.drops, program)
	}
	return count
}

func (m *Mux) recordDrop(program string, count int) {
	if count <= 0 {
		return
	}
	m.mu.Lock()
	m.drops[program] += count
	m.mu.Unlock()
}

func (m *Mux) flushDrops() {
	m.mu.Lock()
	pending := m.drops
	m.drops = make(map[string]int)
	m.mu.Unlock()
	for program, count := range pending {
		if count == 0 {
			continue
		}
		m.out <- Entry{Program: program, Dropped: count, Event: supervisor.Event{Timestamp: time.Now()}}
	}
}

func (m *Mux) trySend(entry Entry) bool {
	select {
	case m.out <- entry:
		return true
	default:
		return false
	}
}

package supervisor

import (
	"context"
	"sync"
	"time"
)

// Line is one decoded line of child output.
type Line struct {
	Text   string
	Source EventType
	Time   time.Time
}

// LineChannel bridges the hub's push-based stdout/stderr streams into a
// pull-based sequence scoped to one run generation. An unbounded buffer sits
// between the publishing goroutine and the consumer so the OS read goroutine
// never blocks on a slow consumer; the sequence completes and releases its
// subscriptions once the Exited event fires. A completed sequence cannot be
// restarted.
type LineChannel struct {
	mu   sync.Mutex
	cond *sync.Cond
	buf  []Line
	done bool

	out       chan Line
	quit      chan struct{}
	closeOnce sync.Once
	cancels   []func()
}

// NewLineChannel subscribes to hub's output, error and exited streams and
// starts draining them.
func NewLineChannel(hub *Hub) *LineChannel {
	c := &LineChannel{
		out:  make(chan Line),
		quit: make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)

	push := func(evt Event) {
		c.mu.Lock()
		if !c.done {
			c.buf = append(c.buf, Line{Text: evt.Line, Source: evt.Type, Time: evt.Timestamp})
			c.cond.Signal()
		}
		c.mu.Unlock()
	}
	c.cancels = append(c.cancels,
		hub.Subscribe(EventTypeStdout, push),
		hub.Subscribe(EventTypeStderr, push),
		hub.Subscribe(EventTypeExited, func(Event) { c.complete() }),
	)

	go c.pump()
	return c
}

// Lines exposes the pull side. The channel closes once the generation has
// exited and every buffered line has been delivered.
func (c *LineChannel) Lines() <-chan Line {
	return c.out
}

// Next returns the next line. ok is false once the sequence has completed or
// ctx was cancelled.
func (c *LineChannel) Next(ctx context.Context) (Line, bool) {
	select {
	case line, ok := <-c.out:
		return line, ok
	case <-ctx.Done():
		return Line{}, false
	}
}

// Close abandons the sequence early, discarding buffered lines and releasing
// the hub subscriptions. Safe to call more than once.
func (c *LineChannel) Close() {
	c.closeOnce.Do(func() {
		close(c.quit)
		c.mu.Lock()
		c.buf = nil
		c.mu.Unlock()
		c.complete()
	})
}

func (c *LineChannel) complete() {
	c.mu.Lock()
	if !c.done {
		c.done = true
		c.cond.Signal()
	}
	c.mu.Unlock()
}

func (c *LineChannel) pump() {
	for {
		c.mu.Lock()
		for len(c.buf) == 0 && !c.done {
			c.cond.Wait()
		}
		batch := c.buf
		c.buf = nil
		done := c.done
		c.mu.Unlock()

		for _, line := range batch {
			select {
			case c.out <- line:
			case <-c.quit:
				close(c.out)
				c.release()
				return
			}
		}

		if done {
			c.mu.Lock()
			remaining := len(c.buf)
			c.mu.Unlock()
			if remaining == 0 {
				close(c.out)
				c.release()
				return
			}
		}
	}
}

func (c *LineChannel) release() {
	for _, cancel := range c.cancels {
		cancel()
	}
	c.cancels = nil
}

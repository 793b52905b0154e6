package events

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Next once the channel is closed and drained.
var ErrClosed = errors.New("event channel closed")

// DefaultCapacity is the number of queued events before status messages
// start being dropped.
const DefaultCapacity = 1024

// Emitter is implemented by anything that accepts events.
// Emit must never block the caller.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

// Emit calls f(ev).
func (f EmitterFunc) Emit(ev Event) { f(ev) }

// Discard is an Emitter that drops every event.
var Discard Emitter = EmitterFunc(func(Event) {})

// Channel is a single-consumer FIFO queue of events.
//
// Producers never block. When the queue holds capacity events, the oldest
// queued StatusChanged event is dropped to make room; if no status event is
// queued the queue grows instead. LogLine and completion events are never
// dropped.
type Channel struct {
	mu       sync.Mutex
	queue    []Event
	capacity int
	seq      uint64
	dropped  uint64
	closed   bool
	onDrop   func(Event)

	// notify has capacity 1; a pending token means "queue may be non-empty".
	notify chan struct{}
}

// NewChannel creates a channel. capacity <= 0 selects DefaultCapacity.
func NewChannel(capacity int) *Channel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Channel{
		queue:    make([]Event, 0, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// OnDrop registers a hook called (outside the lock) for every dropped
// status event. Must be called before the first Emit.
func (c *Channel) OnDrop(fn func(Event)) {
	c.mu.Lock()
	c.onDrop = fn
	c.mu.Unlock()
}

// Emit appends an event. Events emitted after Close are discarded.
func (c *Channel) Emit(ev Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	c.seq++
	ev.Seq = c.seq
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	var victim *Event
	if len(c.queue) >= c.capacity {
		victim = c.dropOldestStatus()
	}
	c.queue = append(c.queue, ev)
	hook := c.onDrop
	c.mu.Unlock()

	if victim != nil && hook != nil {
		hook(*victim)
	}
	c.signal()
}

// dropOldestStatus removes the oldest queued status event. Caller holds mu.
func (c *Channel) dropOldestStatus() *Event {
	for i := range c.queue {
		if c.queue[i].Kind != KindStatusChanged {
			continue
		}
		victim := c.queue[i]
		copy(c.queue[i:], c.queue[i+1:])
		c.queue[len(c.queue)-1] = Event{}
		c.queue = c.queue[:len(c.queue)-1]
		c.dropped++
		return &victim
	}
	return nil
}

func (c *Channel) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Next returns the next event, blocking until one is available, the
// context is done, or the channel is closed and drained.
func (c *Channel) Next(ctx context.Context) (Event, error) {
	for {
		if ev, ok, err := c.TryNext(); ok || err != nil {
			return ev, err
		}

		select {
		case <-c.notify:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// TryNext returns the next event without blocking. ok is false when the
// queue is empty; err is ErrClosed when it is also closed.
func (c *Channel) TryNext() (ev Event, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) > 0 {
		ev = c.queue[0]
		c.queue[0] = Event{}
		c.queue = c.queue[1:]
		return ev, true, nil
	}
	if c.closed {
		return Event{}, false, ErrClosed
	}
	return Event{}, false, nil
}

// Events starts a pump goroutine that forwards events to the returned Go
// channel until ctx is done or the Channel is closed and drained.
// Only one consumer may be active at a time.
func (c *Channel) Events(ctx context.Context) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			ev, err := c.Next(ctx)
			if err != nil {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Close stops accepting events. Queued events remain readable.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.signal()
}

// Len returns the number of queued events.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Dropped returns the number of status events dropped so far.
func (c *Channel) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Ensure Channel implements Emitter.
var _ Emitter = (*Channel)(nil)

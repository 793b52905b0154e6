package events

import (
	"sync"
	"time"
)

// Recorder is an Emitter that keeps every event in memory.
// Used by tests to assert on emission order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	seq    uint64
	wake   chan struct{}
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{wake: make(chan struct{}, 1)}
}

// Emit records the event.
func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	r.seq++
	ev.Seq = r.seq
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	r.events = append(r.events, ev)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfKind returns the recorded events of one kind, in order.
func (r *Recorder) OfKind(k Kind) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

// WaitFor blocks until pred holds for some recorded event or the timeout
// expires. It returns the first matching event.
func (r *Recorder) WaitFor(pred func(Event) bool, timeout time.Duration) (Event, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		for _, ev := range r.Events() {
			if pred(ev) {
				return ev, true
			}
		}
		select {
		case <-r.wake:
		case <-deadline.C:
			return Event{}, false
		}
	}
}

var _ Emitter = (*Recorder)(nil)

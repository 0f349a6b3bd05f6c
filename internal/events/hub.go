// Package events records a session's progress timeline and fans it out to
// live subscribers.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/prepx/internal/metrics"
)

// Status is the state an event reports.
type Status string

const (
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Level marks recoverable problems; empty means informational.
type Level string

const LevelWarning Level = "warning"

// TimestampFormat is the clock format shown to clients.
const TimestampFormat = "03:04:05 PM"

// Event is one progress record. Done marks the terminal event of a job.
type Event struct {
	ID        string    `json:"id"`
	Seq       int       `json:"seq"`
	Agent     string    `json:"agent"`
	Message   string    `json:"message"`
	Status    Status    `json:"status"`
	Level     Level     `json:"level,omitempty"`
	Timestamp string    `json:"timestamp"`
	Time      time.Time `json:"time"`
	Done      bool      `json:"_done,omitempty"`
}

var (
	// ErrIdle is returned by Next when no event arrived within the idle window.
	ErrIdle = errors.New("no event within idle window")
	// ErrClosed is returned by Next once the subscription is removed and drained.
	ErrClosed = errors.New("subscription closed")
)

// Hub is the append-only event log of one job plus its live subscribers.
// Appending and subscribing share one lock, so a subscriber sees the backlog
// followed by live events with no gap and no duplicate.
type Hub struct {
	mu   sync.Mutex
	log  []Event
	subs map[*Subscription]struct{}
	done bool

	now func() time.Time
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[*Subscription]struct{}),
		now:  time.Now,
	}
}

// Emit appends an event and pushes it to every subscriber. Events emitted
// after Finish are dropped.
func (h *Hub) Emit(agent, message string, status Status) Event {
	return h.append(Event{Agent: agent, Message: message, Status: status})
}

// Warn emits a recoverable stage failure.
func (h *Hub) Warn(agent, message string) Event {
	return h.append(Event{Agent: agent, Message: message, Status: StatusError, Level: LevelWarning})
}

// Finish appends the terminal event. Only the first call has any effect; it
// reports whether this call was the one that finished the hub.
func (h *Hub) Finish(status Status, message string) (Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return Event{}, false
	}
	ev := h.appendLocked(Event{Agent: "System", Message: message, Status: status, Done: true})
	h.done = true
	return ev, true
}

func (h *Hub) append(ev Event) Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return Event{}
	}
	return h.appendLocked(ev)
}

func (h *Hub) appendLocked(ev Event) Event {
	t := h.now()
	ev.ID = ulid.Make().String()
	ev.Seq = len(h.log) + 1
	ev.Time = t
	ev.Timestamp = t.Format(TimestampFormat)
	h.log = append(h.log, ev)
	for sub := range h.subs {
		sub.push(ev)
	}
	metrics.Get().EventsEmitted.WithLabelValues(string(ev.Status)).Inc()
	return ev
}

// Log returns a snapshot of every event so far.
func (h *Hub) Log() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Event, len(h.log))
	copy(out, h.log)
	return out
}

// Len returns the number of events recorded.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.log)
}

// Done reports whether the terminal event has been emitted.
func (h *Hub) Done() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}

// Subscribers returns the number of registered live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Subscribe returns a subscription preloaded with the backlog. On a finished
// hub the subscription holds the whole log, terminal event included, and is
// not registered for live delivery.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &Subscription{
		hub:    h,
		queue:  append([]Event(nil), h.log...),
		notify: make(chan struct{}, 1),
	}
	if h.done {
		sub.closed = true
		return sub
	}
	h.subs[sub] = struct{}{}
	metrics.Get().ActiveSubscribers.Inc()
	return sub
}

// Unsubscribe deregisters sub. Events already queued stay readable.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()

	if ok {
		metrics.Get().ActiveSubscribers.Dec()
	}
	sub.close()
}

// Subscription is one observer's ordered, unbounded event queue.
type Subscription struct {
	hub    *Hub
	mu     sync.Mutex
	queue  []Event
	closed bool
	notify chan struct{}
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next returns the next queued event, waiting up to idle for one to arrive.
// It returns ErrIdle when idle elapses (idle <= 0 waits indefinitely),
// ErrClosed when the subscription is closed and drained, or ctx's error.
func (s *Subscription) Next(ctx context.Context, idle time.Duration) (Event, error) {
	var timeout <-chan time.Time
	if idle > 0 {
		t := time.NewTimer(idle)
		defer t.Stop()
		timeout = t.C
	}

	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue[0] = Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Event{}, ErrClosed
		}

		select {
		case <-s.notify:
		case <-timeout:
			return Event{}, ErrIdle
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Close deregisters the subscription from its hub.
func (s *Subscription) Close() {
	s.hub.Unsubscribe(s)
}

package identity

import "sync"

// EventType distinguishes identity transitions.
type EventType int

const (
	// LoggedIn means the session became Authenticated.
	LoggedIn EventType = iota + 1
	// LoggedOut means the session returned to Anonymous.
	LoggedOut
)

func (t EventType) String() string {
	switch t {
	case LoggedIn:
		return "logged_in"
	case LoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Event is one identity transition. Seq increases by one per transition and is
// shared across all subscribers, so a caller can wait for the outcome of a
// specific transition.
type Event struct {
	Type   EventType
	Seq    uint64
	Token  string
	UserID string
	Email  string
}

// Subscription is an unbounded FIFO of events for one consumer.
// Publishing never blocks the Holder; consumers select on Wait() and drain
// with Next().
type Subscription struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered, size 1: coalesces wakeups

	holder *Holder
	id     int
}

func newSubscription(h *Holder, id int) *Subscription {
	return &Subscription{
		events: make([]Event, 0, 4),
		signal: make(chan struct{}, 1),
		holder: h,
		id:     id,
	}
}

// push appends e and signals the consumer. Returns false once closed.
func (s *Subscription) push(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.events = append(s.events, e)

	select {
	case s.signal <- struct{}{}:
	default:
	}
	return true
}

// Next pops the oldest pending event without blocking.
func (s *Subscription) Next() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.events) == 0 {
		return Event{}, false
	}
	e := s.events[0]
	if len(s.events) == 1 {
		s.events = s.events[:0]
	} else {
		s.events = s.events[1:]
	}
	return e, true
}

// Wait returns a channel that fires when events may be available.
func (s *Subscription) Wait() <-chan struct{} {
	return s.signal
}

// Close detaches the subscription from its Holder. Pending events are dropped.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.events = nil
	s.mu.Unlock()

	s.holder.unsubscribe(s.id)
}

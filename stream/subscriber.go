package stream

import (
	"sync"
	"sync/atomic"
)

// Subscriber is one consumer of conversion events, typically backing a
// single WebSocket connection. Delivery is best-effort: events flow
// through a buffered channel with a credit budget, and anything that
// cannot be accepted immediately is dropped. The job store remains the
// authoritative state, so a viewer that misses events resynchronizes by
// fetching a snapshot.
type Subscriber struct {
	id string

	ch chan *Event

	// closeMu orders sends against Close so a concurrent Close can
	// never close the channel between a send's closed check and the
	// send itself.
	closeMu sync.RWMutex
	closed  atomic.Bool

	// credits caps how many events may be delivered before the consumer
	// replenishes with AddCredits. At zero the broker skips this
	// subscriber entirely.
	credits atomic.Int64

	// filter, when set, suppresses events the consumer does not want
	// (e.g. progress noise for a dashboard that only shows terminals).
	filter func(*Event) bool

	mu     sync.RWMutex
	topics map[string]struct{}
}

// NewSubscriber creates a subscriber with the given channel buffer and
// initial credit budget.
func NewSubscriber(id string, buffer int, credits int64) *Subscriber {
	s := &Subscriber{
		id:     id,
		ch:     make(chan *Event, buffer),
		topics: make(map[string]struct{}),
	}
	s.credits.Store(credits)
	return s
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the read-only event channel.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// AddCredits replenishes the delivery budget.
func (s *Subscriber) AddCredits(n int64) { s.credits.Add(n) }

// Credits returns the remaining delivery budget.
func (s *Subscriber) Credits() int64 { return s.credits.Load() }

// SetFilter installs an event predicate; only matching events are
// delivered.
func (s *Subscriber) SetFilter(fn func(*Event) bool) { s.filter = fn }

// Topics returns the names of all topics this subscriber is on.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

func (s *Subscriber) addTopic(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

func (s *Subscriber) removeTopic(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// send delivers evt if the filter accepts it, a credit is available,
// and the buffer has room. It reports whether the event was accepted;
// a false return means the event was dropped for this subscriber.
func (s *Subscriber) send(evt *Event) bool {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed.Load() {
		return false
	}
	if s.filter != nil && !s.filter(evt) {
		return false
	}

	// Take one credit; contended decrements retry on CAS failure.
	for {
		cur := s.credits.Load()
		if cur <= 0 {
			return false
		}
		if s.credits.CompareAndSwap(cur, cur-1) {
			break
		}
	}

	select {
	case s.ch <- evt:
		return true
	default:
		// Buffer full: the event is dropped, the credit goes back.
		s.credits.Add(1)
		return false
	}
}

// Close closes the event channel. Safe to call more than once and safe
// against in-flight sends.
func (s *Subscriber) Close() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

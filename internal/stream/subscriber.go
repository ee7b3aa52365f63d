package stream

import "sync"

// Subscriber receives events through a bounded queue. When the queue is
// full the oldest queued event is discarded so the network read path
// never blocks on a slow consumer.
type Subscriber struct {
	id int
	ch chan Event

	mu      sync.Mutex
	closed  bool
	dropped uint64
}

func newSubscriber(id, size int) *Subscriber {
	if size <= 0 {
		size = 1
	}
	return &Subscriber{id: id, ch: make(chan Event, size)}
}

// C returns the event channel. It is closed when the session closes or the
// subscriber is removed; events already queued remain readable.
func (s *Subscriber) C() <-chan Event {
	return s.ch
}

// Dropped returns how many events were discarded on overflow.
func (s *Subscriber) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// push enqueues ev and reports whether an older event was discarded.
func (s *Subscriber) push(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	dropped := false
	for {
		select {
		case s.ch <- ev:
			return dropped
		default:
		}
		select {
		case <-s.ch:
			dropped = true
			s.dropped++
		default:
		}
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

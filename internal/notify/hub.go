package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/covenant-app/covenant/internal/observability"
)

const defaultSessionBuffer = 32

// Hub is the in-process session registry. Delivery never blocks: a session
// whose buffer is full misses the event.
type Hub struct {
	mu      sync.RWMutex
	topics  map[string]map[*Session]struct{}
	buffer  int
	metrics *observability.Metrics
}

// NewHub constructs a Hub with the given per-session buffer.
func NewHub(buffer int, metrics *observability.Metrics) *Hub {
	if buffer <= 0 {
		buffer = defaultSessionBuffer
	}
	return &Hub{
		topics:  make(map[string]map[*Session]struct{}),
		buffer:  buffer,
		metrics: metrics,
	}
}

// Session is one connected client's event stream.
type Session struct {
	ID string

	hub       *Hub
	ch        chan Message
	topics    map[string]struct{}
	closed    bool
	closeOnce sync.Once
}

// Open registers a new session.
func (h *Hub) Open() *Session {
	h.metrics.SessionOpened()
	return &Session{
		ID:     uuid.NewString(),
		hub:    h,
		ch:     make(chan Message, h.buffer),
		topics: make(map[string]struct{}),
	}
}

// Messages returns the session's receive channel. It is closed by Close.
func (s *Session) Messages() <-chan Message {
	return s.ch
}

// Subscribe adds topic to the session.
func (s *Session) Subscribe(topic string) {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return
	}
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Session]struct{})
		h.topics[topic] = subs
	}
	subs[s] = struct{}{}
	s.topics[topic] = struct{}{}
}

// Unsubscribe removes topic from the session.
func (s *Session) Unsubscribe(topic string) {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s, topic)
}

// Close detaches the session from every topic and closes its channel.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		h := s.hub
		h.mu.Lock()
		for topic := range s.topics {
			h.removeLocked(s, topic)
		}
		s.closed = true
		close(s.ch)
		h.mu.Unlock()
		h.metrics.SessionClosed()
	})
}

func (h *Hub) removeLocked(s *Session, topic string) {
	delete(s.topics, topic)
	subs := h.topics[topic]
	if subs == nil {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
}

// Deliver fans ev out to local subscribers and returns how many received it.
func (h *Hub) Deliver(ev Event) int {
	msg := ev.Message()
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered, dropped := 0, 0
	for s := range h.topics[msg.Event] {
		select {
		case s.ch <- msg:
			delivered++
		default:
			dropped++
		}
	}
	h.metrics.ObserveNotification("delivered", delivered)
	h.metrics.ObserveNotification("dropped", dropped)
	return delivered
}

// Send queues msg for one session without blocking.
func (s *Session) Send(msg Message) bool {
	h := s.hub
	h.mu.RLock()
	defer h.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

// Publish delivers locally. It lets a single process run without a broker.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.Deliver(ev)
	return nil
}

// Subscribers reports the number of sessions watching topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Package eventbus fans events out to connected observers grouped in rooms.
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

type Event struct {
	ID          string    `json:"id"`
	Topic       string    `json:"topic"`
	Room        string    `json:"room,omitempty"`
	Payload     any       `json:"payload"`
	PublishedAt time.Time `json:"published_at"`
}

// Mirror forwards locally published events to other instances.
type Mirror interface {
	Mirror(ctx context.Context, ev Event, rooms []string)
}

type HubOption func(*Hub)

func WithMirror(m Mirror) HubOption {
	return func(h *Hub) {
		h.mirror = m
	}
}

// Hub delivers each event at most once to every matching subscriber. Delivery
// never blocks: a subscriber with a full buffer misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	mirror Mirror
	closed bool
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{subs: make(map[*Subscriber]struct{})}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish sends payload to subscribers in any of rooms, or to everyone when
// no room is given.
func (h *Hub) Publish(ctx context.Context, topic string, payload any, rooms ...string) {
	ev := h.PublishLocal(topic, payload, rooms...)
	if h.mirror != nil {
		h.mirror.Mirror(ctx, ev, rooms)
	}
}

// PublishLocal delivers to this process only and returns the event sent.
func (h *Hub) PublishLocal(topic string, payload any, rooms ...string) Event {
	ev := Event{
		ID:          ulid.Make().String(),
		Topic:       topic,
		Payload:     payload,
		PublishedAt: time.Now().UTC(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ev
	}

	delivered := 0
	for sub := range h.subs {
		room, ok := sub.match(rooms)
		if !ok {
			continue
		}
		out := ev
		out.Room = room
		if sub.offer(out) {
			delivered++
		}
	}
	log.Debug().Str("topic", topic).Strs("rooms", rooms).Int("delivered", delivered).Msg("eventbus: event published")
	return ev
}

func (h *Hub) Subscribe(buffer int) *Subscriber {
	if buffer < 1 {
		buffer = 1
	}
	sub := &Subscriber{
		hub:    h,
		events: make(chan Event, buffer),
		rooms:  make(map[string]bool),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.events)
		sub.closed = true
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber. Later publishes are discarded.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		sub.closeLocked()
		delete(h.subs, sub)
	}
}

type Subscriber struct {
	hub     *Hub
	events  chan Event
	roomsMu sync.RWMutex
	rooms   map[string]bool
	closed  bool
	dropped atomic.Int64
}

// Join adds the subscriber to rooms. Broadcasts reach it regardless.
func (s *Subscriber) Join(rooms ...string) {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()
	for _, r := range rooms {
		s.rooms[r] = true
	}
}

func (s *Subscriber) Leave(room string) {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()
	delete(s.rooms, room)
}

func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// Dropped counts events lost to a full buffer.
func (s *Subscriber) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Subscriber) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if _, ok := s.hub.subs[s]; !ok {
		return
	}
	delete(s.hub.subs, s)
	s.closeLocked()
}

// closeLocked requires the hub write lock.
func (s *Subscriber) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

func (s *Subscriber) match(rooms []string) (string, bool) {
	if len(rooms) == 0 {
		return "", true
	}
	s.roomsMu.RLock()
	defer s.roomsMu.RUnlock()
	for _, r := range rooms {
		if s.rooms[r] {
			return r, true
		}
	}
	return "", false
}

// offer requires at least the hub read lock.
func (s *Subscriber) offer(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

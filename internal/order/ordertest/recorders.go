package ordertest

import (
	"context"
	"sync"
)

type Sent struct {
	Address string
	Text    string
	CtxErr  error
}

type RecordingNotifier struct {
	mu   sync.Mutex
	sent []Sent
}

func (n *RecordingNotifier) Send(ctx context.Context, address, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, Sent{Address: address, Text: text, CtxErr: ctx.Err()})
}

func (n *RecordingNotifier) Sent() []Sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Sent, len(n.sent))
	copy(out, n.sent)
	return out
}

func (n *RecordingNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type Published struct {
	Topic   string
	Payload any
	Rooms   []string
	CtxErr  error
}

type RecordingPublisher struct {
	mu     sync.Mutex
	events []Published
}

func (p *RecordingPublisher) Publish(ctx context.Context, topic string, payload any, rooms ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, Published{Topic: topic, Payload: payload, Rooms: rooms, CtxErr: ctx.Err()})
}

// Topic returns every event published under topic, in publish order.
func (p *RecordingPublisher) Topic(topic string) []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Published
	for _, e := range p.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

// Settings is a fixed key/value SettingsReader.
type Settings struct {
	mu     sync.Mutex
	values map[string]string
	Err    error
}

func NewSettings(values map[string]string) *Settings {
	s := &Settings{values: make(map[string]string)}
	for k, v := range values {
		s.values[k] = v
	}
	return s
}

func (s *Settings) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	return s.values[key], nil
}

func (s *Settings) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

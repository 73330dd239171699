package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

const (
	attrTopic  = "topic"
	attrRooms  = "rooms"
	attrOrigin = "origin"
)

// PubSubMirror copies hub events to a Pub/Sub topic so that other instances
// can relay them to their own subscribers.
type PubSubMirror struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	origin string
}

func NewPubSubMirror(client *pubsub.Client, topicID string) (*PubSubMirror, error) {
	if client == nil {
		return nil, errors.New("pubsub mirror: client is required")
	}
	if strings.TrimSpace(topicID) == "" {
		return nil, errors.New("pubsub mirror: topic id is required")
	}
	return &PubSubMirror{
		client: client,
		topic:  client.Topic(topicID),
		origin: ulid.Make().String(),
	}, nil
}

type wireEvent struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt string          `json:"published_at"`
}

// Mirror publishes ev asynchronously. Failures are logged only.
func (m *PubSubMirror) Mirror(ctx context.Context, ev Event, rooms []string) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("topic", ev.Topic).Msg("eventbus: failed to encode event for pubsub")
		return
	}

	attrs := map[string]string{
		attrTopic:  ev.Topic,
		attrOrigin: m.origin,
	}
	if len(rooms) > 0 {
		attrs[attrRooms] = strings.Join(rooms, ",")
	}

	result := m.topic.Publish(context.WithoutCancel(ctx), &pubsub.Message{Data: data, Attributes: attrs})
	go func() {
		if _, err := result.Get(context.Background()); err != nil {
			log.Error().Err(err).Str("topic", ev.Topic).Str("event_id", ev.ID).Msg("eventbus: pubsub publish failed")
		}
	}()
}

// Relay receives events mirrored by other instances and delivers them to the
// local hub. It blocks until ctx is done.
func (m *PubSubMirror) Relay(ctx context.Context, subscriptionID string, hub *Hub) error {
	sub := m.client.Subscription(subscriptionID)
	err := sub.Receive(ctx, func(_ context.Context, msg *pubsub.Message) {
		defer msg.Ack()
		if msg.Attributes[attrOrigin] == m.origin {
			return
		}

		var ev wireEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Warn().Err(err).Str("message_id", msg.ID).Msg("eventbus: dropping malformed pubsub event")
			return
		}

		var rooms []string
		if r := msg.Attributes[attrRooms]; r != "" {
			rooms = strings.Split(r, ",")
		}
		hub.PublishLocal(ev.Topic, ev.Payload, rooms...)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("pubsub relay: %w", err)
	}
	return nil
}

// Close flushes pending publishes.
func (m *PubSubMirror) Close() {
	m.topic.Stop()
}

package main

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/iceos-ai/iceos/common/logger"
	"github.com/iceos-ai/iceos/common/redis"
)

// Subscriber bridges Redis pub/sub into the hub. It pattern-subscribes
// to the live run channels and the draft update channels and fans every
// payload out to the matching topic.
type Subscriber struct {
	client *redis.Client
	hub    *Hub
	log    *logger.Logger
}

// NewSubscriber creates a new Subscriber instance
func NewSubscriber(client *redis.Client, hub *Hub, log *logger.Logger) *Subscriber {
	return &Subscriber{
		client: client,
		hub:    hub,
		log:    log,
	}
}

// Start subscribes to the run and draft channels and pumps messages to
// the hub until the context is cancelled. Reconnects on failure.
func (s *Subscriber) Start(ctx context.Context) {
	for {
		if err := s.consume(ctx); err != nil {
			s.log.Error("pubsub consumer stopped", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
			s.log.Info("reconnecting pubsub consumer")
		}
	}
}

func (s *Subscriber) consume(ctx context.Context) error {
	pubsub := s.client.GetUnderlying().PSubscribe(ctx, "run:*:live", "draft:*:updated")
	defer pubsub.Close()

	// Fail fast if the subscription never establishes
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	s.log.Info("subscribed to run and draft channels")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.dispatch(msg)
		}
	}
}

// dispatch maps a pub/sub channel name to its hub topic and forwards
// the payload wrapped in an outbound envelope.
func (s *Subscriber) dispatch(msg *goredis.Message) {
	topic, messageType := topicFor(msg.Channel)
	if topic == "" {
		s.log.Debug("ignoring message on unrecognized channel", "channel", msg.Channel)
		return
	}

	frame, err := json.Marshal(Envelope(messageType, json.RawMessage(msg.Payload)))
	if err != nil {
		s.log.Warn("failed to wrap pubsub payload", "channel", msg.Channel, "error", err)
		return
	}

	s.hub.broadcast <- &Message{Topic: topic, Data: frame}
}

// topicFor derives the hub topic and outbound message type from a
// pub/sub channel name: run:{id}:live carries execution events,
// draft:{id}:updated carries draft change notifications.
func topicFor(channel string) (topic, messageType string) {
	parts := strings.Split(channel, ":")
	if len(parts) != 3 {
		return "", ""
	}

	switch {
	case parts[0] == "run" && parts[2] == "live":
		return "run:" + parts[1], "event"
	case parts[0] == "draft" && parts[2] == "updated":
		return "draft:" + parts[1], "draft.updated"
	default:
		return "", ""
	}
}

// Package events is the run event bus: process-local handlers plus a
// Redis stream writer the gateway replays from.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/iceos-ai/iceos/common/redis"
	"github.com/iceos-ai/iceos/core/model"
)

// Logger is the minimal logging interface the bus needs
type Logger interface {
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Handler receives every emitted event. Handler errors and panics are
// logged and swallowed; the engine never stops over a subscriber.
type Handler func(ctx context.Context, event model.ExecutionEvent) error

// StreamKey returns the Redis stream key for a run's events
func StreamKey(runID string) string {
	return fmt.Sprintf("run:%s:events", runID)
}

// ChannelKey returns the pub/sub channel for live event pushes
func ChannelKey(runID string) string {
	return fmt.Sprintf("run:%s:live", runID)
}

// Bus fans events out to local handlers and appends them to the run's
// Redis stream. Emit never returns an error: event delivery problems
// are observability problems, not engine failures.
type Bus struct {
	mu        sync.RWMutex
	handlers  []Handler
	redis     *redis.Client
	retention time.Duration
	log       Logger
}

// NewBus creates a bus. A nil redis client keeps the bus local-only,
// which tests and the in-memory profile use.
func NewBus(rdb *redis.Client, retention time.Duration, log Logger) *Bus {
	return &Bus{
		redis:     rdb,
		retention: retention,
		log:       log,
	}
}

// Subscribe adds a process-local handler
func (b *Bus) Subscribe(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Emit delivers the event to every local handler, then appends it to
// the run stream and publishes it for live subscribers.
func (b *Bus) Emit(ctx context.Context, event model.ExecutionEvent) {
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.invoke(ctx, handler, event)
	}

	if b.redis == nil || event.RunID == "" {
		return
	}

	payload, err := event.Marshal()
	if err != nil {
		b.log.Error("failed to encode event", "event_type", event.EventType, "error", err)
		return
	}

	pipe := b.redis.NewPipeline()
	pipe.AddToStream(ctx, StreamKey(event.RunID), map[string]interface{}{
		"event": string(payload),
	})
	pipe.Expire(ctx, StreamKey(event.RunID), b.retention)
	pipe.PublishEvent(ctx, ChannelKey(event.RunID), string(payload))
	if err := pipe.Exec(ctx); err != nil {
		b.log.Error("failed to write event to stream",
			"run_id", event.RunID, "event_type", event.EventType, "error", err)
	}
}

func (b *Bus) invoke(ctx context.Context, handler Handler, event model.ExecutionEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked", "event_type", event.EventType, "panic", r)
		}
	}()
	if err := handler(ctx, event); err != nil {
		b.log.Error("event handler failed", "event_type", event.EventType, "error", err)
	}
}

// StreamEvent pairs a decoded event with its stream cursor id
type StreamEvent struct {
	ID    string
	Event model.ExecutionEvent
}

// Replay reads events from a run's stream after the given cursor.
// Cursor "0" (or empty) replays from the beginning.
func (b *Bus) Replay(ctx context.Context, runID, afterID string, count int64) ([]StreamEvent, error) {
	if b.redis == nil {
		return nil, nil
	}
	messages, err := b.redis.RangeStream(ctx, StreamKey(runID), afterID, count)
	if err != nil {
		return nil, fmt.Errorf("failed to replay run %s: %w", runID, err)
	}
	return decodeMessages(messages, b.log), nil
}

// Follow blocks for new events after the cursor, up to the block
// duration. Returns nil when nothing arrived.
func (b *Bus) Follow(ctx context.Context, runID, afterID string, count int64, block time.Duration) ([]StreamEvent, error) {
	if b.redis == nil {
		return nil, nil
	}
	messages, err := b.redis.ReadStream(ctx, StreamKey(runID), afterID, count, block)
	if err != nil {
		return nil, fmt.Errorf("failed to follow run %s: %w", runID, err)
	}
	return decodeMessages(messages, b.log), nil
}

func decodeMessages(messages []goredis.XMessage, log Logger) []StreamEvent {
	out := make([]StreamEvent, 0, len(messages))
	for _, msg := range messages {
		raw, ok := msg.Values["event"].(string)
		if !ok {
			continue
		}
		event, err := model.UnmarshalEvent([]byte(raw))
		if err != nil {
			log.Error("failed to decode stream event", "stream_id", msg.ID, "error", err)
			continue
		}
		out = append(out, StreamEvent{ID: msg.ID, Event: event})
	}
	return out
}

package drafts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iceos-ai/iceos/common/cache"
	"github.com/iceos-ai/iceos/common/redis"
	"github.com/iceos-ai/iceos/core/blueprint"
)

// MemoryBackend keeps drafts in a process-local TTL cache. Meant for
// single-node development and tests.
type MemoryBackend struct {
	ttl   time.Duration
	cache cache.Cache
}

func NewMemoryBackend(ttl time.Duration) *MemoryBackend {
	return &MemoryBackend{ttl: ttl, cache: cache.NewMemory()}
}

func (m *MemoryBackend) Load(ctx context.Context, sessionID string) (*blueprint.Draft, error) {
	data, ok, err := m.cache.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}

	var draft blueprint.Draft
	if err := json.Unmarshal(data, &draft); err != nil {
		return nil, fmt.Errorf("corrupt draft %q: %w", sessionID, err)
	}
	return &draft, nil
}

func (m *MemoryBackend) Store(ctx context.Context, draft *blueprint.Draft) error {
	data, err := json.Marshal(draft)
	if err != nil {
		return err
	}
	return m.cache.Set(ctx, draft.SessionID, data, m.ttl)
}

func (m *MemoryBackend) Remove(ctx context.Context, sessionID string) error {
	return m.cache.Delete(ctx, sessionID)
}

// RedisBackend stores drafts as JSON strings under draft:{session_id}
// with the TTL refreshed on every write.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisBackend(client *redis.Client, ttl time.Duration) *RedisBackend {
	return &RedisBackend{client: client, ttl: ttl}
}

func draftKey(sessionID string) string {
	return "draft:" + sessionID
}

func (r *RedisBackend) Load(ctx context.Context, sessionID string) (*blueprint.Draft, error) {
	raw, err := r.client.Get(ctx, draftKey(sessionID))
	if errors.Is(err, redis.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var draft blueprint.Draft
	if err := json.Unmarshal([]byte(raw), &draft); err != nil {
		return nil, fmt.Errorf("corrupt draft %q: %w", sessionID, err)
	}
	return &draft, nil
}

func (r *RedisBackend) Store(ctx context.Context, draft *blueprint.Draft) error {
	data, err := json.Marshal(draft)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, draftKey(draft.SessionID), string(data), r.ttl)
}

func (r *RedisBackend) Remove(ctx context.Context, sessionID string) error {
	return r.client.Delete(ctx, draftKey(sessionID))
}

// Package drafts is the author-time draft store: session-keyed drafts
// with TTL, optimistic version locking, and update broadcasts for
// connected editors.
package drafts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/iceos-ai/iceos/common/config"
	"github.com/iceos-ai/iceos/common/redis"
	"github.com/iceos-ai/iceos/core/blueprint"
)

var (
	// ErrNotFound is returned when no draft exists for a session
	ErrNotFound = errors.New("draft not found")

	// ErrLockConflict is returned when a mutation presents a stale
	// version lock. The draft is left untouched.
	ErrLockConflict = errors.New("version lock mismatch")
)

// DefaultTTL applies when the configured draft TTL is zero
const DefaultTTL = 24 * time.Hour

// ChannelKey is the pub/sub channel carrying draft.updated messages
// for a session. The gateway subscribes to it for editor fan-out.
func ChannelKey(sessionID string) string {
	return fmt.Sprintf("draft:%s:updated", sessionID)
}

// Logger is the subset of the app logger the store uses
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

// Backend persists drafts by session id
type Backend interface {
	Load(ctx context.Context, sessionID string) (*blueprint.Draft, error)
	Store(ctx context.Context, draft *blueprint.Draft) error
	Remove(ctx context.Context, sessionID string) error
}

// Notifier receives the draft after each successful mutation
type Notifier func(ctx context.Context, draft *blueprint.Draft)

// UpdateMessage is the broadcast payload published on ChannelKey
type UpdateMessage struct {
	EventType   string    `json:"event_type"`
	SessionID   string    `json:"session_id"`
	VersionLock string    `json:"version_lock"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store wraps a backend with lock checking and update broadcast
type Store struct {
	backend Backend
	rdb     *redis.Client // nil = no pub/sub broadcast
	log     Logger

	mu        sync.Mutex
	notifiers []Notifier
}

// New picks the backend from ICE_DRAFT_BACKEND and builds the store.
// The Redis backend requires a client; "memory" ignores it.
func New(cfg *config.Config, rdb *redis.Client, log Logger) (*Store, error) {
	ttl := cfg.Drafts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	var backend Backend
	switch cfg.Drafts.Backend {
	case "memory":
		backend = NewMemoryBackend(ttl)
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis draft backend requires a redis client")
		}
		backend = NewRedisBackend(rdb, ttl)
	default:
		return nil, fmt.Errorf("unknown draft backend %q", cfg.Drafts.Backend)
	}
	return NewStore(backend, rdb, log), nil
}

// NewStore builds a store over an explicit backend
func NewStore(backend Backend, rdb *redis.Client, log Logger) *Store {
	return &Store{backend: backend, rdb: rdb, log: log}
}

// Subscribe registers a process-local notifier for draft updates
func (s *Store) Subscribe(n Notifier) {
	s.mu.Lock()
	s.notifiers = append(s.notifiers, n)
	s.mu.Unlock()
}

// Get returns the draft for a session or ErrNotFound
func (s *Store) Get(ctx context.Context, sessionID string) (*blueprint.Draft, error) {
	return s.backend.Load(ctx, sessionID)
}

// GetOrCreate returns the existing draft or creates an empty one
func (s *Store) GetOrCreate(ctx context.Context, sessionID string) (*blueprint.Draft, error) {
	draft, err := s.backend.Load(ctx, sessionID)
	if err == nil {
		return draft, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	draft, err = blueprint.NewDraft(sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.backend.Store(ctx, draft); err != nil {
		return nil, err
	}
	return draft, nil
}

// Mutate loads the draft, verifies the presented lock, applies fn,
// reseals, and persists. A stale lock returns ErrLockConflict without
// touching the stored draft.
func (s *Store) Mutate(ctx context.Context, sessionID, presentedLock string, fn func(*blueprint.Draft) error) (*blueprint.Draft, error) {
	draft, err := s.backend.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !draft.LockMatches(presentedLock) {
		return nil, ErrLockConflict
	}

	if err := fn(draft); err != nil {
		return nil, err
	}
	if err := draft.Reseal(); err != nil {
		return nil, err
	}
	if err := s.backend.Store(ctx, draft); err != nil {
		return nil, err
	}

	s.broadcast(ctx, draft)
	return draft, nil
}

// ApplyPatch mutates the draft document with an RFC 6902 patch. The
// session id is pinned; a patch cannot move a draft between sessions.
func (s *Store) ApplyPatch(ctx context.Context, sessionID, presentedLock string, patch []byte) (*blueprint.Draft, error) {
	decoded, err := jsonpatch.DecodePatch(patch)
	if err != nil {
		return nil, fmt.Errorf("invalid patch: %w", err)
	}

	return s.Mutate(ctx, sessionID, presentedLock, func(draft *blueprint.Draft) error {
		doc, err := json.Marshal(draft)
		if err != nil {
			return err
		}
		patched, err := decoded.Apply(doc)
		if err != nil {
			return fmt.Errorf("patch failed: %w", err)
		}

		var next blueprint.Draft
		if err := json.Unmarshal(patched, &next); err != nil {
			return fmt.Errorf("patch produced an invalid draft: %w", err)
		}
		next.SessionID = draft.SessionID
		next.UpdatedAt = time.Now().UTC()
		*draft = next
		return nil
	})
}

// Delete removes a draft
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	return s.backend.Remove(ctx, sessionID)
}

// broadcast delivers draft.updated to local notifiers and, when Redis
// is wired, to the session's pub/sub channel. Broadcast failures are
// logged and never fail the mutation.
func (s *Store) broadcast(ctx context.Context, draft *blueprint.Draft) {
	s.mu.Lock()
	notifiers := make([]Notifier, len(s.notifiers))
	copy(notifiers, s.notifiers)
	s.mu.Unlock()

	for _, n := range notifiers {
		n(ctx, draft)
	}

	if s.rdb == nil {
		return
	}
	payload, err := json.Marshal(UpdateMessage{
		EventType:   "draft.updated",
		SessionID:   draft.SessionID,
		VersionLock: draft.VersionLock,
		UpdatedAt:   draft.UpdatedAt,
	})
	if err != nil {
		return
	}
	if err := s.rdb.PublishEvent(ctx, ChannelKey(draft.SessionID), string(payload)); err != nil {
		s.log.Warn("draft.updated broadcast failed", "session_id", draft.SessionID, "error", err)
	}
}

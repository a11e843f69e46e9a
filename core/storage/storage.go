// Package storage is the persistence port for authored components,
// blueprints, executions, and their event trails.
package storage

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/iceos-ai/iceos/common/db"
	"github.com/iceos-ai/iceos/core/model"
)

// ErrStaleVersion is returned when an optimistic-lock update loses
var ErrStaleVersion = errors.New("stale version")

// Component is a reusable registry-backed definition (tool, agent,
// chain) persisted per tenant.
type Component struct {
	ID         string          `json:"id"`
	Definition json.RawMessage `json:"definition"`
	Version    int             `json:"version"`
	Tenant     string          `json:"tenant"`
}

// BlueprintRecord is a persisted blueprint body with its lock version
type BlueprintRecord struct {
	ID            string          `json:"id"`
	SchemaVersion string          `json:"schema_version"`
	Body          json.RawMessage `json:"body"`
	LockVersion   int             `json:"lock_version"`
	Tenant        string          `json:"tenant"`
}

// ExecutionRecord is one run of a blueprint
type ExecutionRecord struct {
	ID          string          `json:"id"`
	BlueprintID string          `json:"blueprint_id"`
	Status      model.RunStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	CostMeta    json.RawMessage `json:"cost_meta,omitempty"`
	Tenant      string          `json:"tenant"`
}

// EventRecord is one row of an execution's event trail
type EventRecord struct {
	ExecutionID string          `json:"execution_id"`
	NodeID      *string         `json:"node_id,omitempty"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
	TS          time.Time       `json:"ts"`
}

// Storage bundles the per-table repositories
type Storage struct {
	Components *ComponentRepository
	Blueprints *BlueprintRepository
	Executions *ExecutionRepository
	Events     *EventRepository
}

// New builds the repositories over one connection pool
func New(database *db.DB) *Storage {
	return &Storage{
		Components: NewComponentRepository(database),
		Blueprints: NewBlueprintRepository(database),
		Executions: NewExecutionRepository(database),
		Events:     NewEventRepository(database),
	}
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/iceos-ai/iceos/common/db"
	"github.com/iceos-ai/iceos/core/model"
)

// EventRepository handles database operations for execution events
type EventRepository struct {
	db *db.DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(database *db.DB) *EventRepository {
	return &EventRepository{db: database}
}

// Append inserts one event row
func (r *EventRepository) Append(ctx context.Context, record *EventRecord) error {
	query := `
		INSERT INTO execution_events (execution_id, node_id, event_type, payload, ts)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Exec(
		ctx,
		query,
		record.ExecutionID,
		record.NodeID,
		record.EventType,
		record.Payload,
		record.TS,
	)

	if err != nil {
		return fmt.Errorf("failed to append execution event: %w", err)
	}

	return nil
}

// Recorder adapts the repository into an event-bus handler so every
// emitted event lands in the trail. Write failures are returned to the
// bus, which logs and continues.
func (r *EventRepository) Recorder() func(ctx context.Context, ev model.ExecutionEvent) error {
	return func(ctx context.Context, ev model.ExecutionEvent) error {
		payload, err := json.Marshal(ev.Fields)
		if err != nil {
			return fmt.Errorf("failed to encode event payload: %w", err)
		}

		record := &EventRecord{
			ExecutionID: ev.RunID,
			EventType:   string(ev.EventType),
			Payload:     payload,
			TS:          ev.Timestamp,
		}
		if ev.NodeID != "" {
			nodeID := ev.NodeID
			record.NodeID = &nodeID
		}
		return r.Append(ctx, record)
	}
}

// ListByExecution retrieves an execution's events in emission order
func (r *EventRepository) ListByExecution(ctx context.Context, executionID string, limit int) ([]*EventRecord, error) {
	query := `
		SELECT execution_id, node_id, event_type, payload, ts
		FROM execution_events
		WHERE execution_id = $1
		ORDER BY ts
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, executionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution events: %w", err)
	}
	defer rows.Close()

	var records []*EventRecord
	for rows.Next() {
		record := &EventRecord{}
		err := rows.Scan(
			&record.ExecutionID,
			&record.NodeID,
			&record.EventType,
			&record.Payload,
			&record.TS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution event: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution events: %w", err)
	}

	return records, nil
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iceos-ai/iceos/common/db"
	"github.com/iceos-ai/iceos/core/model"
)

// ExecutionRepository handles database operations for executions
type ExecutionRepository struct {
	db *db.DB
}

// NewExecutionRepository creates a new execution repository
func NewExecutionRepository(database *db.DB) *ExecutionRepository {
	return &ExecutionRepository{db: database}
}

// Create inserts a new execution
func (r *ExecutionRepository) Create(ctx context.Context, execution *ExecutionRecord) error {
	query := `
		INSERT INTO executions (id, blueprint_id, status, started_at, cost_meta, tenant)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Exec(
		ctx,
		query,
		execution.ID,
		execution.BlueprintID,
		execution.Status,
		execution.StartedAt,
		execution.CostMeta,
		execution.Tenant,
	)

	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}

	return nil
}

// GetByID retrieves an execution by its ID
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*ExecutionRecord, error) {
	query := `
		SELECT id, blueprint_id, status, started_at, finished_at, cost_meta, tenant
		FROM executions
		WHERE id = $1
	`

	execution := &ExecutionRecord{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&execution.ID,
		&execution.BlueprintID,
		&execution.Status,
		&execution.StartedAt,
		&execution.FinishedAt,
		&execution.CostMeta,
		&execution.Tenant,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	return execution, nil
}

// UpdateStatus updates the status of a running execution
func (r *ExecutionRepository) UpdateStatus(ctx context.Context, id string, status model.RunStatus) error {
	query := `
		UPDATE executions
		SET status = $2
		WHERE id = $1
	`

	_, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update execution status: %w", err)
	}

	return nil
}

// Finish records the terminal status with the run's cost metadata
func (r *ExecutionRepository) Finish(ctx context.Context, id string, status model.RunStatus, finishedAt time.Time, report *model.RunReport) error {
	costMeta, err := json.Marshal(map[string]interface{}{
		"total_tokens":   report.TotalTokens,
		"total_cost_usd": report.TotalCost,
		"api_calls":      report.APICalls,
		"completed":      report.Completed,
		"failed":         report.Failed,
		"skipped":        report.Skipped,
	})
	if err != nil {
		return fmt.Errorf("failed to encode cost meta: %w", err)
	}

	query := `
		UPDATE executions
		SET status = $2, finished_at = $3, cost_meta = $4
		WHERE id = $1
	`

	_, err = r.db.Exec(ctx, query, id, status, finishedAt, costMeta)
	if err != nil {
		return fmt.Errorf("failed to finish execution: %w", err)
	}

	return nil
}

// ListByBlueprint retrieves executions of a blueprint, newest first
func (r *ExecutionRepository) ListByBlueprint(ctx context.Context, blueprintID string, limit int) ([]*ExecutionRecord, error) {
	query := `
		SELECT id, blueprint_id, status, started_at, finished_at, cost_meta, tenant
		FROM executions
		WHERE blueprint_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, blueprintID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []*ExecutionRecord
	for rows.Next() {
		execution := &ExecutionRecord{}
		err := rows.Scan(
			&execution.ID,
			&execution.BlueprintID,
			&execution.Status,
			&execution.StartedAt,
			&execution.FinishedAt,
			&execution.CostMeta,
			&execution.Tenant,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

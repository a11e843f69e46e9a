package storage

import (
	"context"
	"fmt"

	"github.com/iceos-ai/iceos/common/db"
)

// BlueprintRepository handles database operations for blueprints
type BlueprintRepository struct {
	db *db.DB
}

// NewBlueprintRepository creates a new blueprint repository
func NewBlueprintRepository(database *db.DB) *BlueprintRepository {
	return &BlueprintRepository{db: database}
}

// Create inserts a new blueprint at lock_version 1
func (r *BlueprintRepository) Create(ctx context.Context, record *BlueprintRecord) error {
	query := `
		INSERT INTO blueprints (id, schema_version, body, lock_version, tenant)
		VALUES ($1, $2, $3, 1, $4)
	`

	_, err := r.db.Exec(
		ctx,
		query,
		record.ID,
		record.SchemaVersion,
		record.Body,
		record.Tenant,
	)

	if err != nil {
		return fmt.Errorf("failed to create blueprint: %w", err)
	}

	return nil
}

// GetByID retrieves a blueprint by its ID
func (r *BlueprintRepository) GetByID(ctx context.Context, tenant, id string) (*BlueprintRecord, error) {
	query := `
		SELECT id, schema_version, body, lock_version, tenant
		FROM blueprints
		WHERE tenant = $1 AND id = $2
	`

	record := &BlueprintRecord{}
	err := r.db.QueryRow(ctx, query, tenant, id).Scan(
		&record.ID,
		&record.SchemaVersion,
		&record.Body,
		&record.LockVersion,
		&record.Tenant,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to get blueprint: %w", err)
	}

	return record, nil
}

// Update replaces the body if the caller holds the current lock
// version. A stale version returns ErrStaleVersion and leaves the row
// unchanged.
func (r *BlueprintRepository) Update(ctx context.Context, record *BlueprintRecord) error {
	query := `
		UPDATE blueprints
		SET body = $3, schema_version = $4, lock_version = lock_version + 1
		WHERE tenant = $1 AND id = $2 AND lock_version = $5
	`

	tag, err := r.db.Exec(
		ctx,
		query,
		record.Tenant,
		record.ID,
		record.Body,
		record.SchemaVersion,
		record.LockVersion,
	)

	if err != nil {
		return fmt.Errorf("failed to update blueprint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleVersion
	}

	record.LockVersion++
	return nil
}

package storage

import (
	"context"
	"fmt"

	"github.com/iceos-ai/iceos/common/db"
)

// ComponentRepository handles database operations for components
type ComponentRepository struct {
	db *db.DB
}

// NewComponentRepository creates a new component repository
func NewComponentRepository(database *db.DB) *ComponentRepository {
	return &ComponentRepository{db: database}
}

// Upsert inserts a component or bumps its version when the definition
// changes
func (r *ComponentRepository) Upsert(ctx context.Context, component *Component) error {
	query := `
		INSERT INTO components (id, definition, version, tenant)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (id, tenant)
		DO UPDATE SET definition = EXCLUDED.definition,
		              version = components.version + 1
	`

	_, err := r.db.Exec(ctx, query, component.ID, component.Definition, component.Tenant)
	if err != nil {
		return fmt.Errorf("failed to upsert component: %w", err)
	}

	return nil
}

// GetByID retrieves a component for a tenant
func (r *ComponentRepository) GetByID(ctx context.Context, tenant, id string) (*Component, error) {
	query := `
		SELECT id, definition, version, tenant
		FROM components
		WHERE tenant = $1 AND id = $2
	`

	component := &Component{}
	err := r.db.QueryRow(ctx, query, tenant, id).Scan(
		&component.ID,
		&component.Definition,
		&component.Version,
		&component.Tenant,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to get component: %w", err)
	}

	return component, nil
}

// ListByTenant retrieves a tenant's components
func (r *ComponentRepository) ListByTenant(ctx context.Context, tenant string, limit int) ([]*Component, error) {
	query := `
		SELECT id, definition, version, tenant
		FROM components
		WHERE tenant = $1
		ORDER BY id
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, tenant, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list components: %w", err)
	}
	defer rows.Close()

	var components []*Component
	for rows.Next() {
		component := &Component{}
		err := rows.Scan(
			&component.ID,
			&component.Definition,
			&component.Version,
			&component.Tenant,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan component: %w", err)
		}
		components = append(components, component)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating components: %w", err)
	}

	return components, nil
}

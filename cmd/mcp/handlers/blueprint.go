package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iceos-ai/iceos/common/middleware"
	"github.com/iceos-ai/iceos/core/blueprint"
	"github.com/iceos-ai/iceos/core/storage"
)

// BlueprintAck is the response to a blueprint registration
type BlueprintAck struct {
	BlueprintID string `json:"blueprint_id"`
	Status      string `json:"status"` // accepted | updated
}

// RegisterBlueprint validates and stores a blueprint
// POST /api/v1/mcp/blueprints
func (h *Handler) RegisterBlueprint(c echo.Context) error {
	var bp blueprint.Blueprint
	if err := c.Bind(&bp); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid blueprint body",
		})
	}
	if bp.BlueprintID == "" {
		bp.BlueprintID = blueprint.New(nil).BlueprintID
	}

	if issues := h.validator.Validate(&bp); len(issues) > 0 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error":  "blueprint validation failed",
			"issues": issues,
		})
	}

	status := "accepted"
	if h.blueprints.Put(&bp) {
		status = "updated"
	}

	h.persistBlueprint(c, &bp)

	h.components.Logger.Info("blueprint registered",
		"blueprint_id", bp.BlueprintID, "nodes", len(bp.Nodes), "status", status)

	return c.JSON(http.StatusCreated, BlueprintAck{
		BlueprintID: bp.BlueprintID,
		Status:      status,
	})
}

// persistBlueprint mirrors the blueprint into Postgres when storage is
// wired. Persistence failures are logged; the in-memory registration
// already succeeded.
func (h *Handler) persistBlueprint(c echo.Context, bp *blueprint.Blueprint) {
	store := h.components.Storage
	if store == nil {
		return
	}

	body, err := bp.Marshal()
	if err != nil {
		h.components.Logger.Error("failed to encode blueprint", "blueprint_id", bp.BlueprintID, "error", err)
		return
	}

	ctx := c.Request().Context()
	tenant := tenantOf(c)

	existing, err := store.Blueprints.GetByID(ctx, tenant, bp.BlueprintID)
	if err == nil {
		existing.Body = body
		existing.SchemaVersion = bp.SchemaVersion
		if err := store.Blueprints.Update(ctx, existing); err != nil && !errors.Is(err, storage.ErrStaleVersion) {
			h.components.Logger.Error("failed to update blueprint", "blueprint_id", bp.BlueprintID, "error", err)
		}
		return
	}

	record := &storage.BlueprintRecord{
		ID:            bp.BlueprintID,
		SchemaVersion: bp.SchemaVersion,
		Body:          body,
		Tenant:        tenant,
	}
	if err := store.Blueprints.Create(ctx, record); err != nil {
		h.components.Logger.Error("failed to persist blueprint", "blueprint_id", bp.BlueprintID, "error", err)
	}
}

// tenantOf derives the tenant from the authenticated token
func tenantOf(c echo.Context) string {
	token := middleware.GetToken(c)
	if token == "" {
		return "default"
	}
	return token
}

package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iceos-ai/iceos/core/blueprint"
	"github.com/iceos-ai/iceos/core/drafts"
)

// VersionLockHeader carries the optimistic lock on mutating draft calls
const VersionLockHeader = "X-Version-Lock"

// CreateOrFetchDraft returns the session's draft, creating it if needed
// POST /api/v1/drafts/:session_id
func (h *Handler) CreateOrFetchDraft(c echo.Context) error {
	if h.components.Drafts == nil {
		return draftsUnavailable(c)
	}

	draft, err := h.components.Drafts.GetOrCreate(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to load draft",
		})
	}
	return c.JSON(http.StatusOK, draft)
}

// GetDraft fetches an existing draft
// GET /api/v1/drafts/:session_id
func (h *Handler) GetDraft(c echo.Context) error {
	if h.components.Drafts == nil {
		return draftsUnavailable(c)
	}

	draft, err := h.components.Drafts.Get(c.Request().Context(), c.Param("session_id"))
	if errors.Is(err, drafts.ErrNotFound) {
		return draftNotFound(c)
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to load draft",
		})
	}
	return c.JSON(http.StatusOK, draft)
}

// LockDraftNode freezes a node against further authoring edits
// POST /api/v1/drafts/:session_id/lock
func (h *Handler) LockDraftNode(c echo.Context) error {
	var body struct {
		NodeID string `json:"node_id" validate:"required"`
	}
	if err := c.Bind(&body); err != nil || h.payload.Struct(&body) != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "node_id is required",
		})
	}

	return h.mutateDraft(c, func(d *blueprint.Draft) error {
		d.LockNode(body.NodeID)
		return nil
	})
}

// PositionDraftNode places a node on the authoring canvas
// POST /api/v1/drafts/:session_id/position
func (h *Handler) PositionDraftNode(c echo.Context) error {
	var body struct {
		NodeID string  `json:"node_id" validate:"required"`
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
	}
	if err := c.Bind(&body); err != nil || h.payload.Struct(&body) != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "node_id is required",
		})
	}

	return h.mutateDraft(c, func(d *blueprint.Draft) error {
		d.SetPosition(body.NodeID, blueprint.Position{X: body.X, Y: body.Y})
		return nil
	})
}

// PatchDraft applies an RFC 6902 patch to the draft document
// PATCH /api/v1/drafts/:session_id
func (h *Handler) PatchDraft(c echo.Context) error {
	if h.components.Drafts == nil {
		return draftsUnavailable(c)
	}

	patch, err := io.ReadAll(c.Request().Body)
	if err != nil || len(patch) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "patch body is required",
		})
	}
	if err := h.patchGuard.ValidatePatch(patch); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": err.Error(),
		})
	}

	draft, err := h.components.Drafts.ApplyPatch(
		c.Request().Context(),
		c.Param("session_id"),
		c.Request().Header.Get(VersionLockHeader),
		patch,
	)
	if err != nil {
		return draftMutationError(c, err)
	}
	return c.JSON(http.StatusOK, draft)
}

// InstantiateDraft promotes the draft's blueprint into the registered
// set. The body may carry a blueprint; otherwise the draft's last
// attached blueprint is used.
// POST /api/v1/drafts/:session_id/instantiate
func (h *Handler) InstantiateDraft(c echo.Context) error {
	if h.components.Drafts == nil {
		return draftsUnavailable(c)
	}

	var body struct {
		Blueprint *blueprint.Blueprint `json:"blueprint,omitempty"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid instantiate body",
		})
	}

	var ack BlueprintAck
	_, err := h.components.Drafts.Mutate(
		c.Request().Context(),
		c.Param("session_id"),
		c.Request().Header.Get(VersionLockHeader),
		func(d *blueprint.Draft) error {
			bp := body.Blueprint
			if bp == nil {
				bp = d.LastBlueprint
			}
			if bp == nil {
				return fmt.Errorf("draft has no blueprint to instantiate")
			}
			if bp.BlueprintID == "" {
				bp.BlueprintID = blueprint.New(nil).BlueprintID
			}

			if issues := h.validator.Validate(bp); len(issues) > 0 {
				return &validationError{issues: issues}
			}

			status := "accepted"
			if h.blueprints.Put(bp) {
				status = "updated"
			}
			h.persistBlueprint(c, bp)
			d.SetBlueprint(bp)

			ack = BlueprintAck{BlueprintID: bp.BlueprintID, Status: status}
			return nil
		},
	)
	if err != nil {
		var verr *validationError
		if errors.As(err, &verr) {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"error":  "blueprint validation failed",
				"issues": verr.issues,
			})
		}
		return draftMutationError(c, err)
	}

	return c.JSON(http.StatusCreated, ack)
}

type validationError struct {
	issues []blueprint.Issue
}

func (e *validationError) Error() string {
	return fmt.Sprintf("blueprint validation failed with %d issues", len(e.issues))
}

// mutateDraft runs a lock-checked mutation and renders the result
func (h *Handler) mutateDraft(c echo.Context, fn func(*blueprint.Draft) error) error {
	if h.components.Drafts == nil {
		return draftsUnavailable(c)
	}

	draft, err := h.components.Drafts.Mutate(
		c.Request().Context(),
		c.Param("session_id"),
		c.Request().Header.Get(VersionLockHeader),
		fn,
	)
	if err != nil {
		return draftMutationError(c, err)
	}
	return c.JSON(http.StatusOK, draft)
}

func draftMutationError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, drafts.ErrLockConflict):
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error": "stale or missing " + VersionLockHeader,
		})
	case errors.Is(err, drafts.ErrNotFound):
		return draftNotFound(c)
	default:
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func draftNotFound(c echo.Context) error {
	return c.JSON(http.StatusNotFound, map[string]interface{}{
		"error": fmt.Sprintf("draft %q not found", c.Param("session_id")),
	})
}

func draftsUnavailable(c echo.Context) error {
	return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
		"error": "draft store not configured",
	})
}

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iceos-ai/iceos/core/blueprint"
	"github.com/iceos-ai/iceos/core/engine"
	"github.com/iceos-ai/iceos/core/executors"
	"github.com/iceos-ai/iceos/core/model"
	"github.com/iceos-ai/iceos/core/storage"
)

// RunRequest starts a run from a registered blueprint id or an inline
// blueprint; exactly one of the two must be set.
type RunRequest struct {
	BlueprintID string                 `json:"blueprint_id,omitempty"`
	Blueprint   *blueprint.Blueprint   `json:"blueprint,omitempty"`
	Initial     map[string]interface{} `json:"initial_context,omitempty"`
	Options     RunOptions             `json:"options"`
}

// RunOptions are the caller-tunable scheduling knobs
type RunOptions struct {
	MaxParallel   int    `json:"max_parallel" validate:"omitempty,min=1,max=20"`
	FailurePolicy string `json:"failure_policy" validate:"omitempty,oneof=halt continue_possible always"`
}

// RunAck points the caller at the status and event surfaces
type RunAck struct {
	RunID          string `json:"run_id"`
	StatusEndpoint string `json:"status_endpoint"`
	EventsEndpoint string `json:"events_endpoint"`
}

// runPollInterval paces ?wait=true status polling
const runPollInterval = 100 * time.Millisecond

// RunResult is the terminal response shape for finished runs
type RunResult struct {
	RunID     string                 `json:"run_id"`
	Success   bool                   `json:"success"`
	StartTime time.Time              `json:"start_time"`
	EndTime   time.Time              `json:"end_time"`
	Output    map[string]interface{} `json:"output"`
	Error     string                 `json:"error,omitempty"`
}

// StartRun dispatches a run and returns 202 immediately
// POST /api/v1/mcp/runs
func (h *Handler) StartRun(c echo.Context) error {
	var req RunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid run request",
		})
	}
	if err := h.payload.Struct(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": fmt.Sprintf("invalid options: %v", err),
		})
	}
	if (req.BlueprintID == "") == (req.Blueprint == nil) {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "exactly one of blueprint_id or blueprint must be provided",
		})
	}

	bp := req.Blueprint
	if bp == nil {
		registered, ok := h.blueprints.Get(req.BlueprintID)
		if !ok {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"error": fmt.Sprintf("blueprint %q not found", req.BlueprintID),
			})
		}
		bp = registered
	} else {
		if issues := h.validator.Validate(bp); len(issues) > 0 {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"error":  "blueprint validation failed",
				"issues": issues,
			})
		}
	}

	runID := engine.NewRunID()
	h.runs.Start(runID, bp.BlueprintID)
	h.persistExecution(c, runID, bp.BlueprintID)

	opts := engine.Options{
		MaxParallel:   req.Options.MaxParallel,
		FailurePolicy: req.Options.FailurePolicy,
	}

	// The run detaches from the request; cancellation comes through the
	// engine's own token via the cancel endpoint.
	go func() {
		report := h.components.Engine.Execute(context.Background(), runID, bp, req.Initial, opts)
		h.runs.Finish(runID, report)
		h.finishExecution(runID, report)
	}()

	base := fmt.Sprintf("/api/v1/mcp/runs/%s", runID)
	return c.JSON(http.StatusAccepted, RunAck{
		RunID:          runID,
		StatusEndpoint: base,
		EventsEndpoint: base + "/events",
	})
}

// GetRun reports run status: 202 while incomplete, the result
// afterwards. ?wait=true blocks until the run settles or the client
// goes away.
// GET /api/v1/mcp/runs/:id
func (h *Handler) GetRun(c echo.Context) error {
	runID := c.Param("id")
	entry, ok := h.runs.Get(runID)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"error": fmt.Sprintf("run %q not found", runID),
		})
	}

	wait, _ := strconv.ParseBool(c.QueryParam("wait"))
	for wait && entry.Report == nil {
		select {
		case <-c.Request().Context().Done():
			wait = false
		case <-time.After(runPollInterval):
			entry, _ = h.runs.Get(runID)
		}
	}

	if entry.Report == nil {
		return c.JSON(http.StatusAccepted, map[string]interface{}{
			"run_id": runID,
			"status": entry.Status,
		})
	}

	return c.JSON(http.StatusOK, RunResult{
		RunID:     runID,
		Success:   entry.Report.Success,
		StartTime: entry.Report.StartTime,
		EndTime:   entry.Report.EndTime,
		Output:    entry.Report.Output(),
		Error:     entry.Report.Error,
	})
}

// CancelRun cancels a running workflow
// POST /api/v1/mcp/runs/:id/cancel
func (h *Handler) CancelRun(c echo.Context) error {
	runID := c.Param("id")
	if _, ok := h.runs.Get(runID); !ok {
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"error": fmt.Sprintf("run %q not found", runID),
		})
	}

	cancelled := h.components.Engine.Cancel(runID)
	if cancelled {
		h.runs.Cancel(runID)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"run_id":    runID,
		"cancelled": cancelled,
	})
}

// ResumeRun releases a run paused by a monitor node
// POST /api/v1/mcp/runs/:id/resume
func (h *Handler) ResumeRun(c echo.Context) error {
	runID := c.Param("id")
	if _, ok := h.runs.Get(runID); !ok {
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"error": fmt.Sprintf("run %q not found", runID),
		})
	}

	resumed := h.components.Engine.Resume(runID)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"run_id":  runID,
		"resumed": resumed,
	})
}

// Approve answers a waiting human node
// POST /api/v1/mcp/runs/:id/approvals/:node
func (h *Handler) Approve(c echo.Context) error {
	runID := c.Param("id")
	nodeID := c.Param("node")

	var response executors.HumanResponse
	if err := c.Bind(&response); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid approval body",
		})
	}

	if h.components.Redis == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"error": "approvals require redis",
		})
	}

	payload, err := json.Marshal(response)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid approval body",
		})
	}
	key := executors.ApprovalKey(runID, nodeID)
	if err := h.components.Redis.PushToList(c.Request().Context(), key, string(payload)); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "failed to deliver approval",
		})
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"run_id":  runID,
		"node_id": nodeID,
		"status":  "delivered",
	})
}

// persistExecution records the run row when storage is wired
func (h *Handler) persistExecution(c echo.Context, runID, blueprintID string) {
	store := h.components.Storage
	if store == nil {
		return
	}
	record := &storage.ExecutionRecord{
		ID:          runID,
		BlueprintID: blueprintID,
		Status:      model.RunRunning,
		StartedAt:   time.Now().UTC(),
		Tenant:      tenantOf(c),
	}
	if err := store.Executions.Create(c.Request().Context(), record); err != nil {
		h.components.Logger.Error("failed to persist execution", "run_id", runID, "error", err)
	}
}

// finishExecution records the terminal row after the run settles
func (h *Handler) finishExecution(runID string, report *model.RunReport) {
	store := h.components.Storage
	if store == nil {
		return
	}
	status := model.RunCompleted
	if !report.Success {
		status = model.RunFailed
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Executions.Finish(ctx, runID, status, report.EndTime, report); err != nil {
		h.components.Logger.Error("failed to finish execution", "run_id", runID, "error", err)
	}
}

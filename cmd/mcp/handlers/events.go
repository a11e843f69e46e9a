package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iceos-ai/iceos/core/events"
	"github.com/iceos-ai/iceos/core/model"
)

const (
	sseBatchSize    = 100
	sseFollowBlock  = 5 * time.Second
	sseReplayCursor = "0"
)

// StreamEvents serves a run's event stream over SSE, replaying from the
// Last-Event-ID cursor and then following the stream live until the run
// settles or the client disconnects.
// GET /api/v1/mcp/runs/:id/events
func (h *Handler) StreamEvents(c echo.Context) error {
	runID := c.Param("id")
	if _, ok := h.runs.Get(runID); !ok {
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"error": fmt.Sprintf("run %q not found", runID),
		})
	}
	if h.components.Redis == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"error": "event streaming requires redis",
		})
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	cursor := c.Request().Header.Get("Last-Event-ID")
	if cursor == "" {
		cursor = sseReplayCursor
	}

	ctx := c.Request().Context()
	bus := h.components.Bus

	// Replay everything after the cursor first.
	for {
		batch, err := bus.Replay(ctx, runID, cursor, sseBatchSize)
		if err != nil {
			return nil
		}
		if len(batch) == 0 {
			break
		}
		cursor = h.writeSSE(c, batch)
		if cursor == "" {
			return nil
		}
	}

	// Then follow live until the run is terminal and drained.
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if entry, ok := h.runs.Get(runID); ok && entry.Status != model.RunRunning {
			// Terminal run: the engine has emitted everything it ever
			// will, so one last drain completes the stream.
			if batch, err := bus.Replay(ctx, runID, cursor, sseBatchSize); err == nil && len(batch) > 0 {
				h.writeSSE(c, batch)
			}
			return nil
		}

		batch, err := bus.Follow(ctx, runID, cursor, sseBatchSize, sseFollowBlock)
		if err != nil {
			return nil
		}
		if len(batch) > 0 {
			cursor = h.writeSSE(c, batch)
			if cursor == "" {
				return nil
			}
		}
	}
}

// writeSSE flushes a batch of events and returns the new cursor, or ""
// when the connection is gone.
func (h *Handler) writeSSE(c echo.Context, batch []events.StreamEvent) string {
	res := c.Response()
	cursor := ""
	for _, se := range batch {
		cursor = se.ID
		payload, err := se.Event.Marshal()
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(res, "id: %s\nevent: %s\ndata: %s\n\n", se.ID, se.Event.EventType, payload); err != nil {
			return ""
		}
	}
	res.Flush()
	return cursor
}

// Package routes wires the MCP endpoints onto the echo server.
package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/iceos-ai/iceos/cmd/mcp/handlers"
	"github.com/iceos-ai/iceos/common/bootstrap"
	"github.com/iceos-ai/iceos/common/middleware"
)

const (
	// Per-(token, route) quota on mutating endpoints
	mutationLimit     = 120
	mutationWindowSec = 60
)

// Register wires every control-plane route. All routes sit behind
// bearer auth; mutating routes additionally behind the rate limiter.
func Register(e *echo.Echo, components *bootstrap.Components, h *handlers.Handler) {
	auth := middleware.BearerAuth(components.Config.Runtime.APIBearer)

	var limited echo.MiddlewareFunc
	if components.RateLimiter != nil {
		limited = middleware.RouteRateLimit(components.RateLimiter, mutationLimit, mutationWindowSec)
	} else {
		limited = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	mcp := e.Group("/api/v1/mcp", auth)
	{
		mcp.POST("/blueprints", h.RegisterBlueprint, limited)
		mcp.POST("/runs", h.StartRun, limited)
		mcp.GET("/runs/:id", h.GetRun)
		mcp.GET("/runs/:id/events", h.StreamEvents)
		mcp.POST("/runs/:id/cancel", h.CancelRun, limited)
		mcp.POST("/runs/:id/resume", h.ResumeRun, limited)
		mcp.POST("/runs/:id/approvals/:node", h.Approve, limited)
	}

	drafts := e.Group("/api/v1/drafts", auth)
	{
		drafts.POST("/:session_id", h.CreateOrFetchDraft, limited)
		drafts.GET("/:session_id", h.GetDraft)
		drafts.PATCH("/:session_id", h.PatchDraft, limited)
		drafts.POST("/:session_id/lock", h.LockDraftNode, limited)
		drafts.POST("/:session_id/position", h.PositionDraftNode, limited)
		drafts.POST("/:session_id/instantiate", h.InstantiateDraft, limited)
	}
}

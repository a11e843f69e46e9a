// The mcp binary serves the control-plane HTTP surface: blueprint
// registration, run dispatch and status, SSE event streams, and the
// draft authoring endpoints.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iceos-ai/iceos/cmd/mcp/handlers"
	"github.com/iceos-ai/iceos/cmd/mcp/routes"
	"github.com/iceos-ai/iceos/common/bootstrap"
	"github.com/iceos-ai/iceos/common/telemetry"
	_ "github.com/iceos-ai/iceos/core/packs/web"
)

func main() {
	ctx := context.Background()

	components, err := bootstrap.Setup(ctx, "mcp")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap mcp: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	h, err := handlers.New(components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize handlers: %v\n", err)
		os.Exit(1)
	}

	if port := components.Config.Service.PprofPort; port > 0 {
		telemetry.New(port, components.Logger).Start(ctx)
	}

	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e, components)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	routes.Register(e, components, h)

	startServer(e, components)
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "mcp",
		})
	})
}

// startServer starts the Echo server on the configured port
func startServer(e *echo.Echo, components *bootstrap.Components) {
	port := components.Config.Service.Port
	components.Logger.Info("Starting mcp", "port", port)

	if err := e.Start(fmt.Sprintf(":%d", port)); err != nil {
		components.Logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}

// The gateway binary serves the realtime WebSocket surface: live run
// event streams and collaborative draft sessions, backed by Redis
// pub/sub fan-out across gateway instances.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iceos-ai/iceos/common/bootstrap"
	"github.com/iceos-ai/iceos/common/server"
	"github.com/iceos-ai/iceos/common/telemetry"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := bootstrap.Setup(ctx, "gateway",
		bootstrap.WithoutDB(),
		bootstrap.WithoutEngine(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap gateway: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	if port := components.Config.Service.PprofPort; port > 0 {
		telemetry.New(port, components.Logger).Start(ctx)
	}

	validator, err := NewMessageValidator()
	if err != nil {
		components.Logger.Error("failed to compile message schemas", "error", err)
		os.Exit(1)
	}

	hub := NewHub(components.Logger)
	go hub.Run()

	subscriber := NewSubscriber(components.Redis, hub, components.Logger)
	go subscriber.Start(ctx)

	srv := NewServer(hub, components, validator)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/mcp/", srv.HandleWebSocket)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := components.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "ok",
			"service":     "gateway",
			"connections": hub.ConnectionCount(),
			"topics":      hub.TopicCount(),
		})
	})

	httpServer := server.NewStreaming("gateway", components.Config.Service.Port, mux, components.Logger)
	if err := httpServer.Start(); err != nil {
		components.Logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}

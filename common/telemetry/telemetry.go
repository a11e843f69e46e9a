// Package telemetry exposes the debug profiling listener. Prometheus
// metrics live on the service's main mux; pprof stays on a localhost
// side port so it never ships through the public surface.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/iceos-ai/iceos/common/logger"
)

// Telemetry holds the debug observability surface
type Telemetry struct {
	log       *logger.Logger
	pprofAddr string
}

// New creates the telemetry surface bound to a localhost pprof port
func New(pprofPort int, log *logger.Logger) *Telemetry {
	return &Telemetry{
		log:       log,
		pprofAddr: fmt.Sprintf("localhost:%d", pprofPort),
	}
}

// Start serves pprof until the context ends
func (t *Telemetry) Start(ctx context.Context) error {
	srv := &http.Server{Addr: t.pprofAddr, Handler: http.DefaultServeMux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	go func() {
		t.log.Info("pprof server starting", "addr", t.pprofAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.log.Error("pprof server error", "error", err)
		}
	}()

	return nil
}

// RecordDuration records operation duration
func (t *Telemetry) RecordDuration(operation string, start time.Time) {
	duration := time.Since(start)
	t.log.Debug("operation completed",
		"operation", operation,
		"duration_ms", duration.Milliseconds(),
	)
}

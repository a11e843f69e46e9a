package bootstrap

import (
	"context"
	"fmt"

	"github.com/iceos-ai/iceos/common/config"
	"github.com/iceos-ai/iceos/common/db"
	"github.com/iceos-ai/iceos/common/logger"
	"github.com/iceos-ai/iceos/common/metrics"
	"github.com/iceos-ai/iceos/common/ratelimit"
	"github.com/iceos-ai/iceos/common/redis"
	"github.com/iceos-ai/iceos/core/drafts"
	"github.com/iceos-ai/iceos/core/engine"
	"github.com/iceos-ai/iceos/core/events"
	"github.com/iceos-ai/iceos/core/llm"
	"github.com/iceos-ai/iceos/core/registry"
	"github.com/iceos-ai/iceos/core/storage"
)

// Components holds all initialized service dependencies
type Components struct {
	Config      *config.Config
	Logger      *logger.Logger
	Redis       *redis.Client
	DB          *db.DB
	RateLimiter *ratelimit.RateLimiter
	Metrics     *metrics.Metrics
	Registry    *registry.Registry
	Bus         *events.Bus
	LLM         *llm.Service
	Drafts      *drafts.Store
	Storage     *storage.Storage
	Engine      *engine.Engine

	// Internal
	cleanupFuncs []func() error
}

// Shutdown performs graceful shutdown of all components
// Should be called with defer after Setup()
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errors []error

	// Run cleanup functions in reverse order (LIFO)
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errors = append(errors, err)
			c.Logger.Error("cleanup error", "error", err)
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("shutdown errors: %v", errors)
	}

	c.Logger.Info("shutdown complete")
	return nil
}

// Health checks health of all components
func (c *Components) Health(ctx context.Context) error {
	if c.DB != nil {
		if err := c.DB.Health(ctx); err != nil {
			return fmt.Errorf("database unhealthy: %w", err)
		}
	}

	if c.Redis != nil {
		if err := c.Redis.GetUnderlying().Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis unhealthy: %w", err)
		}
	}

	return nil
}

// addCleanup registers a cleanup function
func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}

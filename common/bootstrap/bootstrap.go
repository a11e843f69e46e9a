// Package bootstrap wires service components in dependency order with
// LIFO cleanup. Both binaries start here.
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
	"github.com/iceos-ai/iceos/core/executors"
	"github.com/iceos-ai/iceos/core/expr"
	"github.com/iceos-ai/iceos/core/llm"
	"github.com/iceos-ai/iceos/core/registry"
	"github.com/iceos-ai/iceos/core/storage"
)

// Setup initializes all service components
// This is the main entry point for all services
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	// Apply options
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Load configuration
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	// 2. Initialize logger
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(
			components.Config.Service.LogLevel,
			components.Config.Service.LogFormat,
		)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"environment", components.Config.Service.Environment,
		"mode", components.Config.Runtime.Mode,
	)

	// 3. Connect Redis (if not skipped)
	if !options.skipRedis {
		components.Logger.Info("connecting to redis")
		components.Redis, err = redis.Connect(ctx, components.Config.Redis.URL, components.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		components.addCleanup(func() error {
			components.Logger.Info("closing redis connection")
			return components.Redis.Close()
		})

		components.RateLimiter = ratelimit.NewRateLimiter(
			components.Redis.GetUnderlying(),
			components.Logger,
		)
	}

	// 4. Initialize database (if not skipped)
	if !options.skipDB {
		components.Logger.Info("connecting to database")
		components.DB, err = db.New(ctx, components.Config, components.Logger)
		if err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		// Register cleanup
		components.addCleanup(func() error {
			components.Logger.Info("closing database connection")
			components.DB.Close()
			return nil
		})

		// Run DB init hook if provided
		if options.dbInitHook != nil {
			components.Logger.Info("running database init hook")
			if err := options.dbInitHook(components.DB); err != nil {
				components.Shutdown(ctx) // Cleanup what we've initialized
				return nil, fmt.Errorf("database init hook failed: %w", err)
			}
		}

		components.Storage = storage.New(components.DB)
	}

	// 5. Metrics and event bus
	components.Metrics = metrics.New(options.registerer)
	components.Bus = events.NewBus(
		components.Redis,
		components.Config.Events.Retention,
		components.Logger,
	)
	if components.Storage != nil {
		components.Bus.Subscribe(components.Storage.Events.Recorder())
	}

	// 6. Draft store
	if components.Redis != nil || components.Config.Drafts.Backend == "memory" {
		components.Drafts, err = drafts.New(components.Config, components.Redis, components.Logger)
		if err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("failed to build draft store: %w", err)
		}
	}

	// 7. Registry, LLM service, and engine (if not skipped)
	if !options.skipEngine {
		components.Registry = registry.New()
		for _, pack := range components.Config.Runtime.OptionalPacks {
			if err := components.Registry.LoadEntryPoints(pack); err != nil {
				components.Logger.Warn("optional pack failed to load", "pack", pack, "error", err)
			}
		}
		if options.registryHook != nil {
			if err := options.registryHook(components.Registry); err != nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("registry hook failed: %w", err)
			}
		}

		pricing, err := components.Config.PricingTable()
		if err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("failed to load pricing table: %w", err)
		}
		components.LLM = llm.NewService(components.Registry, components.Config, pricing, components.Logger)

		evaluator, err := expr.NewEvaluator()
		if err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("failed to build expression evaluator: %w", err)
		}

		components.Engine, err = engine.New(&engine.Deps{
			Executors: &executors.Deps{
				Registry: components.Registry,
				LLM:      components.LLM,
				Expr:     evaluator,
				Bus:      components.Bus,
				Redis:    components.Redis,
				Config:   components.Config,
				Log:      components.Logger,
			},
			Metrics: components.Metrics,
			Log:     components.Logger,
		})
		if err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("failed to build engine: %w", err)
		}
	}

	components.Logger.Info("service initialization complete",
		"service", serviceName,
		"db", components.DB != nil,
		"redis", components.Redis != nil,
		"engine", components.Engine != nil,
	)

	return components, nil
}

// MustSetup is like Setup but panics on error
// Useful for services that can't recover from initialization failure
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}

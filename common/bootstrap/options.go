package bootstrap

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/iceos-ai/iceos/common/config"
	"github.com/iceos-ai/iceos/common/db"
	"github.com/iceos-ai/iceos/common/logger"
	"github.com/iceos-ai/iceos/core/registry"
)

// Option configures the bootstrap process
type Option func(*options)

type options struct {
	skipDB       bool
	skipRedis    bool
	skipEngine   bool
	customLogger *logger.Logger
	customConfig *config.Config
	registerer   prometheus.Registerer
	dbInitHook   func(*db.DB) error
	registryHook func(*registry.Registry) error
}

// WithoutDB skips database initialization
func WithoutDB() Option {
	return func(o *options) {
		o.skipDB = true
	}
}

// WithoutRedis skips Redis initialization. The event bus runs with
// local handlers only and the draft store must use the memory backend.
func WithoutRedis() Option {
	return func(o *options) {
		o.skipRedis = true
	}
}

// WithoutEngine skips registry/engine wiring, for binaries that only
// consume the event stream (the gateway).
func WithoutEngine() Option {
	return func(o *options) {
		o.skipEngine = true
	}
}

// WithCustomLogger uses a custom logger instead of creating one
func WithCustomLogger(log *logger.Logger) Option {
	return func(o *options) {
		o.customLogger = log
	}
}

// WithCustomConfig uses a custom config instead of loading from env
func WithCustomConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.customConfig = cfg
	}
}

// WithRegisterer overrides the prometheus registerer (tests pass a
// fresh registry to avoid duplicate-collector panics)
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithDBInitHook runs a custom function after DB initialization
// Useful for running migrations, seeding data, etc.
func WithDBInitHook(hook func(*db.DB) error) Option {
	return func(o *options) {
		o.dbInitHook = hook
	}
}

// WithRegistryHook runs after the registry is built, before the engine
// starts. Binaries register their tool packs here.
func WithRegistryHook(hook func(*registry.Registry) error) Option {
	return func(o *options) {
		o.registryHook = hook
	}
}

func defaultOptions() *options {
	return &options{
		registerer: prometheus.DefaultRegisterer,
	}
}

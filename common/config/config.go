package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Runtime modes recognized by ICE_RUNTIME_MODE.
const (
	ModeProduction  = "production"
	ModeDevelopment = "development"
	ModeDemo        = "demo"
)

// Config holds all service configuration. Loaded once at startup and
// treated as immutable afterwards.
type Config struct {
	Service  ServiceConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Runtime  RuntimeConfig
	LLM      LLMConfig
	Drafts   DraftConfig
	Events   EventConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	PprofPort   int // 0 disables the localhost pprof listener
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	URL string
}

// RuntimeConfig holds engine guard settings
type RuntimeConfig struct {
	Mode           string  // production | development | demo
	OrgBudgetUSD   float64 // 0 = unlimited
	MaxTokens      int64   // 0 = unlimited
	MaxDepth       int     // 0 = unlimited
	BudgetFailOpen bool
	APIBearer      string
	WSBearer       string
	OptionalPacks  []string
}

// LLMConfig holds default provider routing and pricing
type LLMConfig struct {
	DefaultProvider string
	DefaultModel    string
	PricingJSON     string // inline JSON, takes precedence over PricingFile
	PricingFile     string
}

// DraftConfig holds draft-store settings
type DraftConfig struct {
	Backend string // "memory" or "redis"
	TTL     time.Duration
}

// EventConfig holds event-stream settings
type EventConfig struct {
	Retention time.Duration
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			PprofPort:   getEnvInt("ICE_PPROF_PORT", 0),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "iceos"),
			User:        getEnv("POSTGRES_USER", "iceos"),
			Password:    getEnv("POSTGRES_PASSWORD", "iceos"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379/0"),
		},
		Runtime: RuntimeConfig{
			Mode:           getEnv("ICE_RUNTIME_MODE", ModeDevelopment),
			OrgBudgetUSD:   getEnvFloat("ORG_BUDGET_USD", 0),
			MaxTokens:      int64(getEnvInt("ICE_MAX_TOKENS", 0)),
			MaxDepth:       getEnvInt("ICE_MAX_DEPTH", 0),
			BudgetFailOpen: getEnvBool("BUDGET_FAIL_OPEN", false),
			APIBearer:      getEnv("ICE_API_BEARER", ""),
			WSBearer:       getEnv("ICE_WS_BEARER", ""),
			OptionalPacks:  getEnvSlice("ICEOS_OPTIONAL_PACKS", nil),
		},
		LLM: LLMConfig{
			DefaultProvider: getEnv("ICE_DEFAULT_LLM_PROVIDER", "openai"),
			DefaultModel:    getEnv("ICE_DEFAULT_LLM_MODEL", "gpt-4o"),
			PricingJSON:     getEnv("ICE_PRICING_JSON", ""),
			PricingFile:     getEnv("ICE_PRICING_FILE", ""),
		},
		Drafts: DraftConfig{
			Backend: getEnv("ICE_DRAFT_BACKEND", "redis"),
			TTL:     getEnvDuration("ICE_DRAFT_TTL", 24*time.Hour),
		},
		Events: EventConfig{
			Retention: getEnvDuration("ICE_EVENT_RETENTION", 24*time.Hour),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	switch c.Runtime.Mode {
	case ModeProduction, ModeDevelopment, ModeDemo:
	default:
		return fmt.Errorf("invalid ICE_RUNTIME_MODE: %s", c.Runtime.Mode)
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Runtime.OrgBudgetUSD < 0 {
		return fmt.Errorf("ORG_BUDGET_USD must be >= 0")
	}

	switch c.Drafts.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid ICE_DRAFT_BACKEND: %s", c.Drafts.Backend)
	}

	return nil
}

// IsProduction reports whether the runtime mode is production.
// Budget guards fail closed in production regardless of BUDGET_FAIL_OPEN.
func (c *Config) IsProduction() bool {
	return c.Runtime.Mode == ModeProduction
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// ModelPrice is the per-1k-token price for a model
type ModelPrice struct {
	InputPer1K  float64 `json:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k"`
}

// PricingTable parses the configured model pricing source. Inline JSON wins
// over the file; both absent yields an empty table (cost tracking reports 0).
func (c *Config) PricingTable() (map[string]ModelPrice, error) {
	raw := c.LLM.PricingJSON
	if raw == "" && c.LLM.PricingFile != "" {
		data, err := os.ReadFile(c.LLM.PricingFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read ICE_PRICING_FILE: %w", err)
		}
		raw = string(data)
	}
	if raw == "" {
		return map[string]ModelPrice{}, nil
	}

	var table map[string]ModelPrice
	if err := json.Unmarshal([]byte(raw), &table); err != nil {
		return nil, fmt.Errorf("failed to parse pricing JSON: %w", err)
	}
	return table, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return defaultValue
}

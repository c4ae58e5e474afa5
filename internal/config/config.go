package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Config holds all configuration for the allocator.
type Config struct {
	// HTTP API
	HTTPAddr   string `envconfig:"HTTP_ADDR" default:":8080"`
	AdminToken string `envconfig:"ADMIN_TOKEN" default:"devtoken"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Ledger
	LedgerDriver   string `envconfig:"LEDGER_DRIVER" default:"postgres"`
	PostgresURL    string `envconfig:"POSTGRES_URL"`
	PostgresSchema string `envconfig:"POSTGRES_SCHEMA" default:"allocation"`
	DBMinConns     int32  `envconfig:"DB_MIN_CONNS" default:"2"`
	DBMaxConns     int32  `envconfig:"DB_MAX_CONNS" default:"20"`

	// Cache
	CacheDriver        string `envconfig:"CACHE_DRIVER" default:"redis"`
	RedisURL           string `envconfig:"REDIS_URL"`
	DashboardKeyPrefix string `envconfig:"DASHBOARD_KEY_PREFIX" default:"hospitals:"`

	// Notifications. With an empty EventsTopic events go straight to the
	// websocket hub instead of through a Redis stream.
	EventsTopic   string        `envconfig:"EVENTS_TOPIC" default:"allocation-events"`
	ConsumerGroup string        `envconfig:"CONSUMER_GROUP" default:"allocator-relay"`
	NotifyBuffer  int           `envconfig:"NOTIFY_BUFFER" default:"1024"`
	NotifyWorkers int           `envconfig:"NOTIFY_WORKERS" default:"4"`
	NotifyTimeout time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"5s"`

	// Side effects after a ledger commit
	SideEffectTimeout time.Duration `envconfig:"SIDE_EFFECT_TIMEOUT" default:"5s"`

	// Dashboard reconciliation
	RebuildInterval    time.Duration `envconfig:"REBUILD_INTERVAL" default:"0"` // 0 = disabled
	RebuildConcurrency int           `envconfig:"REBUILD_CONCURRENCY" default:"4"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks driver selection and the URLs each driver needs.
func (c *Config) Validate() error {
	switch c.LedgerDriver {
	case DriverPostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("POSTGRES_URL is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("LEDGER_DRIVER %q: must be postgres or memory", c.LedgerDriver)
	}

	switch c.CacheDriver {
	case DriverRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required")
		}
	case DriverMemory:
		if c.EventsTopic != "" && c.RedisURL == "" {
			return fmt.Errorf("EVENTS_TOPIC requires REDIS_URL")
		}
	default:
		return fmt.Errorf("CACHE_DRIVER %q: must be redis or memory", c.CacheDriver)
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.RebuildInterval < 0 {
		return fmt.Errorf("REBUILD_INTERVAL must not be negative")
	}
	return nil
}

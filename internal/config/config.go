// Package config defines the daemon configuration, its YAML loader and the
// hot-reload watcher.
package config

import (
	"fmt"
	"time"

	"github.com/example/driftd/internal/budget"
)

// Config is the root daemon configuration.
type Config struct {
	Server           ServerConfig   `yaml:"server"`
	Logging          LoggingConfig  `yaml:"logging"`
	Engine           EngineConfig   `yaml:"engine"`
	Budgets          *budget.Config `yaml:"drift_budgets"`
	ConsumerRegistry ConsumerConfig `yaml:"consumer_registry"`
	Incidents        IncidentConfig `yaml:"incidents"`
	Redis            RedisConfig    `yaml:"redis"`
}

// ServerConfig configures the admin HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// EngineConfig tunes the comparison pipeline.
type EngineConfig struct {
	// Workers bounds the per-operation diff worker pool.
	Workers int `yaml:"workers"`

	// Workspace scopes budget hierarchy lookups.
	Workspace string `yaml:"workspace"`
}

// ConsumerConfig configures the consumer-mapping registry client.
type ConsumerConfig struct {
	URL       string        `yaml:"url"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// IncidentConfig configures incident persistence and retention.
type IncidentConfig struct {
	// Store selects the backend: "memory" or "redis".
	Store         string        `yaml:"store"`
	RetentionDays int           `yaml:"retention_days"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// RedisConfig configures the optional Redis connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DefaultConfig returns a config with defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8840",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
		Engine:  EngineConfig{Workers: 4},
		Budgets: budget.DefaultConfig(),
		ConsumerRegistry: ConsumerConfig{
			Timeout:   2 * time.Second,
			CacheSize: 512,
			CacheTTL:  5 * time.Minute,
		},
		Incidents: IncidentConfig{
			Store:         "memory",
			RetentionDays: 30,
			PruneInterval: time.Hour,
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
	}
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging.level %q", c.Logging.Level)
	}
	if c.Engine.Workers < 0 {
		return fmt.Errorf("engine.workers must not be negative")
	}
	switch c.Incidents.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown incidents.store %q", c.Incidents.Store)
	}
	if c.Incidents.Store == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required for the redis incident store")
	}
	if c.Incidents.RetentionDays <= 0 {
		return fmt.Errorf("incidents.retention_days must be positive")
	}
	return nil
}

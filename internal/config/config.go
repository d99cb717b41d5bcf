// Package config loads process settings from the environment and the
// venue catalog from YAML.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the replay service settings. Every variable carries the
// REPLAY_ prefix.
type Config struct {
	// Export
	ExportDir   string `env:"EXPORT_DIR" envDefault:"./exports"`
	ExportDSN   string `env:"EXPORT_DSN"`
	ExportTable string `env:"EXPORT_TABLE" envDefault:"object_export"`

	CatalogFile string `env:"CATALOG_FILE"`
	LayoutFile  string `env:"LAYOUT_FILE"`

	// Engine and reference data
	EngineAddr string `env:"ENGINE_ADDR" envDefault:"localhost:50051"`
	RPCURL     string `env:"RPC_URL"`

	// Outbound
	NATSURL          string `env:"NATS_URL"`
	RedisURL         string `env:"REDIS_URL"`
	RedisPassword    string `env:"REDIS_PASSWORD"`
	BookCacheTTLSec  int    `env:"BOOK_CACHE_TTL_SEC" envDefault:"300"`
	PublishBufferLen int    `env:"PUBLISH_BUFFER" envDefault:"1024"`

	// Listeners
	GRPCAddr    string `env:"GRPC_ADDR" envDefault:":9090"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9091"`

	// Coordinator
	QueueSize int `env:"QUEUE_SIZE" envDefault:"256"`
	PageLimit int `env:"PAGE_LIMIT" envDefault:"1000"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// BookCacheTTL returns the book cache TTL as a time.Duration.
func (c *Config) BookCacheTTL() time.Duration {
	return time.Duration(c.BookCacheTTLSec) * time.Second
}

// LoadFromEnv loads configuration from REPLAY_* environment variables.
func LoadFromEnv() (*Config, error) {
	return parse(env.Options{Prefix: "REPLAY_"})
}

// LoadFrom parses configuration from the given variables instead of the
// process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Prefix: "REPLAY_", Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ExportDSN == "" && c.ExportDir == "" {
		return fmt.Errorf("one of REPLAY_EXPORT_DIR or REPLAY_EXPORT_DSN is required")
	}
	if c.ExportDSN != "" && c.ExportTable == "" {
		return fmt.Errorf("REPLAY_EXPORT_TABLE is required with REPLAY_EXPORT_DSN")
	}
	if c.EngineAddr == "" {
		return fmt.Errorf("REPLAY_ENGINE_ADDR is required")
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue size must be at least 1, got %d", c.QueueSize)
	}
	if c.PageLimit < 1 {
		return fmt.Errorf("page limit must be at least 1, got %d", c.PageLimit)
	}
	if c.RedisURL != "" && c.BookCacheTTLSec < 1 {
		return fmt.Errorf("book cache TTL must be at least 1s, got %ds", c.BookCacheTTLSec)
	}
	if c.PublishBufferLen < 1 {
		return fmt.Errorf("publish buffer must be at least 1, got %d", c.PublishBufferLen)
	}
	for name, addr := range map[string]string{"grpc": c.GRPCAddr, "http": c.HTTPAddr, "metrics": c.MetricsAddr} {
		if !strings.Contains(addr, ":") {
			return fmt.Errorf("invalid %s listen address: %q", name, addr)
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	return nil
}

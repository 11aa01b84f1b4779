// Package config loads and validates the service configuration: a YAML
// file merged over baked-in defaults, validated, and layered with an
// environment-variable overlay for container deployment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// StorageConfig selects and configures the History Adapter backend.
type StorageConfig struct {
	Backend    string `yaml:"backend" env:"MARKETFEED_STORAGE_BACKEND"` // "sqlite" or "postgres"
	SQLitePath string `yaml:"sqlite_path" env:"MARKETFEED_SQLITE_PATH"`
	PostgresDSN string `yaml:"postgres_dsn" env:"MARKETFEED_POSTGRES_DSN"`
}

// UpstreamConfig configures the Ingest Adapter's Redis Pub/Sub connection.
type UpstreamConfig struct {
	RedisAddr        string        `yaml:"redis_addr" env:"MARKETFEED_REDIS_ADDR"`
	RedisPassword    string        `yaml:"redis_password" env:"MARKETFEED_REDIS_PASSWORD"`
	RedisDB          int           `yaml:"redis_db" env:"MARKETFEED_REDIS_DB"`
	BackoffInitial   time.Duration `yaml:"backoff_initial" env:"MARKETFEED_BACKOFF_INITIAL"`
	BackoffMax       time.Duration `yaml:"backoff_max" env:"MARKETFEED_BACKOFF_MAX"`
}

// GRPCConfig configures the control plane listener.
type GRPCConfig struct {
	Host string `yaml:"host" env:"MARKETFEED_GRPC_HOST"`
	Port int    `yaml:"port" env:"MARKETFEED_GRPC_PORT"`
}

// Config is the service's full runtime configuration.
type Config struct {
	Name     string `yaml:"name" env:"MARKETFEED_NAME"`
	Host     string `yaml:"host" env:"MARKETFEED_HOST"`
	Port     int    `yaml:"port" env:"MARKETFEED_PORT"`
	LogLevel string `yaml:"log_level" env:"MARKETFEED_LOG_LEVEL"`

	Symbols []string `yaml:"symbols" env:"MARKETFEED_SYMBOLS" envSeparator:","`

	Storage  StorageConfig  `yaml:"storage"`
	Upstream UpstreamConfig `yaml:"upstream"`
	GRPC     GRPCConfig     `yaml:"grpc"`
}

// Default returns a Config populated with the service's baked-in defaults,
// meant to be overridden by a YAML file and then the environment.
func Default() *Config {
	return &Config{
		Name:     "marketfeed",
		Host:     "0.0.0.0",
		Port:     8080,
		LogLevel: "info",
		Symbols:  []string{"BTC/USDT"},
		Storage: StorageConfig{
			Backend:    "sqlite",
			SQLitePath: "marketfeed.db",
		},
		Upstream: UpstreamConfig{
			RedisAddr:      "127.0.0.1:6379",
			BackoffInitial: 500 * time.Millisecond,
			BackoffMax:     30 * time.Second,
		},
		GRPC: GRPCConfig{
			Host: "0.0.0.0",
			Port: 9090,
		},
	}
}

// Load reads configPath as YAML over the defaults, applies an environment
// overlay, and validates the result. An empty configPath skips the file
// read and starts from Default().
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overlay: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate performs basic sanity checks, walking each section by hand.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol must be configured")
	}

	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite_path cannot be empty for the sqlite backend")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("postgres_dsn cannot be empty for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q (want sqlite or postgres)", c.Storage.Backend)
	}

	if c.Upstream.RedisAddr == "" {
		return fmt.Errorf("upstream redis_addr cannot be empty")
	}
	if c.Upstream.BackoffInitial <= 0 {
		return fmt.Errorf("upstream backoff_initial must be greater than 0")
	}
	if c.Upstream.BackoffMax < c.Upstream.BackoffInitial {
		return fmt.Errorf("upstream backoff_max must be >= backoff_initial")
	}

	if c.GRPC.Port <= 0 || c.GRPC.Port > 65535 {
		return fmt.Errorf("invalid grpc port number: %d", c.GRPC.Port)
	}

	return nil
}

// Save persists the configuration to configPath as YAML.
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}
	return nil
}

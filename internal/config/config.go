// Package config loads the YAML configuration for cmd/conduitd,
// mirroring haasonsaas/nexus's internal/config/config.go layout: one
// struct per concern, defaults applied after unmarshal rather than via
// struct tags, environment variables overriding file values for the
// handful of secrets/ports that commonly come from the deploy
// environment instead of a checked-in file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the conversational orchestration
// server.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Providers ProvidersConfig `yaml:"providers"`
	Session   SessionConfig   `yaml:"session"`
	Logging   LoggingConfig   `yaml:"logging"`
	Auth      AuthConfig      `yaml:"auth"`
	Cron      CronConfig      `yaml:"cron"`

	// dsn is the Postgres/CockroachDB connection string, sourced only
	// from CONDUIT_DATABASE_URL (never a config file) to keep
	// credentials out of version control.
	dsn string
}

// ServerConfig configures the HTTP listener cmd/conduitd binds (the
// WebSocket upgrade and REST endpoints both hang off it) and the
// Prometheus metrics listener.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// GatewayConfig holds Connection Manager (C3) settings. Load fills in
// defaults, but cmd/conduitd does not pass these values to
// internal/gateway, which uses its own constants with the same defaults.
type GatewayConfig struct {
	// MaxPayloadBytes caps an inbound frame's size.
	MaxPayloadBytes int64 `yaml:"max_payload_bytes"`

	// IdempotencyCap bounds the per-connection recently-seen set before
	// the oldest entry is evicted (SPEC_FULL.md §12).
	IdempotencyCap int `yaml:"idempotency_cap"`

	// PongWait is how long a socket may go without a pong before its
	// read deadline trips.
	PongWait time.Duration `yaml:"pong_wait"`

	// WriteWait bounds a single outbound frame write.
	WriteWait time.Duration `yaml:"write_wait"`
}

// SandboxConfig configures the yaegi-backed script sandbox (C5, §11).
type SandboxConfig struct {
	Timeout time.Duration `yaml:"timeout"`

	// AllowedPackages lists the synthetic stdlib surface the
	// interpreter may `interp.Use`. Defaults to sandbox.DefaultConfig's
	// set when empty.
	AllowedPackages []string `yaml:"allowed_packages"`
}

// ProvidersConfig configures the two upstream wire variants (C7).
type ProvidersConfig struct {
	Ollama ProviderEndpointConfig `yaml:"ollama"`
	OpenAI ProviderEndpointConfig `yaml:"openai"`
}

// ProviderEndpointConfig is a base_url/model/api_key entry in the config
// file. No code reads it: a chat frame's provider_settings do not fall
// back to these values.
type ProviderEndpointConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// SessionConfig configures the Cancellation Registry (C2).
type SessionConfig struct {
	// MaxConcurrent bounds live cancellation tokens; falls back to
	// cancel.DefaultMaxSessions when zero.
	MaxConcurrent int `yaml:"max_concurrent"`

	// SweepInterval is how often a cron tick calls CleanupFinished on
	// the cancellation registry.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// LoggingConfig configures the slog handler built once in cmd/conduitd.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AuthConfig configures the optional bearer-token guard in front of the
// WebSocket upgrade and REST endpoints.
type AuthConfig struct {
	// JWTSecret enables the guard when non-empty.
	JWTSecret string `yaml:"jwt_secret"`
}

// CronConfig toggles the periodic cancellation-registry sweep tick.
type CronConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads path, expands ${VAR} references against the process
// environment, decodes strict YAML (unknown fields are a load error,
// matching the teacher's decoder.KnownFields(true)), applies
// environment overrides, then defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("CONDUIT_HTTP_PORT")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Server.HTTPPort = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("CONDUIT_JWT_SECRET")); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("CONDUIT_DATABASE_URL")); v != "" {
		cfg.dsn = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}

	if cfg.Gateway.MaxPayloadBytes == 0 {
		cfg.Gateway.MaxPayloadBytes = 1 << 20
	}
	if cfg.Gateway.IdempotencyCap == 0 {
		cfg.Gateway.IdempotencyCap = 256
	}
	if cfg.Gateway.PongWait == 0 {
		cfg.Gateway.PongWait = 45 * time.Second
	}
	if cfg.Gateway.WriteWait == 0 {
		cfg.Gateway.WriteWait = 10 * time.Second
	}

	if cfg.Sandbox.Timeout == 0 {
		cfg.Sandbox.Timeout = 30 * time.Second
	}

	if cfg.Session.MaxConcurrent == 0 {
		cfg.Session.MaxConcurrent = 100
	}
	if cfg.Session.SweepInterval == 0 {
		cfg.Session.SweepInterval = time.Minute
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// DatabaseDSN returns the Postgres/CockroachDB connection string applied
// via CONDUIT_DATABASE_URL, or empty when the State Store should run
// in-memory.
func (c *Config) DatabaseDSN() string {
	if c == nil {
		return ""
	}
	return c.dsn
}

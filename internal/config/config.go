// Package config provides configuration loading for the session engine
// server: defaults, then a TOML file, then environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the top-level server configuration.
type Config struct {
	Server    ServerConfig             `toml:"server"`
	Database  DatabaseConfig           `toml:"database"`
	Providers map[string]ProviderConfig `toml:"providers"`
	Hooks     HooksConfig              `toml:"hooks"`
	Telemetry TelemetryConfig          `toml:"telemetry"`
}

// ServerConfig holds transport-level settings.
type ServerConfig struct {
	DuplexPort        int    `toml:"duplex_port"`
	HealthPort        int    `toml:"health_port"`
	HeartbeatInterval string `toml:"heartbeat_interval"` // duration string, e.g. "30s"
	Origin            string `toml:"origin"`             // server identifier tag, see spec Origin
}

// DatabaseConfig holds the embedded store's location and tuning.
type DatabaseConfig struct {
	Path             string `toml:"path"`
	Environment      string `toml:"environment"` // prod | dev | test
	BusyTimeoutMs    int    `toml:"busy_timeout_ms"`
	MaxBusyRetries   int    `toml:"max_busy_retries"`
}

// ProviderConfig configures one LLM vendor adapter.
type ProviderConfig struct {
	APIKeyEnv string            `toml:"api_key_env"`
	BaseURL   string            `toml:"base_url"`
	Models    map[string]ModelInfo `toml:"models"`
}

// ModelInfo carries per-model pricing/limits used by the provider adapter's
// token accounting (spec §4.5: pricing is looked up, never silently zeroed).
type ModelInfo struct {
	ContextWindow    int     `toml:"context_window"`
	InputPricePerM   float64 `toml:"input_price_per_million"`
	OutputPricePerM  float64 `toml:"output_price_per_million"`
}

// HooksConfig configures the hook engine's default behavior.
type HooksConfig struct {
	DefaultTimeout     string   `toml:"default_timeout"` // duration string, e.g. "5s"
	ForcedBlockingTypes []string `toml:"forced_blocking_types"`
}

// TelemetryConfig controls tracing export.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
}

// New returns a config populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			DuplexPort:        8080,
			HealthPort:        8081,
			HeartbeatInterval: "30s",
			Origin:            "local",
		},
		Database: DatabaseConfig{
			Path:           "~/.local/sessiond/sessiond.db",
			Environment:    "dev",
			BusyTimeoutMs:  5000,
			MaxBusyRetries: 8,
		},
		Hooks: HooksConfig{
			DefaultTimeout: "5s",
		},
		Providers: map[string]ProviderConfig{},
	}
}

// Default is an alias for New, matching the reference codebase's naming.
func Default() *Config { return New() }

// LoadFile loads configuration from a TOML file over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads sessiond.toml from the current working directory.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	return LoadFile(filepath.Join(cwd, "sessiond.toml"))
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SESSIOND_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("SESSIOND_DUPLEX_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.DuplexPort = port
		}
	}
	if v := os.Getenv("SESSIOND_ENV"); v != "" {
		cfg.Database.Environment = v
	}
}

// Validate rejects a configuration startup should refuse to run with.
func (c *Config) Validate() error {
	if c.Server.DuplexPort == c.Server.HealthPort {
		return fmt.Errorf("config: duplex_port and health_port must differ")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("config: database.path must be set")
	}
	switch c.Database.Environment {
	case "prod", "dev", "test":
	default:
		return fmt.Errorf("config: database.environment must be one of prod|dev|test, got %q", c.Database.Environment)
	}
	return nil
}

// ExpandPath expands a leading "~" to the user's home directory, matching
// cmd/agent/main.go's storage-path resolution idiom.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// APIKey returns the API key for a configured provider, read from its
// configured environment variable.
func (c *Config) APIKey(provider string) string {
	p, ok := c.Providers[provider]
	if !ok || p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// ModelPricing returns pricing info for provider/model, and whether it was
// found; callers must report pricing_unavailable rather than assume zero.
func (c *Config) ModelPricing(provider, modelID string) (ModelInfo, bool) {
	p, ok := c.Providers[provider]
	if !ok {
		return ModelInfo{}, false
	}
	m, ok := p.Models[modelID]
	return m, ok
}

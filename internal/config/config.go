// Package config loads runtime configuration from YAML with environment
// variable expansion.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root runtime configuration.
type Config struct {
	Model     string          `yaml:"model"`
	System    string          `yaml:"system"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Run       RunConfig       `yaml:"run"`
	Providers ProvidersConfig `yaml:"providers"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// WorkspaceConfig anchors tool file access.
type WorkspaceConfig struct {
	Root               string `yaml:"root"`
	AllowExternalPaths bool   `yaml:"allow_external_paths"`
}

// RunConfig bounds the agent loop.
type RunConfig struct {
	MaxTurns       int           `yaml:"max_turns"`
	MaxTokens      int           `yaml:"max_tokens"`
	MaxRetries     int           `yaml:"max_retries"`
	ToolTimeout    time.Duration `yaml:"tool_timeout"`
	HostPermission string        `yaml:"host_permission"`
}

// ProvidersConfig carries credentials per backend.
type ProvidersConfig struct {
	Anthropic ProviderConfig `yaml:"anthropic"`
	OpenAI    ProviderConfig `yaml:"openai"`
}

// ProviderConfig configures one model backend.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// StorageConfig selects the session store backend.
type StorageConfig struct {
	// Backend is "memory", "sqlite", or "postgres".
	Backend string `yaml:"backend"`
	// Path is the database file for sqlite.
	Path string `yaml:"path"`
	// DSN is the connection string for postgres.
	DSN string `yaml:"dsn"`
	// Table overrides the sessions table name.
	Table string `yaml:"table"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig configures OTLP export.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	Environment  string  `yaml:"environment"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Model: "claude-sonnet-4-20250514",
		Workspace: WorkspaceConfig{
			Root: ".",
		},
		Run: RunConfig{
			MaxTurns:       10,
			MaxTokens:      4096,
			MaxRetries:     3,
			ToolTimeout:    30 * time.Second,
			HostPermission: "allow",
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML config file, expanding ${VAR} references from the
// environment, and merges it over the defaults.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "", "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for sqlite")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Run.HostPermission {
	case "", "allow", "ask", "deny":
	default:
		return fmt.Errorf("unknown host_permission %q", c.Run.HostPermission)
	}
	return nil
}

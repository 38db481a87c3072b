// Package config provides gateway configuration with hot-reload support.
// Files are YAML with ${VAR_NAME} environment expansion; reloads swap the
// whole config atomically.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/000haoji/deep-student-sub000/pkg/types"
)

// Config is the complete gateway configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Secrets  SecretsConfig  `yaml:"secrets"`
	Routing  RoutingConfig  `yaml:"routing"`
	Health   HealthConfig   `yaml:"health"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`

	// Models seeds the in-memory registry when no database is configured.
	Models []ModelConfig `yaml:"models"`
}

// ServerConfig contains HTTP server settings for the operational surface
// (metrics and health endpoints).
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DatabaseConfig points at the PostgreSQL registry and call log store.
// An empty DSN selects the in-memory stores.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Migrate         bool          `yaml:"migrate"`
}

// RedisConfig selects the shared health status store. An empty address
// keeps health state process-local.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SecretsConfig configures credential reference resolution.
type SecretsConfig struct {
	VaultAddr     string        `yaml:"vault_addr"`
	VaultToken    string        `yaml:"vault_token"`
	VaultRoleID   string        `yaml:"vault_role_id"`
	VaultSecretID string        `yaml:"vault_secret_id"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
}

// RoutingConfig tunes the failover engine.
type RoutingConfig struct {
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	BackoffUnit       time.Duration `yaml:"backoff_unit"`
	DefaultMaxRetries int           `yaml:"default_max_retries"`
	RegistryCacheTTL  time.Duration `yaml:"registry_cache_ttl"`
}

// HealthConfig tunes the health monitor.
type HealthConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	Concurrency   int           `yaml:"concurrency"`
}

// LoggingConfig selects level and format for slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig contains OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
	Insecure    bool    `yaml:"insecure"`
}

// ModelConfig is the YAML shape of a seeded model registration.
type ModelConfig struct {
	Provider  string `yaml:"provider"`
	ModelName string `yaml:"model_name"`
	// APIKey may be a literal or a reference such as env://OPENAI_API_KEY.
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	Priority       int      `yaml:"priority"`
	Capabilities   []string `yaml:"capabilities"`
	SupportedTasks []string `yaml:"supported_tasks"`

	RequestsPerMinute int               `yaml:"requests_per_minute"`
	TokensPerMinute   int               `yaml:"tokens_per_minute"`
	MaxContextTokens  int               `yaml:"max_context_tokens"`
	MaxOutputTokens   int               `yaml:"max_output_tokens"`
	Timeout           time.Duration     `yaml:"timeout"`
	MaxRetries        int               `yaml:"max_retries"`
	Headers           map[string]string `yaml:"headers"`

	InputCostPer1K  float64 `yaml:"input_cost_per_1k"`
	OutputCostPer1K float64 `yaml:"output_cost_per_1k"`
	CostPer1K       float64 `yaml:"cost_per_1k"`
}

// ToModel converts the YAML shape into a registry record.
func (m *ModelConfig) ToModel() types.ModelConfig {
	caps := make([]types.Capability, 0, len(m.Capabilities))
	for _, c := range m.Capabilities {
		caps = append(caps, types.Capability(c))
	}
	tasks := make([]types.TaskType, 0, len(m.SupportedTasks))
	for _, t := range m.SupportedTasks {
		tasks = append(tasks, types.TaskType(t))
	}
	return types.ModelConfig{
		Provider:          types.ProviderKind(m.Provider),
		ModelName:         m.ModelName,
		APIKey:            m.APIKey,
		BaseURL:           m.BaseURL,
		Priority:          m.Priority,
		IsActive:          true,
		Capabilities:      caps,
		SupportedTasks:    tasks,
		RequestsPerMinute: m.RequestsPerMinute,
		TokensPerMinute:   m.TokensPerMinute,
		MaxContextTokens:  m.MaxContextTokens,
		MaxOutputTokens:   m.MaxOutputTokens,
		Timeout:           m.Timeout,
		MaxRetries:        m.MaxRetries,
		Headers:           m.Headers,
		InputCostPer1K:    m.InputCostPer1K,
		OutputCostPer1K:   m.OutputCostPer1K,
		CostPer1K:         m.CostPer1K,
	}
}

// DefaultConfig returns a configuration with working defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			Migrate:         true,
		},
		Secrets: SecretsConfig{
			CacheTTL: 5 * time.Minute,
		},
		Routing: RoutingConfig{
			RequestTimeout:    2 * time.Minute,
			BackoffUnit:       time.Second,
			DefaultMaxRetries: 2,
			RegistryCacheTTL:  30 * time.Second,
		},
		Health: HealthConfig{
			TTL:           5 * time.Minute,
			ProbeInterval: 30 * time.Second,
			ProbeTimeout:  10 * time.Second,
			Concurrency:   4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "ai-gateway",
			SampleRate:  1.0,
			Insecure:    true,
		},
	}
}

// LoadFromFile reads a YAML configuration file, expanding ${VAR_NAME}
// environment references before parsing.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	for i, m := range c.Models {
		if m.Provider == "" {
			return fmt.Errorf("models[%d]: provider is required", i)
		}
		if m.ModelName == "" {
			return fmt.Errorf("models[%d]: model_name is required", i)
		}
		if m.APIKey == "" {
			return fmt.Errorf("models[%d] %q: api_key is required", i, m.ModelName)
		}
		if m.Timeout < 0 {
			return fmt.Errorf("models[%d] %q: timeout cannot be negative", i, m.ModelName)
		}
	}

	if c.Routing.DefaultMaxRetries < 0 {
		return fmt.Errorf("routing.default_max_retries cannot be negative")
	}
	if c.Health.TTL < 0 {
		return fmt.Errorf("health.ttl cannot be negative")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
	}

	return nil
}

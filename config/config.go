// Package config provides configuration loading and management for RxPilot.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/rxpilot/erx"
	"github.com/c360studio/rxpilot/escalation"
	"github.com/c360studio/rxpilot/model"
)

// Config represents the complete RxPilot configuration
type Config struct {
	Model    ModelConfig   `yaml:"model"`
	NATS     NATSConfig    `yaml:"nats"`
	Policy   PolicyConfig  `yaml:"policy"`
	Sessions SessionConfig `yaml:"sessions"`
	Catalog  CatalogConfig `yaml:"catalog"`
}

// ModelConfig configures the LLM model settings
type ModelConfig struct {
	// Default is the registry endpoint to fall back on when no
	// capability matches (e.g. "qwen"). A name the registry does not
	// know is treated as an Ollama model identifier served at Endpoint.
	Default string `yaml:"default"`
	// Endpoint is the Ollama API endpoint (default: http://localhost:11434/v1)
	Endpoint string `yaml:"endpoint"`
	// Temperature controls randomness (0.0-1.0, default: 0.2)
	Temperature float64 `yaml:"temperature"`
	// Registry optionally replaces the built-in capability registry
	// wholesale. When set, Default and Endpoint are ignored.
	Registry *model.RegistryConfig `yaml:"registry,omitempty"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = nats://localhost:4222)
	URL string `yaml:"url"`
}

// PolicyConfig configures the escalation thresholds
type PolicyConfig struct {
	// EarlyRefillFraction is the fraction of the supply period that must
	// elapse before an automated refill is allowed (default: 0.75)
	EarlyRefillFraction float64 `yaml:"early_refill_fraction"`
	// MinSeverity is the lowest interaction severity that blocks the
	// automated flow (minor, moderate, major, contraindicated)
	MinSeverity string `yaml:"min_severity"`
}

// SessionConfig configures session lifetimes and turn deadlines
type SessionConfig struct {
	// TTL is how long an idle session survives before the sweep
	// expires it (default: 30m)
	TTL time.Duration `yaml:"ttl"`
	// SweepInterval is how often expired sessions are collected
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// DataTimeout bounds pharmacy-data capability calls within a turn
	DataTimeout time.Duration `yaml:"data_timeout"`
	// ReplyTimeout bounds natural-language capability calls within a turn
	ReplyTimeout time.Duration `yaml:"reply_timeout"`
}

// CatalogConfig configures the medication catalog source
type CatalogConfig struct {
	// Dir is the directory of catalog YAML files (empty = built-in demo data)
	Dir string `yaml:"dir"`
	// Watch enables hot reload when catalog files change
	Watch bool `yaml:"watch"`
	// WatchDebounce batches rapid file changes into one reload
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Default:     "qwen",
			Endpoint:    "http://localhost:11434/v1",
			Temperature: 0.2,
		},
		NATS: NATSConfig{
			URL: "",
		},
		Policy: PolicyConfig{
			EarlyRefillFraction: 0.75,
			MinSeverity:         string(escalation.SeverityModerate),
		},
		Sessions: SessionConfig{
			TTL:           30 * time.Minute,
			SweepInterval: time.Minute,
			DataTimeout:   5 * time.Second,
			ReplyTimeout:  10 * time.Second,
		},
		Catalog: CatalogConfig{
			Dir:   "", // Built-in demo catalog
			Watch: false,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Model.Default == "" {
		return fmt.Errorf("model.default is required")
	}
	if c.Model.Endpoint == "" {
		return fmt.Errorf("model.endpoint is required")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		return fmt.Errorf("model.temperature must be between 0 and 1")
	}
	if c.Policy.EarlyRefillFraction <= 0 || c.Policy.EarlyRefillFraction > 1 {
		return fmt.Errorf("policy.early_refill_fraction must be in (0, 1]")
	}
	if _, err := escalation.ParseSeverity(c.Policy.MinSeverity); err != nil {
		return fmt.Errorf("policy.min_severity: %w", err)
	}
	if c.Sessions.TTL <= 0 {
		return fmt.Errorf("sessions.ttl must be positive")
	}
	if c.Sessions.SweepInterval <= 0 {
		return fmt.Errorf("sessions.sweep_interval must be positive")
	}
	if c.Sessions.DataTimeout <= 0 {
		return fmt.Errorf("sessions.data_timeout must be positive")
	}
	if c.Sessions.ReplyTimeout <= 0 {
		return fmt.Errorf("sessions.reply_timeout must be positive")
	}
	return nil
}

// BuildRegistry constructs the model registry for this configuration.
// A full registry block takes precedence; otherwise the built-in
// defaults are used with Default and Endpoint as simple overrides.
func (m ModelConfig) BuildRegistry() *model.Registry {
	if m.Registry != nil {
		return model.RegistryFromConfig(m.Registry)
	}

	reg := model.NewDefaultRegistry()
	if m.Default == "" {
		return reg
	}

	if reg.GetEndpoint(m.Default) == nil {
		endpoint := m.Endpoint
		if endpoint == "" {
			endpoint = DefaultConfig().Model.Endpoint
		}
		reg.SetEndpoint(m.Default, &model.EndpointConfig{
			Provider: "ollama",
			URL:      endpoint,
			Model:    m.Default,
		})
	}
	reg.SetDefault(m.Default)
	return reg
}

// BuildPolicy converts the configured thresholds into an escalation
// policy, starting from the standard defaults.
func (p PolicyConfig) BuildPolicy() (escalation.Policy, error) {
	policy := escalation.DefaultPolicy()

	if p.EarlyRefillFraction != 0 {
		policy.EarlyRefillFraction = p.EarlyRefillFraction
	}
	if p.MinSeverity != "" {
		sev, err := escalation.ParseSeverity(p.MinSeverity)
		if err != nil {
			return escalation.Policy{}, err
		}
		policy.MinSeverity = sev
	}

	if err := policy.Validate(); err != nil {
		return escalation.Policy{}, err
	}
	return policy, nil
}

// WatchConfig converts the catalog settings into the watcher's config.
func (c CatalogConfig) WatchConfig() erx.WatchConfig {
	wc := erx.DefaultWatchConfig()
	wc.Enabled = c.Watch
	if c.WatchDebounce > 0 {
		wc.DebounceDelay = c.WatchDebounce.String()
	}
	return wc
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Model
	if other.Model.Default != "" {
		c.Model.Default = other.Model.Default
	}
	if other.Model.Endpoint != "" {
		c.Model.Endpoint = other.Model.Endpoint
	}
	if other.Model.Temperature != 0 {
		c.Model.Temperature = other.Model.Temperature
	}
	if other.Model.Registry != nil {
		c.Model.Registry = other.Model.Registry
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}

	// Policy
	if other.Policy.EarlyRefillFraction != 0 {
		c.Policy.EarlyRefillFraction = other.Policy.EarlyRefillFraction
	}
	if other.Policy.MinSeverity != "" {
		c.Policy.MinSeverity = other.Policy.MinSeverity
	}

	// Sessions
	if other.Sessions.TTL != 0 {
		c.Sessions.TTL = other.Sessions.TTL
	}
	if other.Sessions.SweepInterval != 0 {
		c.Sessions.SweepInterval = other.Sessions.SweepInterval
	}
	if other.Sessions.DataTimeout != 0 {
		c.Sessions.DataTimeout = other.Sessions.DataTimeout
	}
	if other.Sessions.ReplyTimeout != 0 {
		c.Sessions.ReplyTimeout = other.Sessions.ReplyTimeout
	}

	// Catalog
	if other.Catalog.Dir != "" {
		c.Catalog.Dir = other.Catalog.Dir
	}
	if other.Catalog.Watch {
		c.Catalog.Watch = true
	}
	if other.Catalog.WatchDebounce != 0 {
		c.Catalog.WatchDebounce = other.Catalog.WatchDebounce
	}
}

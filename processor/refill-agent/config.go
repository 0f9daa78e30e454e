package refillagent

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"

	"github.com/c360studio/rxpilot/refill"
)

// agentSchema defines the configuration schema for the refill agent.
var agentSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the refill agent component.
type Config struct {
	// StreamName is the JetStream stream carrying conversation traffic.
	StreamName string `json:"stream_name"`

	// ConsumerName prefixes the durable consumer names. Two consumers
	// are created: <name>-turns and <name>-commands.
	ConsumerName string `json:"consumer_name"`

	// TurnSubject is the subject carrying patient turn requests.
	TurnSubject string `json:"turn_subject"`

	// SessionSubject is the subject carrying session commands.
	SessionSubject string `json:"session_subject"`

	// SessionTTL is how long an idle session survives before the sweep
	// expires it (e.g. "30m").
	SessionTTL string `json:"session_ttl"`

	// SweepInterval is how often expired sessions are collected (e.g. "1m").
	SweepInterval string `json:"sweep_interval"`

	// DataTimeout bounds each pharmacy-data lookup within a turn (e.g. "5s").
	DataTimeout string `json:"data_timeout"`

	// ReplyTimeout bounds each language-model call within a turn (e.g. "10s").
	ReplyTimeout string `json:"reply_timeout"`

	// CatalogDir points at a directory of catalog YAML files. Empty
	// serves the built-in demo catalog.
	CatalogDir string `json:"catalog_dir,omitempty"`

	// CatalogWatch hot-reloads the catalog when files under CatalogDir
	// change. Ignored without CatalogDir.
	CatalogWatch bool `json:"catalog_watch,omitempty"`

	// EarlyRefillFraction overrides the fraction of the supply window
	// that must elapse before a refill is allowed. Zero keeps the default.
	EarlyRefillFraction float64 `json:"early_refill_fraction,omitempty"`

	// MinSeverity overrides the lowest interaction severity that blocks
	// the automated flow. Empty keeps the default.
	MinSeverity string `json:"min_severity,omitempty"`

	// ModelDefault names the model used for intent classification and
	// reply wording. Empty runs rule-based classification with template
	// replies only.
	ModelDefault string `json:"model_default,omitempty"`

	// ModelEndpoint is the OpenAI-compatible endpoint serving ModelDefault
	// when the name is not in the built-in registry.
	ModelEndpoint string `json:"model_endpoint,omitempty"`

	// ModelTemperature pins the sampling temperature for generated
	// replies. Zero leaves the endpoint default.
	ModelTemperature float64 `json:"model_temperature,omitempty"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty"`
}

// DefaultConfig returns the default refill agent configuration.
func DefaultConfig() Config {
	return Config{
		StreamName:     "CONVERSATION",
		ConsumerName:   "refill-agent",
		TurnSubject:    refill.SubjectTurnRequest,
		SessionSubject: refill.SubjectSessionCommand,
		SessionTTL:     "30m",
		SweepInterval:  "1m",
		DataTimeout:    "5s",
		ReplyTimeout:   "10s",
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "turn-requests",
					Type:        "jetstream",
					Subject:     refill.SubjectTurnRequest,
					StreamName:  "CONVERSATION",
					Description: "Patient messages to run through the refill conversation",
					Required:    true,
				},
				{
					Name:        "session-commands",
					Type:        "jetstream",
					Subject:     refill.SubjectSessionCommand,
					StreamName:  "CONVERSATION",
					Description: "Summary and reset commands against active sessions",
					Required:    true,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "user-responses",
					Type:        "jetstream",
					Subject:     "user.response.>",
					StreamName:  "CONVERSATION",
					Description: "Replies routed back to the requesting channel",
					Required:    false,
				},
				{
					Name:        "refill-events",
					Type:        "jetstream",
					Subject:     "rxpilot.events.>",
					StreamName:  "EVENTS",
					Description: "State transitions, escalations, orders, and expirations",
					Required:    false,
				},
			},
		},
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.StreamName == "" {
		return fmt.Errorf("stream_name is required")
	}
	if c.ConsumerName == "" {
		return fmt.Errorf("consumer_name is required")
	}
	if c.TurnSubject == "" {
		return fmt.Errorf("turn_subject is required")
	}
	if c.SessionSubject == "" {
		return fmt.Errorf("session_subject is required")
	}
	for name, value := range map[string]string{
		"session_ttl":    c.SessionTTL,
		"sweep_interval": c.SweepInterval,
		"data_timeout":   c.DataTimeout,
		"reply_timeout":  c.ReplyTimeout,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	if c.EarlyRefillFraction < 0 || c.EarlyRefillFraction > 1 {
		return fmt.Errorf("early_refill_fraction must be between 0 and 1")
	}
	if c.ModelTemperature < 0 || c.ModelTemperature > 1 {
		return fmt.Errorf("model_temperature must be between 0 and 1")
	}
	return nil
}

// GetSessionTTL returns the parsed session TTL.
func (c *Config) GetSessionTTL() time.Duration {
	return parseDurationOr(c.SessionTTL, 30*time.Minute)
}

// GetSweepInterval returns the parsed sweep interval.
func (c *Config) GetSweepInterval() time.Duration {
	return parseDurationOr(c.SweepInterval, time.Minute)
}

// GetDataTimeout returns the parsed data lookup timeout.
func (c *Config) GetDataTimeout() time.Duration {
	return parseDurationOr(c.DataTimeout, 5*time.Second)
}

// GetReplyTimeout returns the parsed language-model timeout.
func (c *Config) GetReplyTimeout() time.Duration {
	return parseDurationOr(c.ReplyTimeout, 10*time.Second)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

package escalationnotifier

import (
	"fmt"
	"reflect"

	"github.com/c360studio/semstreams/component"

	"github.com/c360studio/rxpilot/refill"
)

// notifierSchema defines the configuration schema for the notifier.
var notifierSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the escalation notifier component.
type Config struct {
	// StreamName is the JetStream stream carrying refill events.
	StreamName string `json:"stream_name"`

	// ConsumerName is the durable consumer name.
	ConsumerName string `json:"consumer_name"`

	// EscalationSubject is the subject carrying escalation events.
	EscalationSubject string `json:"escalation_subject"`

	// CareTeamChannelType is the channel type notifications are routed to.
	CareTeamChannelType string `json:"care_team_channel_type"`

	// CareTeamChannelID is the channel id notifications are routed to.
	CareTeamChannelID string `json:"care_team_channel_id"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty"`
}

// DefaultConfig returns the default notifier configuration.
func DefaultConfig() Config {
	return Config{
		StreamName:          "EVENTS",
		ConsumerName:        "escalation-notifier",
		EscalationSubject:   refill.EscalationRaised.Pattern,
		CareTeamChannelType: "ops",
		CareTeamChannelID:   "care-team",
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "escalations",
					Type:        "jetstream",
					Subject:     refill.EscalationRaised.Pattern,
					StreamName:  "EVENTS",
					Description: "Escalation events raised by the refill conversation",
					Required:    true,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "notifications",
					Type:        "jetstream",
					Subject:     "user.response.>",
					StreamName:  "CONVERSATION",
					Description: "Care-team notifications routed like any channel reply",
					Required:    true,
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
	if c.EscalationSubject == "" {
		return fmt.Errorf("escalation_subject is required")
	}
	if c.CareTeamChannelType == "" {
		return fmt.Errorf("care_team_channel_type is required")
	}
	if c.CareTeamChannelID == "" {
		return fmt.Errorf("care_team_channel_id is required")
	}
	return nil
}

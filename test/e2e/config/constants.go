// Package config provides configuration constants for e2e tests.
package config

import "time"

// Default connection URLs.
const (
	DefaultNATSURL     = "nats://localhost:4222"
	DefaultHTTPBaseURL = "http://localhost:8080"
	DefaultMockLLMURL  = "http://localhost:11434"
)

// Default timeouts.
const (
	DefaultCommandTimeout = 30 * time.Second
	DefaultSetupTimeout   = 60 * time.Second
	DefaultStageTimeout   = 30 * time.Second
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultWaitTimeout    = 10 * time.Second
)

// NATS subjects the scenarios touch.
const (
	// UserMessageSubjectPrefix is the prefix for user message subjects.
	// Full subject: user.message.{channel_type}.{channel_id}
	UserMessageSubjectPrefix = "user.message"

	// UserResponseSubjectPrefix is the prefix for conversational replies.
	// Full subject: user.response.{channel_type}.{channel_id}
	UserResponseSubjectPrefix = "user.response"

	// EscalationEventSubject carries escalation.raised events.
	EscalationEventSubject = "rxpilot.events.escalation.raised"

	// OrderEventSubject carries order.submitted events.
	OrderEventSubject = "rxpilot.events.order.submitted"
)

// E2EChannelType marks traffic originating from the e2e runner. The
// user id on messages is the patient id, mirroring how the commands
// resolve patients from the sender.
const E2EChannelType = "e2e"

// Demo catalog identities the scenarios lean on. These match the
// dataset the agent seeds when it starts without a catalog directory.
const (
	DemoPatientID = "patient-demo"

	// HappyPathMedication has refills remaining and clears every
	// authorization check.
	HappyPathMedication = "atorvastatin"

	// ControlledMedication escalates to the prescriber.
	ControlledMedication = "oxycodone"

	// EarlyRefillMedication was filled too recently and escalates to a
	// pharmacist.
	EarlyRefillMedication = "sertraline"

	// PriorAuthMedication is clinically clean but needs insurance prior
	// authorization.
	PriorAuthMedication = "eliquis"
)

// Config holds the e2e test configuration.
type Config struct {
	NATSURL        string        `json:"nats_url"`
	HTTPBaseURL    string        `json:"http_base_url"`
	MockLLMURL     string        `json:"mock_llm_url"`
	PatientID      string        `json:"patient_id"`
	CommandTimeout time.Duration `json:"command_timeout"`
	SetupTimeout   time.Duration `json:"setup_timeout"`
	StageTimeout   time.Duration `json:"stage_timeout"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		NATSURL:        DefaultNATSURL,
		HTTPBaseURL:    DefaultHTTPBaseURL,
		MockLLMURL:     DefaultMockLLMURL,
		PatientID:      DemoPatientID,
		CommandTimeout: DefaultCommandTimeout,
		SetupTimeout:   DefaultSetupTimeout,
		StageTimeout:   DefaultStageTimeout,
	}
}

package escalationnotifier

import (
	"strings"
	"testing"
	"time"

	"github.com/c360studio/rxpilot/refill"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "valid default config",
			config:  DefaultConfig(),
			wantErr: false,
		},
		{
			name: "missing stream name",
			config: Config{
				ConsumerName:        "test",
				EscalationSubject:   "test.events",
				CareTeamChannelType: "ops",
				CareTeamChannelID:   "care",
			},
			wantErr: true,
		},
		{
			name: "missing care team channel",
			config: Config{
				StreamName:        "EVENTS",
				ConsumerName:      "test",
				EscalationSubject: "test.events",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()

	if config.StreamName != "EVENTS" {
		t.Errorf("StreamName = %q, want %q", config.StreamName, "EVENTS")
	}
	if config.EscalationSubject != "rxpilot.events.escalation.raised" {
		t.Errorf("EscalationSubject = %q", config.EscalationSubject)
	}
	if config.CareTeamChannelType != "ops" {
		t.Errorf("CareTeamChannelType = %q, want ops", config.CareTeamChannelType)
	}
	if config.CareTeamChannelID != "care-team" {
		t.Errorf("CareTeamChannelID = %q, want care-team", config.CareTeamChannelID)
	}
	if config.Ports == nil {
		t.Fatal("Ports should not be nil")
	}
}

func TestFormatNotification(t *testing.T) {
	t.Parallel()

	evt := refill.EscalationRaisedEvent{
		SessionID:  "sess-42",
		PatientID:  "patient-demo",
		Type:       "pharmacist",
		Reasons:    []string{"prescription_expired", "drug_interaction_concern"},
		Message:    "I've sent this to a pharmacist for review.",
		Medication: "warfarin",
	}

	text := formatNotification(evt)
	for _, want := range []string{
		"pharmacist",
		"patient-demo",
		"warfarin",
		"sess-42",
		"prescription_expired, drug_interaction_concern",
		"I've sent this to a pharmacist for review.",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("notification missing %q:\n%s", want, text)
		}
	}
}

func TestFormatNotification_MinimalEvent(t *testing.T) {
	t.Parallel()

	evt := refill.EscalationRaisedEvent{
		SessionID: "sess-7",
		PatientID: "patient-2",
		Type:      "doctor",
	}

	text := formatNotification(evt)
	if strings.Contains(text, "Medication:") {
		t.Errorf("notification without medication should omit the line:\n%s", text)
	}
	if strings.Contains(text, "Reasons:") {
		t.Errorf("notification without reasons should omit the line:\n%s", text)
	}
}

func TestMeta(t *testing.T) {
	t.Parallel()

	c := &Component{}
	meta := c.Meta()

	if meta.Name != "escalation-notifier" {
		t.Errorf("Name = %q, want %q", meta.Name, "escalation-notifier")
	}
	if meta.Type != "processor" {
		t.Errorf("Type = %q, want %q", meta.Type, "processor")
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	c := &Component{
		running:   true,
		startTime: time.Now().Add(-time.Minute),
	}
	c.notificationsFailed.Store(2)

	health := c.Health()
	if !health.Healthy {
		t.Error("running component should be healthy")
	}
	if health.ErrorCount != 2 {
		t.Errorf("ErrorCount = %d, want 2", health.ErrorCount)
	}

	stopped := &Component{}
	if stopped.Health().Healthy {
		t.Error("stopped component should be unhealthy")
	}
}

func TestRegisterRejectsNilRegistry(t *testing.T) {
	t.Parallel()

	if err := Register(nil); err == nil {
		t.Error("expected error for nil registry")
	}
}

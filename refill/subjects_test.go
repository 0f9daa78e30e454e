package refill

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedSubjectPatterns(t *testing.T) {
	// Verify subject patterns are correctly set
	assert.Equal(t, "rxpilot.events.state.transitioned", StateTransitioned.Pattern)
	assert.Equal(t, "rxpilot.events.escalation.raised", EscalationRaised.Pattern)
	assert.Equal(t, "rxpilot.events.order.submitted", OrderSubmitted.Pattern)
	assert.Equal(t, "rxpilot.events.session.expired", SessionExpired.Pattern)
}

func TestEscalationRaisedEvent_RoundTrip(t *testing.T) {
	// The escalation notifier decodes this event off the stream, so the
	// wire shape is a consumer contract.
	event := EscalationRaisedEvent{
		SessionID:  "sess-abc",
		PatientID:  "patient-demo",
		Type:       "doctor",
		Reasons:    []string{"controlled_substance", "early_refill_request"},
		Message:    "This medication needs your prescriber's sign-off.",
		Medication: "oxycodone",
	}

	data, err := json.Marshal(&event)
	require.NoError(t, err)

	var decoded EscalationRaisedEvent
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.Equal(t, event, decoded)
}

func TestEventValidation(t *testing.T) {
	tests := []struct {
		name      string
		event     interface{ Validate() error }
		wantField string
	}{
		{
			name:  "valid transition",
			event: &StateTransitionedEvent{SessionID: "sess-1", To: "CONFIRM_DOSAGE"},
		},
		{
			name:      "transition missing session",
			event:     &StateTransitionedEvent{To: "CONFIRM_DOSAGE"},
			wantField: "session_id",
		},
		{
			name:      "transition missing target state",
			event:     &StateTransitionedEvent{SessionID: "sess-1"},
			wantField: "to",
		},
		{
			name:  "valid escalation",
			event: &EscalationRaisedEvent{SessionID: "sess-1", Type: "pharmacist"},
		},
		{
			name:      "escalation missing type",
			event:     &EscalationRaisedEvent{SessionID: "sess-1"},
			wantField: "type",
		},
		{
			name:  "valid order",
			event: &OrderSubmittedEvent{SessionID: "sess-1", OrderID: "ord-1234"},
		},
		{
			name:      "order missing id",
			event:     &OrderSubmittedEvent{SessionID: "sess-1"},
			wantField: "order_id",
		},
		{
			name:  "valid expiry",
			event: &SessionExpiredEvent{SessionID: "sess-1", ExpiredAt: time.Now()},
		},
		{
			name:      "expiry missing session",
			event:     &SessionExpiredEvent{},
			wantField: "session_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.wantField, vErr.Field)
		})
	}
}

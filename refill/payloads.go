package refill

import (
	"encoding/json"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
)

// Wire subjects for conversation traffic on the CONVERSATION stream.
const (
	// SubjectTurnRequest carries TurnRequestPayload messages into the agent.
	SubjectTurnRequest = "rxpilot.turn.request"

	// SubjectSessionCommand carries SessionCommandPayload messages (status,
	// reset, cancel) into the agent.
	SubjectSessionCommand = "rxpilot.session.command"
)

// Session command actions.
const (
	SessionActionSummary = "summary"
	SessionActionReset   = "reset"
)

// TurnRequestPayload is one patient utterance addressed to the refill agent.
// An empty SessionID starts a new conversation; the reply carries the
// assigned session id back to the caller.
type TurnRequestPayload struct {
	SessionID string `json:"session_id,omitempty"`
	PatientID string `json:"patient_id"`
	Text      string `json:"text"`

	// Routing fields for the user-facing reply.
	UserID      string `json:"user_id,omitempty"`
	ChannelType string `json:"channel_type,omitempty"`
	ChannelID   string `json:"channel_id,omitempty"`

	// Request tracking
	RequestID string `json:"request_id,omitempty"`
}

// Schema returns the message type for TurnRequestPayload.
func (p *TurnRequestPayload) Schema() message.Type {
	return TurnRequestType
}

// Validate validates the TurnRequestPayload.
func (p *TurnRequestPayload) Validate() error {
	if p.PatientID == "" {
		return &ValidationError{Field: "patient_id", Message: "patient_id is required"}
	}
	if p.Text == "" {
		return &ValidationError{Field: "text", Message: "text is required"}
	}
	return nil
}

// MarshalJSON marshals the TurnRequestPayload to JSON.
func (p *TurnRequestPayload) MarshalJSON() ([]byte, error) {
	type Alias TurnRequestPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the TurnRequestPayload from JSON.
func (p *TurnRequestPayload) UnmarshalJSON(data []byte) error {
	type Alias TurnRequestPayload
	return json.Unmarshal(data, (*Alias)(p))
}

// SessionCommandPayload is a session management request: a summary of where
// the conversation stands, or a reset back to the start of the flow.
type SessionCommandPayload struct {
	Action    string `json:"action"`
	SessionID string `json:"session_id"`

	// Routing fields for the user-facing reply.
	UserID      string `json:"user_id,omitempty"`
	ChannelType string `json:"channel_type,omitempty"`
	ChannelID   string `json:"channel_id,omitempty"`

	RequestID string `json:"request_id,omitempty"`
}

// Schema returns the message type for SessionCommandPayload.
func (p *SessionCommandPayload) Schema() message.Type {
	return SessionCommandType
}

// Validate validates the SessionCommandPayload.
func (p *SessionCommandPayload) Validate() error {
	if p.Action != SessionActionSummary && p.Action != SessionActionReset {
		return &ValidationError{Field: "action", Message: "action must be summary or reset"}
	}
	if p.SessionID == "" {
		return &ValidationError{Field: "session_id", Message: "session_id is required"}
	}
	return nil
}

// MarshalJSON marshals the SessionCommandPayload to JSON.
func (p *SessionCommandPayload) MarshalJSON() ([]byte, error) {
	type Alias SessionCommandPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the SessionCommandPayload from JSON.
func (p *SessionCommandPayload) UnmarshalJSON(data []byte) error {
	type Alias SessionCommandPayload
	return json.Unmarshal(data, (*Alias)(p))
}

// TurnRequestType is the message type for turn request payloads.
var TurnRequestType = message.Type{
	Domain:   "refill",
	Category: "turn",
	Version:  "v1",
}

// SessionCommandType is the message type for session command payloads.
var SessionCommandType = message.Type{
	Domain:   "refill",
	Category: "session_command",
	Version:  "v1",
}

func init() {
	if err := component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "refill",
		Category:    "turn",
		Version:     "v1",
		Description: "Patient utterance addressed to the refill agent",
		Factory:     func() any { return &TurnRequestPayload{} },
	}); err != nil {
		panic("failed to register TurnRequestPayload: " + err.Error())
	}

	if err := component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "refill",
		Category:    "session_command",
		Version:     "v1",
		Description: "Session summary or reset request for a refill conversation",
		Factory:     func() any { return &SessionCommandPayload{} },
	}); err != nil {
		panic("failed to register SessionCommandPayload: " + err.Error())
	}

	if err := component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "refill",
		Category:    "state_transitioned",
		Version:     "v1",
		Description: "Accepted conversation state transition",
		Factory:     func() any { return &StateTransitionedEvent{} },
	}); err != nil {
		panic("failed to register StateTransitionedEvent: " + err.Error())
	}

	if err := component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "refill",
		Category:    "escalation_raised",
		Version:     "v1",
		Description: "Conversation handed off to a pharmacist or prescriber",
		Factory:     func() any { return &EscalationRaisedEvent{} },
	}); err != nil {
		panic("failed to register EscalationRaisedEvent: " + err.Error())
	}

	if err := component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "refill",
		Category:    "order_submitted",
		Version:     "v1",
		Description: "Refill order accepted by the pharmacy gateway",
		Factory:     func() any { return &OrderSubmittedEvent{} },
	}); err != nil {
		panic("failed to register OrderSubmittedEvent: " + err.Error())
	}

	if err := component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "refill",
		Category:    "session_expired",
		Version:     "v1",
		Description: "Idle refill session evicted by the expiry sweep",
		Factory:     func() any { return &SessionExpiredEvent{} },
	}); err != nil {
		panic("failed to register SessionExpiredEvent: " + err.Error())
	}
}

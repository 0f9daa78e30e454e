// Typed NATS subject definitions for refill conversation domain events.
//
// Each event type gets its own subject under "rxpilot.events.<domain>.<action>",
// enabling type-safe subscribe and subject-based routing. Events are emitted by
// the refill agent as a conversation progresses; consumers (the escalation
// notifier, audit sinks) subscribe to the subjects they care about. On the
// wire each event rides in a BaseMessage envelope.

package refill

import (
	"encoding/json"
	"time"

	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"
)

// StateTransitionedEvent is published after every accepted state transition.
type StateTransitionedEvent struct {
	SessionID string `json:"session_id"`
	PatientID string `json:"patient_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Trigger   string `json:"trigger"`
}

// Schema returns the message type for StateTransitionedEvent.
func (e *StateTransitionedEvent) Schema() message.Type {
	return StateTransitionedType
}

// Validate validates the StateTransitionedEvent.
func (e *StateTransitionedEvent) Validate() error {
	if e.SessionID == "" {
		return &ValidationError{Field: "session_id", Message: "session_id is required"}
	}
	if e.To == "" {
		return &ValidationError{Field: "to", Message: "to is required"}
	}
	return nil
}

// MarshalJSON marshals the StateTransitionedEvent to JSON.
func (e *StateTransitionedEvent) MarshalJSON() ([]byte, error) {
	type Alias StateTransitionedEvent
	return json.Marshal((*Alias)(e))
}

// UnmarshalJSON unmarshals the StateTransitionedEvent from JSON.
func (e *StateTransitionedEvent) UnmarshalJSON(data []byte) error {
	type Alias StateTransitionedEvent
	return json.Unmarshal(data, (*Alias)(e))
}

// EscalationRaisedEvent is published when a conversation enters an
// escalation state and carries everything a notifier needs to route it.
type EscalationRaisedEvent struct {
	SessionID  string   `json:"session_id"`
	PatientID  string   `json:"patient_id"`
	Type       string   `json:"type"`
	Reasons    []string `json:"reasons,omitempty"`
	Message    string   `json:"message,omitempty"`
	Medication string   `json:"medication,omitempty"`
}

// Schema returns the message type for EscalationRaisedEvent.
func (e *EscalationRaisedEvent) Schema() message.Type {
	return EscalationRaisedType
}

// Validate validates the EscalationRaisedEvent.
func (e *EscalationRaisedEvent) Validate() error {
	if e.SessionID == "" {
		return &ValidationError{Field: "session_id", Message: "session_id is required"}
	}
	if e.Type == "" {
		return &ValidationError{Field: "type", Message: "type is required"}
	}
	return nil
}

// MarshalJSON marshals the EscalationRaisedEvent to JSON.
func (e *EscalationRaisedEvent) MarshalJSON() ([]byte, error) {
	type Alias EscalationRaisedEvent
	return json.Marshal((*Alias)(e))
}

// UnmarshalJSON unmarshals the EscalationRaisedEvent from JSON.
func (e *EscalationRaisedEvent) UnmarshalJSON(data []byte) error {
	type Alias EscalationRaisedEvent
	return json.Unmarshal(data, (*Alias)(e))
}

// OrderSubmittedEvent is published when a refill order is accepted by the
// pharmacy gateway.
type OrderSubmittedEvent struct {
	SessionID      string    `json:"session_id"`
	PatientID      string    `json:"patient_id"`
	OrderID        string    `json:"order_id"`
	Medication     string    `json:"medication"`
	Dosage         string    `json:"dosage,omitempty"`
	PharmacyID     string    `json:"pharmacy_id"`
	EstimatedReady time.Time `json:"estimated_ready"`
}

// Schema returns the message type for OrderSubmittedEvent.
func (e *OrderSubmittedEvent) Schema() message.Type {
	return OrderSubmittedType
}

// Validate validates the OrderSubmittedEvent.
func (e *OrderSubmittedEvent) Validate() error {
	if e.SessionID == "" {
		return &ValidationError{Field: "session_id", Message: "session_id is required"}
	}
	if e.OrderID == "" {
		return &ValidationError{Field: "order_id", Message: "order_id is required"}
	}
	return nil
}

// MarshalJSON marshals the OrderSubmittedEvent to JSON.
func (e *OrderSubmittedEvent) MarshalJSON() ([]byte, error) {
	type Alias OrderSubmittedEvent
	return json.Marshal((*Alias)(e))
}

// UnmarshalJSON unmarshals the OrderSubmittedEvent from JSON.
func (e *OrderSubmittedEvent) UnmarshalJSON(data []byte) error {
	type Alias OrderSubmittedEvent
	return json.Unmarshal(data, (*Alias)(e))
}

// SessionExpiredEvent is published when the idle sweep evicts a session.
type SessionExpiredEvent struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state,omitempty"`
	ExpiredAt time.Time `json:"expired_at"`
}

// Schema returns the message type for SessionExpiredEvent.
func (e *SessionExpiredEvent) Schema() message.Type {
	return SessionExpiredType
}

// Validate validates the SessionExpiredEvent.
func (e *SessionExpiredEvent) Validate() error {
	if e.SessionID == "" {
		return &ValidationError{Field: "session_id", Message: "session_id is required"}
	}
	return nil
}

// MarshalJSON marshals the SessionExpiredEvent to JSON.
func (e *SessionExpiredEvent) MarshalJSON() ([]byte, error) {
	type Alias SessionExpiredEvent
	return json.Marshal((*Alias)(e))
}

// UnmarshalJSON unmarshals the SessionExpiredEvent from JSON.
func (e *SessionExpiredEvent) UnmarshalJSON(data []byte) error {
	type Alias SessionExpiredEvent
	return json.Unmarshal(data, (*Alias)(e))
}

// Message types for refill domain events.
var (
	// StateTransitionedType is the message type for transition events.
	StateTransitionedType = message.Type{
		Domain:   "refill",
		Category: "state_transitioned",
		Version:  "v1",
	}

	// EscalationRaisedType is the message type for escalation events.
	EscalationRaisedType = message.Type{
		Domain:   "refill",
		Category: "escalation_raised",
		Version:  "v1",
	}

	// OrderSubmittedType is the message type for order submission events.
	OrderSubmittedType = message.Type{
		Domain:   "refill",
		Category: "order_submitted",
		Version:  "v1",
	}

	// SessionExpiredType is the message type for session expiry events.
	SessionExpiredType = message.Type{
		Domain:   "refill",
		Category: "session_expired",
		Version:  "v1",
	}
)

// Typed subject definitions for refill domain events.
// These provide compile-time type safety for NATS publish/subscribe operations.
var (
	StateTransitioned = natsclient.NewSubject[StateTransitionedEvent](
		"rxpilot.events.state.transitioned")
	EscalationRaised = natsclient.NewSubject[EscalationRaisedEvent](
		"rxpilot.events.escalation.raised")
	OrderSubmitted = natsclient.NewSubject[OrderSubmittedEvent](
		"rxpilot.events.order.submitted")
	SessionExpired = natsclient.NewSubject[SessionExpiredEvent](
		"rxpilot.events.session.expired")
)

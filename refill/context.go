package refill

import (
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/rxpilot/escalation"
)

// ConversationContext is the full working state of one refill
// conversation. The orchestrator mutates a Clone and swaps it into the
// store only when a turn fully succeeds.
type ConversationContext struct {
	// SessionID uniquely identifies the conversation.
	SessionID string `json:"session_id"`

	// PatientID is the opaque patient identifier. No identity
	// verification happens here.
	PatientID string `json:"patient_id"`

	// CurrentState is the conversation's position in the refill flow.
	CurrentState State `json:"current_state"`

	// Medication is the medication slot, filled as the request resolves.
	Medication *MedicationSlot `json:"medication,omitempty"`

	// Dosage is the confirmed dosage string (e.g. "500 mg").
	Dosage string `json:"dosage,omitempty"`

	// Pharmacy is the selected pharmacy.
	Pharmacy *PharmacySlot `json:"pharmacy,omitempty"`

	// Insurance carries coverage details gathered during authorization.
	Insurance *InsuranceInfo `json:"insurance,omitempty"`

	// Order holds submission details once an order exists.
	Order *OrderDetails `json:"order,omitempty"`

	// Escalation is the policy result when the conversation escalated.
	Escalation *escalation.Result `json:"escalation,omitempty"`

	// History is the append-only turn log. Records are never mutated.
	History []TurnRecord `json:"history"`

	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"created_at"`

	// LastUpdated is bumped on every accepted transition and turn.
	LastUpdated time.Time `json:"last_updated"`
}

// NewConversationContext creates a fresh context at START.
func NewConversationContext(patientID string) *ConversationContext {
	now := time.Now().UTC()
	return &ConversationContext{
		SessionID:    "sess-" + uuid.New().String(),
		PatientID:    patientID,
		CurrentState: StateStart,
		History:      []TurnRecord{},
		CreatedAt:    now,
		LastUpdated:  now,
	}
}

// Clone returns a deep copy. Slices and nested pointers never alias the
// original, so a failed turn cannot leak partial writes into the store.
func (c *ConversationContext) Clone() *ConversationContext {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Medication != nil {
		med := *c.Medication
		med.Candidates = append([]MedicationCandidate(nil), c.Medication.Candidates...)
		cp.Medication = &med
	}
	if c.Pharmacy != nil {
		ph := *c.Pharmacy
		cp.Pharmacy = &ph
	}
	if c.Insurance != nil {
		ins := *c.Insurance
		cp.Insurance = &ins
	}
	if c.Order != nil {
		ord := *c.Order
		cp.Order = &ord
	}
	if c.Escalation != nil {
		esc := *c.Escalation
		esc.Reasons = append([]escalation.ReasonCode(nil), c.Escalation.Reasons...)
		esc.NextSteps = append([]string(nil), c.Escalation.NextSteps...)
		cp.Escalation = &esc
	}
	cp.History = make([]TurnRecord, len(c.History))
	for i, rec := range c.History {
		cp.History[i] = rec
		cp.History[i].ToolCalls = append([]ToolCall(nil), rec.ToolCalls...)
	}
	return &cp
}

// AppendTurn adds a completed turn to the history.
func (c *ConversationContext) AppendTurn(rec TurnRecord) {
	c.History = append(c.History, rec)
}

// Reset zeroes the conversation back to START. The session id, patient
// id, and creation time survive; slots and history do not.
func (c *ConversationContext) Reset() {
	c.CurrentState = StateStart
	c.Medication = nil
	c.Dosage = ""
	c.Pharmacy = nil
	c.Insurance = nil
	c.Order = nil
	c.Escalation = nil
	c.History = []TurnRecord{}
	c.LastUpdated = time.Now().UTC()
}

// MedicationSlot is the medication the conversation is resolving.
type MedicationSlot struct {
	// Name is the medication name as resolved against the patient list.
	Name string `json:"name"`

	// Dosage is the prescription dosage (e.g. "500 mg").
	Dosage string `json:"dosage,omitempty"`

	// RxCUI is the RxNorm concept identifier, when known.
	RxCUI string `json:"rxcui,omitempty"`

	// Ambiguous is true while more than one candidate matches.
	Ambiguous bool `json:"ambiguous"`

	// Candidates holds the possible matches while Ambiguous is true.
	Candidates []MedicationCandidate `json:"candidates,omitempty"`

	// RefillsRemaining is the refill count left on the prescription.
	RefillsRemaining int `json:"refills_remaining"`

	// PrescriptionExpired is true when the prescription has lapsed.
	PrescriptionExpired bool `json:"prescription_expired"`

	// ControlledSubstance is true for DEA-scheduled medications.
	ControlledSubstance bool `json:"controlled_substance"`

	// LastFilled is when the prescription was last dispensed. Zero when
	// never filled.
	LastFilled time.Time `json:"last_filled"`

	// DaysSupply is the typical supply duration of one fill, in days.
	DaysSupply int `json:"days_supply,omitempty"`
}

// Facts maps the slot onto the escalation policy's input view.
// Returns nil when the slot is empty, which the policy reads as
// medication-not-found.
func (m *MedicationSlot) Facts() *escalation.MedicationFacts {
	if m == nil || m.Name == "" {
		return nil
	}
	return &escalation.MedicationFacts{
		Name:                m.Name,
		RefillsRemaining:    m.RefillsRemaining,
		PrescriptionExpired: m.PrescriptionExpired,
		ControlledSubstance: m.ControlledSubstance,
		LastFilled:          m.LastFilled,
		DaysSupply:          m.DaysSupply,
	}
}

// MedicationCandidate is one possible match for an ambiguous request.
type MedicationCandidate struct {
	// Name is the candidate medication name.
	Name string `json:"name"`

	// Dosage is the candidate's prescription dosage.
	Dosage string `json:"dosage,omitempty"`

	// RxCUI is the RxNorm concept identifier, when known.
	RxCUI string `json:"rxcui,omitempty"`
}

// PharmacySlot is the pharmacy chosen to fill the order.
type PharmacySlot struct {
	// ID is the pharmacy identifier (NCPDP id in real deployments).
	ID string `json:"id"`

	// Name is the display name.
	Name string `json:"name"`

	// Address is the street address.
	Address string `json:"address,omitempty"`

	// Phone is the pharmacy contact number.
	Phone string `json:"phone,omitempty"`

	// PriceCents is the quoted patient price, when a quote was obtained.
	PriceCents int `json:"price_cents,omitempty"`
}

// InsuranceInfo carries the coverage details gathered at authorization.
type InsuranceInfo struct {
	// PlanID identifies the patient's insurance plan.
	PlanID string `json:"plan_id,omitempty"`

	// Covered is true when the formulary covers the medication.
	Covered bool `json:"covered"`

	// PriorAuthRequired is true when the plan demands prior authorization.
	PriorAuthRequired bool `json:"prior_auth_required"`

	// CopayCents is the plan copay for the medication.
	CopayCents int `json:"copay_cents,omitempty"`
}

// OrderDetails records a submitted refill order.
type OrderDetails struct {
	// OrderID is the ledger identifier of the submitted order.
	OrderID string `json:"order_id"`

	// PharmacyID is where the order was routed.
	PharmacyID string `json:"pharmacy_id"`

	// Medication and Dosage snapshot what was ordered.
	Medication string `json:"medication"`
	Dosage     string `json:"dosage,omitempty"`

	// EstimatedReady is when the pharmacy expects the fill to be ready.
	EstimatedReady time.Time `json:"estimated_ready"`

	// SubmittedAt is when the order was accepted.
	SubmittedAt time.Time `json:"submitted_at"`
}

// TurnRecord is one entry in the append-only conversation history.
type TurnRecord struct {
	// Timestamp is when the turn completed.
	Timestamp time.Time `json:"timestamp"`

	// UserText is the raw patient utterance for the turn.
	UserText string `json:"user_text"`

	// Trigger is the trigger the turn computed, empty if none fired.
	Trigger Trigger `json:"trigger,omitempty"`

	// PriorState and NewState bracket the turn's transition. Equal when
	// the turn did not move the conversation.
	PriorState State `json:"prior_state"`
	NewState   State `json:"new_state"`

	// ToolCalls lists the capabilities invoked during the turn.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall names one capability invocation and its outcome.
type ToolCall struct {
	// Tool is the capability name (e.g. "lookup_patient_medications").
	Tool string `json:"tool"`

	// Outcome is a short result tag: ok, empty, error, timeout.
	Outcome string `json:"outcome"`

	// DurationMs is the call duration in milliseconds.
	DurationMs int64 `json:"duration_ms,omitempty"`
}

// Summary is the redacted view of a session returned to callers that
// should not see the full context.
type Summary struct {
	SessionID      string    `json:"session_id"`
	PatientID      string    `json:"patient_id"`
	State          State     `json:"state"`
	Medication     string    `json:"medication,omitempty"`
	Dosage         string    `json:"dosage,omitempty"`
	Pharmacy       string    `json:"pharmacy,omitempty"`
	OrderID        string    `json:"order_id,omitempty"`
	EscalationType string    `json:"escalation_type,omitempty"`
	Turns          int       `json:"turns"`
	CreatedAt      time.Time `json:"created_at"`
	LastUpdated    time.Time `json:"last_updated"`
}

// Summarize builds the redacted summary view.
func (c *ConversationContext) Summarize() Summary {
	s := Summary{
		SessionID:   c.SessionID,
		PatientID:   c.PatientID,
		State:       c.CurrentState,
		Turns:       len(c.History),
		CreatedAt:   c.CreatedAt,
		LastUpdated: c.LastUpdated,
	}
	if c.Medication != nil {
		s.Medication = c.Medication.Name
	}
	s.Dosage = c.Dosage
	if c.Pharmacy != nil {
		s.Pharmacy = c.Pharmacy.Name
	}
	if c.Order != nil {
		s.OrderID = c.Order.OrderID
	}
	if c.Escalation != nil && c.Escalation.Needed {
		s.EscalationType = c.Escalation.Type.String()
	}
	return s
}

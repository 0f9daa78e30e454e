// Package intent classifies patient messages in a refill conversation.
// Classification is deterministic rule matching by default; an optional
// LLM classifier layers on top and falls back to the rules on any
// transport or parse failure, so classification itself never fails a turn.
package intent

import "context"

// Intent is the classified meaning of a patient message.
type Intent string

const (
	// IntentRefillRequest is an initial request to refill a medication.
	IntentRefillRequest Intent = "refill_request"

	// IntentMedicationName names or picks a medication (answering
	// "which medication?" or choosing among candidates).
	IntentMedicationName Intent = "medication_name"

	// IntentAffirmation is a yes/confirm answer.
	IntentAffirmation Intent = "affirmation"

	// IntentNegation is a no/deny answer.
	IntentNegation Intent = "negation"

	// IntentPharmacyChoice picks a pharmacy from the presented options.
	IntentPharmacyChoice Intent = "pharmacy_choice"

	// IntentCancel abandons the refill request.
	IntentCancel Intent = "cancel"

	// IntentRestart asks to start the conversation over.
	IntentRestart Intent = "restart"

	// IntentRetry asks to try again after an error.
	IntentRetry Intent = "retry"

	// IntentUnknown is anything the classifier cannot place.
	IntentUnknown Intent = "unknown"
)

// String returns the string representation.
func (i Intent) String() string {
	return string(i)
}

// IsValid checks if the intent is one of the defined values.
func (i Intent) IsValid() bool {
	switch i {
	case IntentRefillRequest, IntentMedicationName, IntentAffirmation,
		IntentNegation, IntentPharmacyChoice, IntentCancel,
		IntentRestart, IntentRetry, IntentUnknown:
		return true
	}
	return false
}

// ParseIntent converts a string to an Intent. Returns IntentUnknown
// for unrecognized values.
func ParseIntent(s string) Intent {
	i := Intent(s)
	if i.IsValid() {
		return i
	}
	return IntentUnknown
}

// Turn is the classifier's view of the conversation at the moment a
// message arrives. It carries only what classification needs, so the
// classifier stays decoupled from the session machinery.
type Turn struct {
	// State is the conversation state name (informational, included in
	// LLM prompts).
	State string

	// Candidates are medication names currently offered to the patient,
	// in presentation order. Non-empty when the conversation is
	// disambiguating.
	Candidates []string

	// Pharmacies are pharmacy names currently offered, in presentation
	// order.
	Pharmacies []string

	// ExpectingMedication is true when the conversation just asked the
	// patient which medication they need. Free text is then read as a
	// medication name rather than as noise.
	ExpectingMedication bool
}

// Classifier determines the intent of a patient message.
type Classifier interface {
	// Classify returns the intent and a confidence in [0, 1].
	Classify(ctx context.Context, text string, turn Turn) (Intent, float64, error)
}

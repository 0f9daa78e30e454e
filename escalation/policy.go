// Package escalation decides when a refill request must leave the
// automated flow and reach a human. The policy is a pure, ordered rule
// evaluation over a medication record and drug-interaction signals. It
// performs no I/O; callers supply the evaluation time.
package escalation

import "time"

// Type identifies who handles an escalated refill.
type Type string

const (
	// TypeNone means no escalation is needed.
	TypeNone Type = "none"
	// TypePharmacist routes the refill to a pharmacist for manual review.
	TypePharmacist Type = "pharmacist"
	// TypeDoctor routes the refill to the prescribing doctor's office.
	TypeDoctor Type = "doctor"
)

// String returns the string representation of the escalation type.
func (t Type) String() string {
	return string(t)
}

// IsValid returns true if the type is a known escalation target.
func (t Type) IsValid() bool {
	switch t {
	case TypeNone, TypePharmacist, TypeDoctor:
		return true
	default:
		return false
	}
}

// ReasonCode identifies why a refill was escalated.
type ReasonCode string

const (
	// ReasonMedicationNotFound fires when the medication is not on the
	// patient's list.
	ReasonMedicationNotFound ReasonCode = "medication_not_found"
	// ReasonNoRefillsRemaining fires when the prescription has no refills
	// left.
	ReasonNoRefillsRemaining ReasonCode = "no_refills_remaining"
	// ReasonPrescriptionExpired fires when the prescription has expired.
	ReasonPrescriptionExpired ReasonCode = "prescription_expired"
	// ReasonControlledSubstance fires for scheduled medications, which
	// always need prescriber review.
	ReasonControlledSubstance ReasonCode = "controlled_substance"
	// ReasonEarlyRefillRequest fires when the refill arrives before the
	// configured fraction of the supply period has elapsed.
	ReasonEarlyRefillRequest ReasonCode = "early_refill_request"
	// ReasonDrugInteractionConcern fires when an interaction signal meets
	// the configured severity threshold.
	ReasonDrugInteractionConcern ReasonCode = "drug_interaction_concern"
	// ReasonPriorAuthRequired fires when the insurance plan demands prior
	// authorization. Raised from formulary answers by the conversation
	// layer; Evaluate never produces it.
	ReasonPriorAuthRequired ReasonCode = "prior_auth_required"
)

// String returns the string representation of the reason code.
func (r ReasonCode) String() string {
	return string(r)
}

// Tier returns the escalation target this reason demands on its own.
func (r ReasonCode) Tier() Type {
	switch r {
	case ReasonNoRefillsRemaining, ReasonPrescriptionExpired, ReasonControlledSubstance:
		return TypeDoctor
	case ReasonMedicationNotFound, ReasonEarlyRefillRequest,
		ReasonDrugInteractionConcern, ReasonPriorAuthRequired:
		return TypePharmacist
	default:
		return TypeNone
	}
}

// MedicationFacts is the slice of a patient's medication record the
// policy evaluates. A nil *MedicationFacts means the medication was not
// found on the patient's list.
type MedicationFacts struct {
	// Name is the resolved medication name.
	Name string `json:"name"`

	// RefillsRemaining is the count of refills left on the prescription.
	RefillsRemaining int `json:"refills_remaining"`

	// PrescriptionExpired is true when the prescription validity period
	// has lapsed.
	PrescriptionExpired bool `json:"prescription_expired"`

	// ControlledSubstance is true for DEA-scheduled medications.
	ControlledSubstance bool `json:"controlled_substance"`

	// LastFilled is when the prescription was last dispensed. Zero when
	// never filled.
	LastFilled time.Time `json:"last_filled"`

	// DaysSupply is the typical supply duration of one fill, in days.
	DaysSupply int `json:"days_supply"`
}

// InteractionSignal is one drug-interaction finding for the requested
// medication against the rest of the patient's list.
type InteractionSignal struct {
	// OtherMedication is the interacting medication.
	OtherMedication string `json:"other_medication"`

	// Severity grades the interaction.
	Severity Severity `json:"severity"`

	// Note is a short clinical description of the interaction.
	Note string `json:"note,omitempty"`
}

// Result is the outcome of a policy evaluation.
type Result struct {
	// Needed is true when the refill must leave the automated flow.
	Needed bool `json:"needed"`

	// Type is who handles the escalation. TypeNone when Needed is false.
	Type Type `json:"type"`

	// Reasons lists every rule that fired, in rule order.
	Reasons []ReasonCode `json:"reasons,omitempty"`

	// Message is patient-facing text for the primary reason.
	Message string `json:"message,omitempty"`

	// ContactInfo tells the patient who to reach.
	ContactInfo string `json:"contact_info,omitempty"`

	// NextSteps lists what happens after the hand-off.
	NextSteps []string `json:"next_steps,omitempty"`
}

// Policy holds the tunable escalation thresholds. The zero value is not
// usable; construct with DefaultPolicy and override fields from config.
type Policy struct {
	// EarlyRefillFraction is the fraction of the supply period that must
	// elapse before an automated refill is allowed.
	EarlyRefillFraction float64

	// MinSeverity is the lowest interaction severity that blocks the
	// automated flow.
	MinSeverity Severity

	// Contacts maps reasons to patient guidance.
	Contacts Directory
}

// DefaultPolicy returns the standard thresholds: refills allowed after
// 75% of the supply period, interactions block at moderate severity.
func DefaultPolicy() Policy {
	return Policy{
		EarlyRefillFraction: 0.75,
		MinSeverity:         SeverityModerate,
		Contacts:            DefaultDirectory(),
	}
}

// Validate reports whether the policy thresholds are usable.
func (p Policy) Validate() error {
	if p.EarlyRefillFraction <= 0 || p.EarlyRefillFraction > 1 {
		return &ThresholdError{Field: "early_refill_fraction", Message: "must be in (0, 1]"}
	}
	if !p.MinSeverity.IsValid() {
		return &ThresholdError{Field: "min_severity", Message: "unknown severity grade"}
	}
	return nil
}

// Evaluate runs the ordered escalation rules. It is deterministic and
// side-effect free: the same inputs always produce the same result.
// Rules are evaluated in a fixed order and every matching reason is
// collected; the escalation type is doctor if any doctor-tier reason
// fired, otherwise pharmacist.
func (p Policy) Evaluate(med *MedicationFacts, signals []InteractionSignal, now time.Time) Result {
	var reasons []ReasonCode

	if med == nil {
		reasons = append(reasons, ReasonMedicationNotFound)
	} else {
		if med.RefillsRemaining == 0 {
			reasons = append(reasons, ReasonNoRefillsRemaining)
		}
		if med.PrescriptionExpired {
			reasons = append(reasons, ReasonPrescriptionExpired)
		}
		if med.ControlledSubstance {
			reasons = append(reasons, ReasonControlledSubstance)
		}
		if p.isEarlyRefill(med, now) {
			reasons = append(reasons, ReasonEarlyRefillRequest)
		}
	}

	for _, sig := range signals {
		if sig.Severity.AtLeast(p.MinSeverity) {
			reasons = append(reasons, ReasonDrugInteractionConcern)
			break
		}
	}

	if len(reasons) == 0 {
		return Result{Needed: false, Type: TypeNone}
	}

	target := TypePharmacist
	for _, r := range reasons {
		if r.Tier() == TypeDoctor {
			target = TypeDoctor
			break
		}
	}

	guidance := p.Contacts.Lookup(reasons[0], target)
	return Result{
		Needed:      true,
		Type:        target,
		Reasons:     reasons,
		Message:     guidance.Message,
		ContactInfo: guidance.ContactInfo,
		NextSteps:   guidance.NextSteps,
	}
}

// isEarlyRefill reports whether less than EarlyRefillFraction of the
// supply period has elapsed since the last fill. Never-filled
// prescriptions and unknown supply durations are not early.
func (p Policy) isEarlyRefill(med *MedicationFacts, now time.Time) bool {
	if med.LastFilled.IsZero() || med.DaysSupply <= 0 {
		return false
	}
	supply := time.Duration(med.DaysSupply) * 24 * time.Hour
	threshold := time.Duration(float64(supply) * p.EarlyRefillFraction)
	return now.Sub(med.LastFilled) < threshold
}

// ThresholdError reports an invalid policy threshold.
type ThresholdError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ThresholdError) Error() string {
	return "escalation policy " + e.Field + ": " + e.Message
}

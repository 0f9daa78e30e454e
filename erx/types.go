// Package erx defines the pharmacy capability surface the refill
// conversation depends on: medication lookup, drug interactions,
// formulary checks, pharmacy search, and order submission. Demo
// implementations run against an in-memory catalog; real deployments
// swap in network-backed ones behind the same interfaces.
package erx

import (
	"context"
	"errors"
	"time"

	"github.com/c360studio/rxpilot/escalation"
)

// Capability names, used in turn records and latency metrics.
const (
	ToolLookupPatientMedications = "lookup_patient_medications"
	ToolLookupDrugInteractions   = "lookup_drug_interactions"
	ToolVerifyMedication         = "verify_medication"
	ToolCheckInsuranceFormulary  = "check_insurance_formulary"
	ToolFindPharmacies           = "find_pharmacies"
	ToolGetPrices                = "get_prices"
	ToolSubmitOrder              = "submit_order"
	ToolGenerateReply            = "generate_reply"
)

// Pharmacy type tags, following NCPDP vocabulary.
const (
	PharmacyTypeRetail       = "retail"
	PharmacyTypeMailOrder    = "mail_order"
	PharmacyTypeTwentyFourHr = "twenty_four_hour"
	PharmacyTypeSpecialty    = "specialty"
	PharmacyTypeLongTermCare = "long_term_care"
)

// ErrNotFound is returned when a lookup has no match.
var ErrNotFound = errors.New("not found")

// Medication is one prescription on a patient's profile.
type Medication struct {
	// Name is the dispensed medication name.
	Name string `json:"name" yaml:"name"`

	// Dosage is the prescription strength (e.g. "500 mg").
	Dosage string `json:"dosage" yaml:"dosage"`

	// RxCUI is the RxNorm concept identifier.
	RxCUI string `json:"rxcui,omitempty" yaml:"rxcui,omitempty"`

	// Aliases are alternate names and condition tags the patient may use
	// ("blood pressure", brand names).
	Aliases []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`

	// RefillsRemaining is the refill count left on the prescription.
	RefillsRemaining int `json:"refills_remaining" yaml:"refills_remaining"`

	// PrescriptionExpired is true when the validity period has lapsed.
	PrescriptionExpired bool `json:"prescription_expired" yaml:"prescription_expired"`

	// ControlledSubstance is true for DEA-scheduled medications.
	ControlledSubstance bool `json:"controlled_substance" yaml:"controlled_substance"`

	// LastFilled is when the prescription was last dispensed.
	LastFilled time.Time `json:"last_filled" yaml:"last_filled"`

	// DaysSupply is the typical supply duration of one fill, in days.
	DaysSupply int `json:"days_supply" yaml:"days_supply"`
}

// Pharmacy is one dispensing location.
type Pharmacy struct {
	// ID is the pharmacy identifier (NCPDP id in real deployments).
	ID string `json:"id" yaml:"id"`

	// Name is the display name.
	Name string `json:"name" yaml:"name"`

	// Type tags the pharmacy kind (retail, mail_order, ...).
	Type string `json:"type,omitempty" yaml:"type,omitempty"`

	// Address is the street address.
	Address string `json:"address,omitempty" yaml:"address,omitempty"`

	// Phone is the contact number.
	Phone string `json:"phone,omitempty" yaml:"phone,omitempty"`
}

// Quote is a patient price for a medication at one pharmacy.
type Quote struct {
	PharmacyID string `json:"pharmacy_id"`
	PriceCents int    `json:"price_cents"`
}

// FormularyStatus is the insurance coverage answer for a medication.
type FormularyStatus struct {
	// PlanID identifies the plan that answered.
	PlanID string `json:"plan_id,omitempty"`

	// Covered is true when the formulary includes the medication.
	Covered bool `json:"covered"`

	// PriorAuthRequired is true when the plan demands prior authorization
	// before dispensing.
	PriorAuthRequired bool `json:"prior_auth_required"`

	// CopayCents is the plan copay.
	CopayCents int `json:"copay_cents,omitempty"`
}

// VerifiedMedication is the answer to a name+dosage verification.
type VerifiedMedication struct {
	Name   string `json:"name"`
	Dosage string `json:"dosage"`
	RxCUI  string `json:"rxcui,omitempty"`

	// DosageKnown is true when the dosage matches the prescription on
	// file.
	DosageKnown bool `json:"dosage_known"`
}

// MedicationDirectory resolves patient requests against their
// medication list.
type MedicationDirectory interface {
	// FindForPatient returns the medications on the patient's profile
	// matching the free-text query. An empty query returns the full list.
	FindForPatient(ctx context.Context, patientID, query string) ([]Medication, error)

	// VerifyMedication checks a resolved name and dosage against the
	// patient's prescription on file.
	VerifyMedication(ctx context.Context, patientID, name, dosage string) (VerifiedMedication, error)
}

// Interactions reports drug-interaction signals for a medication
// against the rest of the patient's list.
type Interactions interface {
	Lookup(ctx context.Context, patientID, medication string) ([]escalation.InteractionSignal, error)
}

// Formulary answers insurance coverage questions.
type Formulary interface {
	Check(ctx context.Context, patientID, medication string) (FormularyStatus, error)
}

// PharmacyDirectory searches dispensing locations and prices.
type PharmacyDirectory interface {
	// Find returns pharmacies available to the patient. The hint narrows
	// by name, type, or ordinal phrasing and may be empty.
	Find(ctx context.Context, patientID, hint string) ([]Pharmacy, error)

	// Prices quotes the patient price at each pharmacy.
	Prices(ctx context.Context, medication string, pharmacies []Pharmacy) ([]Quote, error)
}

// OrderGateway submits refill orders to the pharmacy network.
type OrderGateway interface {
	Submit(ctx context.Context, order Order) (OrderConfirmation, error)
}

// OrderConfirmation is the gateway's acceptance of an order.
type OrderConfirmation struct {
	OrderID        string    `json:"order_id"`
	EstimatedReady time.Time `json:"estimated_ready"`
}

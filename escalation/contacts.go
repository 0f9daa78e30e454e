package escalation

// Guidance is the patient-facing hand-off text for one escalation reason.
type Guidance struct {
	// Message explains why the automated refill stopped.
	Message string `json:"message"`

	// ContactInfo tells the patient who to reach.
	ContactInfo string `json:"contact_info"`

	// NextSteps lists what happens after the hand-off.
	NextSteps []string `json:"next_steps"`
}

// Directory maps escalation reasons to guidance. Deployments override
// entries from config; missing reasons fall back to a generic message
// for the escalation target.
type Directory struct {
	// ByReason holds per-reason guidance.
	ByReason map[ReasonCode]Guidance `json:"by_reason" yaml:"by_reason"`

	// DoctorFallback covers doctor-tier reasons without an entry.
	DoctorFallback Guidance `json:"doctor_fallback" yaml:"doctor_fallback"`

	// PharmacistFallback covers pharmacist-tier reasons without an entry.
	PharmacistFallback Guidance `json:"pharmacist_fallback" yaml:"pharmacist_fallback"`
}

// Lookup returns the guidance for a reason, falling back to the generic
// guidance for the escalation target.
func (d Directory) Lookup(reason ReasonCode, target Type) Guidance {
	if g, ok := d.ByReason[reason]; ok {
		return g
	}
	if target == TypeDoctor {
		return d.DoctorFallback
	}
	return d.PharmacistFallback
}

// DefaultDirectory returns the built-in hand-off guidance.
func DefaultDirectory() Directory {
	return Directory{
		ByReason: map[ReasonCode]Guidance{
			ReasonMedicationNotFound: {
				Message:     "I couldn't find that medication on your profile, so I've asked a pharmacist to take a look.",
				ContactInfo: "Pharmacy help desk: (555) 010-7246",
				NextSteps: []string{
					"A pharmacist will review your medication list within one business day.",
					"Have your prescription bottle handy in case they call.",
				},
			},
			ReasonNoRefillsRemaining: {
				Message:     "That prescription has no refills remaining, so your doctor needs to authorize a new one.",
				ContactInfo: "Prescriber's office via the number on your prescription label",
				NextSteps: []string{
					"We've sent a renewal request to your doctor's office.",
					"Renewals are typically approved within 2-3 business days.",
				},
			},
			ReasonPrescriptionExpired: {
				Message:     "That prescription has expired, so your doctor needs to write a new one before we can fill it.",
				ContactInfo: "Prescriber's office via the number on your prescription label",
				NextSteps: []string{
					"We've sent a renewal request to your doctor's office.",
					"You may need a visit before the renewal is approved.",
				},
			},
			ReasonControlledSubstance: {
				Message:     "That medication is a controlled substance, so refills always go through your doctor.",
				ContactInfo: "Prescriber's office via the number on your prescription label",
				NextSteps: []string{
					"Your doctor's office has been notified of the request.",
					"Controlled substance refills may require an appointment.",
				},
			},
			ReasonEarlyRefillRequest: {
				Message:     "It's a little early for this refill, so a pharmacist will review the request.",
				ContactInfo: "Pharmacy help desk: (555) 010-7246",
				NextSteps: []string{
					"A pharmacist will check the fill history and insurance rules.",
					"If you're traveling, mention it - vacation overrides are common.",
				},
			},
			ReasonDrugInteractionConcern: {
				Message:     "I spotted a possible interaction with another medication you take, so a pharmacist will review it first.",
				ContactInfo: "Pharmacy help desk: (555) 010-7246",
				NextSteps: []string{
					"A pharmacist will review the interaction before dispensing.",
					"They may call you or your doctor to confirm it's safe.",
				},
			},
			ReasonPriorAuthRequired: {
				Message:     "Your insurance plan requires prior authorization for this medication before we can fill it.",
				ContactInfo: "Member services via the number on your insurance card",
				NextSteps: []string{
					"We've started the prior authorization request with your plan.",
					"Approvals typically take 3-5 business days.",
				},
			},
		},
		DoctorFallback: Guidance{
			Message:     "This refill needs your doctor's sign-off before we can process it.",
			ContactInfo: "Prescriber's office via the number on your prescription label",
			NextSteps:   []string{"Your doctor's office has been notified of the request."},
		},
		PharmacistFallback: Guidance{
			Message:     "This refill needs a pharmacist's review before we can process it.",
			ContactInfo: "Pharmacy help desk: (555) 010-7246",
			NextSteps:   []string{"A pharmacist will review the request within one business day."},
		},
	}
}

// Package refill implements the prescription refill conversation engine:
// the conversation state machine, session context records, the in-memory
// session store, and the turn orchestrator that binds them to the
// pharmacy capability layer.
package refill

// State represents the current position of a refill conversation.
type State string

const (
	// StateStart is the entry state before a medication has been mentioned.
	StateStart State = "START"
	// StateIdentifyMedication indicates the patient's request is being
	// resolved against their medication list.
	StateIdentifyMedication State = "IDENTIFY_MEDICATION"
	// StateClarifyMedication indicates the request matched more than one
	// medication and the patient is being asked to disambiguate.
	StateClarifyMedication State = "CLARIFY_MEDICATION"
	// StateConfirmDosage indicates the medication is resolved and the
	// dosage is being confirmed with the patient.
	StateConfirmDosage State = "CONFIRM_DOSAGE"
	// StateCheckAuthorization indicates formulary, interaction, and
	// escalation checks are running for the confirmed medication.
	StateCheckAuthorization State = "CHECK_AUTHORIZATION"
	// StateSelectPharmacy indicates the patient is choosing a pharmacy.
	StateSelectPharmacy State = "SELECT_PHARMACY"
	// StateConfirmOrder indicates the assembled order is awaiting the
	// patient's final confirmation.
	StateConfirmOrder State = "CONFIRM_ORDER"
	// StateEscalatePA indicates the refill requires prior authorization
	// and has been handed to the insurance workflow.
	StateEscalatePA State = "ESCALATE_PA"
	// StateEscalateDoctor indicates the refill was handed to the
	// prescribing doctor's office.
	StateEscalateDoctor State = "ESCALATE_DOCTOR"
	// StateEscalatePharmacist indicates the refill was handed to a
	// pharmacist for manual review.
	StateEscalatePharmacist State = "ESCALATE_PHARMACIST"
	// StateComplete is the terminal success state.
	StateComplete State = "COMPLETE"
	// StateError is the terminal failure state. Recovery transitions
	// (restart, retry) lead back into the normal flow.
	StateError State = "ERROR"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a member of the closed state set.
func (s State) IsValid() bool {
	switch s {
	case StateStart, StateIdentifyMedication, StateClarifyMedication,
		StateConfirmDosage, StateCheckAuthorization, StateSelectPharmacy,
		StateConfirmOrder, StateEscalatePA, StateEscalateDoctor,
		StateEscalatePharmacist, StateComplete, StateError:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for states with no outgoing conversation
// transitions. ERROR is terminal for the conversation flow but retains
// recovery transitions; COMPLETE accepts nothing but a session reset.
func (s State) IsTerminal() bool {
	return s == StateComplete || s == StateError
}

// IsEscalation returns true for the three human hand-off states.
func (s State) IsEscalation() bool {
	return s == StateEscalatePA || s == StateEscalateDoctor || s == StateEscalatePharmacist
}

// CanTransitionTo returns true if any trigger moves the conversation
// from s to target. The full trigger-level table lives in the Machine;
// this is the coarse reachability view used by validation and tests.
func (s State) CanTransitionTo(target State) bool {
	switch s {
	case StateStart:
		return target == StateIdentifyMedication || target == StateError
	case StateIdentifyMedication:
		return target == StateConfirmDosage || target == StateClarifyMedication ||
			target == StateEscalatePharmacist || target == StateError
	case StateClarifyMedication:
		// still_ambiguous self-loops while the patient narrows the match
		return target == StateConfirmDosage || target == StateClarifyMedication ||
			target == StateError
	case StateConfirmDosage:
		return target == StateCheckAuthorization || target == StateError
	case StateCheckAuthorization:
		return target == StateSelectPharmacy || target == StateEscalatePA ||
			target == StateEscalateDoctor || target == StateEscalatePharmacist ||
			target == StateError
	case StateSelectPharmacy:
		return target == StateConfirmOrder || target == StateError
	case StateConfirmOrder:
		return target == StateComplete || target == StateStart || target == StateError
	case StateEscalatePA, StateEscalateDoctor, StateEscalatePharmacist:
		return target == StateComplete || target == StateStart || target == StateError
	case StateError:
		return target == StateStart || target == StateIdentifyMedication
	case StateComplete:
		return false
	default:
		return false
	}
}

// Trigger represents a conversation event that can drive a transition.
type Trigger string

const (
	// TriggerMedicationMentioned fires when the opening request names or
	// describes a medication.
	TriggerMedicationMentioned Trigger = "medication_mentioned"
	// TriggerMedicationFound fires when the request resolves to exactly
	// one medication on the patient's list.
	TriggerMedicationFound Trigger = "medication_found"
	// TriggerMedicationAmbiguous fires when the request matches more than
	// one medication.
	TriggerMedicationAmbiguous Trigger = "medication_ambiguous"
	// TriggerMedicationNotFound fires when the request matches nothing on
	// the patient's list.
	TriggerMedicationNotFound Trigger = "medication_not_found"
	// TriggerMedicationClarified fires when a clarification answer
	// resolves the ambiguity. Guarded: exactly one candidate must remain.
	TriggerMedicationClarified Trigger = "medication_clarified"
	// TriggerStillAmbiguous fires when a clarification answer leaves more
	// than one candidate.
	TriggerStillAmbiguous Trigger = "still_ambiguous"
	// TriggerDosageConfirmed fires when the patient confirms the dosage.
	TriggerDosageConfirmed Trigger = "dosage_confirmed"
	// TriggerNoPARequired fires when authorization checks pass cleanly.
	TriggerNoPARequired Trigger = "no_pa_required"
	// TriggerPARequired fires when the formulary demands prior
	// authorization.
	TriggerPARequired Trigger = "pa_required"
	// TriggerEscalationTriggered fires when the escalation policy blocks
	// the automated flow. The destination depends on the policy result.
	TriggerEscalationTriggered Trigger = "escalation_triggered"
	// TriggerPharmacySelected fires when the patient picks a pharmacy.
	TriggerPharmacySelected Trigger = "pharmacy_selected"
	// TriggerOrderConfirmed fires when the patient approves the order.
	TriggerOrderConfirmed Trigger = "order_confirmed"
	// TriggerOrderCancelled fires when the patient rejects the order.
	TriggerOrderCancelled Trigger = "order_cancelled"
	// TriggerResolved fires when an escalation is settled in the
	// patient's favor.
	TriggerResolved Trigger = "resolved"
	// TriggerDeclined fires when an escalation ends without a refill.
	TriggerDeclined Trigger = "declined"
	// TriggerRestartConversation recovers from ERROR back to START.
	TriggerRestartConversation Trigger = "restart_conversation"
	// TriggerRetry recovers from ERROR back to medication identification.
	TriggerRetry Trigger = "retry"
	// TriggerSystemError moves any non-complete state to ERROR.
	TriggerSystemError Trigger = "system_error"
)

// String returns the string representation of the trigger.
func (t Trigger) String() string {
	return string(t)
}

// IsValid returns true if the trigger is a member of the closed trigger set.
func (t Trigger) IsValid() bool {
	switch t {
	case TriggerMedicationMentioned, TriggerMedicationFound,
		TriggerMedicationAmbiguous, TriggerMedicationNotFound,
		TriggerMedicationClarified, TriggerStillAmbiguous,
		TriggerDosageConfirmed, TriggerNoPARequired, TriggerPARequired,
		TriggerEscalationTriggered, TriggerPharmacySelected,
		TriggerOrderConfirmed, TriggerOrderCancelled, TriggerResolved,
		TriggerDeclined, TriggerRestartConversation, TriggerRetry,
		TriggerSystemError:
		return true
	default:
		return false
	}
}

package refill

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/rxpilot/escalation"
)

// SlotUpdates carries the proposed context mutations that ride along
// with a trigger. Nil and zero fields leave the existing slot untouched.
type SlotUpdates struct {
	Medication *MedicationSlot
	Dosage     string
	Pharmacy   *PharmacySlot
	Insurance  *InsuranceInfo
	Order      *OrderDetails
	Escalation *escalation.Result
}

// apply writes the non-empty updates onto the context.
func (u SlotUpdates) apply(ctx *ConversationContext) {
	if u.Medication != nil {
		ctx.Medication = u.Medication
	}
	if u.Dosage != "" {
		ctx.Dosage = u.Dosage
	}
	if u.Pharmacy != nil {
		ctx.Pharmacy = u.Pharmacy
	}
	if u.Insurance != nil {
		ctx.Insurance = u.Insurance
	}
	if u.Order != nil {
		ctx.Order = u.Order
	}
	if u.Escalation != nil {
		ctx.Escalation = u.Escalation
	}
}

// guardFunc validates proposed updates before a transition is accepted.
// A non-nil error rejects the transition with CodeGuardFailed.
type guardFunc func(*ConversationContext, SlotUpdates) error

// resolveFunc picks the destination for rows whose target depends on
// the updates (escalation routing).
type resolveFunc func(*ConversationContext, SlotUpdates) State

// rule is one row of the transition table.
type rule struct {
	to      State
	resolve resolveFunc
	guard   guardFunc
}

// guardSingleCandidate enforces that a clarification answer resolved the
// request to exactly one medication.
func guardSingleCandidate(_ *ConversationContext, u SlotUpdates) error {
	if u.Medication == nil || u.Medication.Name == "" {
		return fmt.Errorf("clarification did not name a medication")
	}
	if u.Medication.Ambiguous || len(u.Medication.Candidates) > 1 {
		return fmt.Errorf("clarification still matches %d medications", len(u.Medication.Candidates))
	}
	return nil
}

// guardEscalationResult requires an escalation result so the destination
// can be routed.
func guardEscalationResult(ctx *ConversationContext, u SlotUpdates) error {
	esc := u.Escalation
	if esc == nil {
		esc = ctx.Escalation
	}
	if esc == nil || !esc.Needed {
		return fmt.Errorf("no escalation result to route")
	}
	return nil
}

// resolveEscalation routes escalation_triggered to the doctor or
// pharmacist state per the policy result.
func resolveEscalation(ctx *ConversationContext, u SlotUpdates) State {
	esc := u.Escalation
	if esc == nil {
		esc = ctx.Escalation
	}
	if esc != nil && esc.Type == escalation.TypeDoctor {
		return StateEscalateDoctor
	}
	return StateEscalatePharmacist
}

// transitions is the conversation transition table. system_error rows
// are implicit: every state except COMPLETE accepts system_error into
// ERROR (COMPLETE accepts nothing but a session reset).
var transitions = map[State]map[Trigger]rule{
	StateStart: {
		TriggerMedicationMentioned: {to: StateIdentifyMedication},
	},
	StateIdentifyMedication: {
		TriggerMedicationFound:     {to: StateConfirmDosage},
		TriggerMedicationAmbiguous: {to: StateClarifyMedication},
		TriggerMedicationNotFound:  {to: StateEscalatePharmacist},
	},
	StateClarifyMedication: {
		TriggerMedicationClarified: {to: StateConfirmDosage, guard: guardSingleCandidate},
		TriggerStillAmbiguous:      {to: StateClarifyMedication},
	},
	StateConfirmDosage: {
		TriggerDosageConfirmed: {to: StateCheckAuthorization},
	},
	StateCheckAuthorization: {
		TriggerNoPARequired:        {to: StateSelectPharmacy},
		TriggerPARequired:          {to: StateEscalatePA},
		TriggerEscalationTriggered: {resolve: resolveEscalation, guard: guardEscalationResult},
	},
	StateSelectPharmacy: {
		TriggerPharmacySelected: {to: StateConfirmOrder},
	},
	StateConfirmOrder: {
		TriggerOrderConfirmed: {to: StateComplete},
		TriggerOrderCancelled: {to: StateStart},
	},
	StateEscalatePA: {
		TriggerResolved: {to: StateComplete},
		TriggerDeclined: {to: StateStart},
	},
	StateEscalateDoctor: {
		TriggerResolved: {to: StateComplete},
		TriggerDeclined: {to: StateStart},
	},
	StateEscalatePharmacist: {
		TriggerResolved: {to: StateComplete},
		TriggerDeclined: {to: StateStart},
	},
	StateError: {
		TriggerRestartConversation: {to: StateStart},
		TriggerRetry:               {to: StateIdentifyMedication},
	},
}

// Machine applies triggers to stored sessions through the transition
// table. All mutation happens on a clone that replaces the stored
// context only when the transition is accepted.
type Machine struct {
	store  *SessionStore
	logger *slog.Logger
}

// NewMachine creates a Machine over the given session store.
func NewMachine(store *SessionStore, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{store: store, logger: logger}
}

// Transition applies trigger and updates to the identified session.
// On rejection the returned error is a *TransitionError, the session is
// untouched, and the prior context is returned for inspection. Unknown
// session ids return ErrSessionNotFound.
func (m *Machine) Transition(sessionID string, trigger Trigger, updates SlotUpdates) (*ConversationContext, error) {
	current, err := m.store.Get(sessionID)
	if err != nil {
		return nil, err
	}

	next, err := m.step(current, trigger, updates)
	if err != nil {
		return current, err
	}

	if err := m.store.Put(next); err != nil {
		return current, err
	}

	m.logger.Debug("conversation transition",
		"session_id", sessionID,
		"trigger", trigger,
		"from", current.CurrentState,
		"to", next.CurrentState)

	return next, nil
}

// step computes the successor context without touching the store. The
// input context is never mutated.
func (m *Machine) step(current *ConversationContext, trigger Trigger, updates SlotUpdates) (*ConversationContext, error) {
	from := current.CurrentState

	if !trigger.IsValid() {
		return nil, &TransitionError{
			Code:    CodeUnknownTrigger,
			From:    from,
			Trigger: trigger,
			Message: "trigger is not in the conversation trigger set",
		}
	}

	if from == StateComplete {
		return nil, &TransitionError{
			Code:    CodeTerminalState,
			From:    from,
			Trigger: trigger,
			Message: "conversation is complete; reset the session to start over",
		}
	}

	target, r, err := m.route(current, trigger, updates)
	if err != nil {
		return nil, err
	}

	if r.guard != nil {
		if gerr := r.guard(current, updates); gerr != nil {
			return nil, &TransitionError{
				Code:    CodeGuardFailed,
				From:    from,
				Trigger: trigger,
				Message: gerr.Error(),
			}
		}
	}

	next := current.Clone()
	updates.apply(next)
	if target == StateStart {
		// Returning to START abandons the in-flight refill. History stays.
		next.Medication = nil
		next.Dosage = ""
		next.Pharmacy = nil
		next.Insurance = nil
		next.Order = nil
		next.Escalation = nil
	}
	next.CurrentState = target
	next.LastUpdated = time.Now().UTC()
	return next, nil
}

// route resolves the destination for (state, trigger).
func (m *Machine) route(current *ConversationContext, trigger Trigger, updates SlotUpdates) (State, rule, error) {
	from := current.CurrentState

	if trigger == TriggerSystemError {
		return StateError, rule{to: StateError}, nil
	}

	r, ok := transitions[from][trigger]
	if !ok {
		return "", rule{}, &TransitionError{
			Code:    CodeInvalidTrigger,
			From:    from,
			Trigger: trigger,
			Message: fmt.Sprintf("trigger %s is not accepted in state %s", trigger, from),
		}
	}

	target := r.to
	if r.resolve != nil {
		target = r.resolve(current, updates)
	}
	return target, r, nil
}

// AllowedTriggers returns the triggers the table accepts in a state,
// excluding the implicit system_error row. Used by re-prompt text and
// tests.
func AllowedTriggers(s State) []Trigger {
	rows := transitions[s]
	out := make([]Trigger, 0, len(rows))
	for _, t := range []Trigger{
		TriggerMedicationMentioned, TriggerMedicationFound,
		TriggerMedicationAmbiguous, TriggerMedicationNotFound,
		TriggerMedicationClarified, TriggerStillAmbiguous,
		TriggerDosageConfirmed, TriggerNoPARequired, TriggerPARequired,
		TriggerEscalationTriggered, TriggerPharmacySelected,
		TriggerOrderConfirmed, TriggerOrderCancelled, TriggerResolved,
		TriggerDeclined, TriggerRestartConversation, TriggerRetry,
	} {
		if _, ok := rows[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Replay walks a turn history through the transition table from START
// and returns the final state. Records that did not fire a trigger are
// skipped. An illegal hop means the history was not produced by this
// table.
func Replay(history []TurnRecord) (State, error) {
	state := StateStart
	for i, rec := range history {
		if rec.Trigger == "" {
			continue
		}
		if rec.Trigger == TriggerSystemError {
			if state == StateComplete {
				return state, fmt.Errorf("history[%d]: system_error after completion", i)
			}
			state = StateError
			continue
		}
		r, ok := transitions[state][rec.Trigger]
		if !ok {
			return state, fmt.Errorf("history[%d]: state %s does not accept trigger %s", i, state, rec.Trigger)
		}
		target := r.to
		if r.resolve != nil {
			// Destination depended on the recorded escalation result;
			// trust the record but insist it lands on an escalation state.
			if !rec.NewState.IsEscalation() {
				return state, fmt.Errorf("history[%d]: escalation trigger landed on %s", i, rec.NewState)
			}
			target = rec.NewState
		}
		if target != rec.NewState {
			return state, fmt.Errorf("history[%d]: recorded %s, table says %s", i, rec.NewState, target)
		}
		state = target
	}
	return state, nil
}

package refill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/rxpilot/erx"
	"github.com/c360studio/rxpilot/escalation"
	"github.com/c360studio/rxpilot/intent"
	"github.com/c360studio/rxpilot/llm"
)

const (
	defaultDataTimeout  = 5 * time.Second
	defaultReplyTimeout = 10 * time.Second

	// maxHops bounds automatic transitions in one turn. The longest
	// legitimate run is four: START through SELECT_PHARMACY on a fully
	// specified opening message.
	maxHops = 6
)

// Capabilities bundles what a turn can invoke. The five data
// capabilities are required; Classifier and Replier are optional and
// degrade to rule classification and template replies.
type Capabilities struct {
	Medications  erx.MedicationDirectory
	Interactions erx.Interactions
	Formulary    erx.Formulary
	Pharmacies   erx.PharmacyDirectory
	Orders       erx.OrderGateway

	// Classifier determines message intent. Nil uses the rule classifier.
	Classifier intent.Classifier

	// Replier rewords the template reply. Nil keeps the template.
	Replier erx.ReplyGenerator
}

func (c Capabilities) validate() error {
	switch {
	case c.Medications == nil:
		return fmt.Errorf("capabilities: medication directory is required")
	case c.Interactions == nil:
		return fmt.Errorf("capabilities: interactions source is required")
	case c.Formulary == nil:
		return fmt.Errorf("capabilities: formulary is required")
	case c.Pharmacies == nil:
		return fmt.Errorf("capabilities: pharmacy directory is required")
	case c.Orders == nil:
		return fmt.Errorf("capabilities: order gateway is required")
	}
	return nil
}

// EventSink receives conversation events after the turn's session has
// been stored. Calls run synchronously on the turn path, so
// implementations hand off to their own machinery quickly.
type EventSink interface {
	StateTransitioned(evt StateTransitionedEvent)
	EscalationRaised(evt EscalationRaisedEvent)
	OrderSubmitted(evt OrderSubmittedEvent)
}

// TurnRequest is one patient message addressed to a session.
type TurnRequest struct {
	// SessionID targets an existing session. Empty or unknown ids get a
	// fresh session.
	SessionID string `json:"session_id,omitempty"`

	// PatientID identifies the patient. Required.
	PatientID string `json:"patient_id"`

	// Text is the patient's message. Required.
	Text string `json:"text"`
}

// Validate checks the request fields.
func (r TurnRequest) Validate() error {
	if strings.TrimSpace(r.PatientID) == "" {
		return &ValidationError{Field: "patient_id", Message: "patient_id is required"}
	}
	if strings.TrimSpace(r.Text) == "" {
		return &ValidationError{Field: "text", Message: "text is required"}
	}
	return nil
}

// TransitionStep is one accepted transition within a turn.
type TransitionStep struct {
	From    State   `json:"from"`
	Trigger Trigger `json:"trigger"`
	To      State   `json:"to"`
}

// TurnResult is the orchestrator's answer to one patient message.
type TurnResult struct {
	SessionID  string `json:"session_id"`
	PatientID  string `json:"patient_id"`
	NewSession bool   `json:"new_session,omitempty"`

	// State is where the conversation rests after the turn.
	State State `json:"state"`

	// Reply is the patient-facing text.
	Reply string `json:"reply"`

	// Intent is how the message was classified.
	Intent intent.Intent `json:"intent"`

	// Transitions lists the accepted transitions, in order. Empty when
	// the turn only re-prompted.
	Transitions []TransitionStep `json:"transitions,omitempty"`

	// Rejected is set when the machine refused the turn's transition.
	Rejected *TransitionError `json:"rejected,omitempty"`

	// Escalation is set when the turn rests in an escalation state.
	Escalation *escalation.Result `json:"escalation,omitempty"`

	// Order is set when the turn completed with a submitted order.
	Order *OrderDetails `json:"order,omitempty"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics wires turn, transition, and capability metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithEventSink wires a sink for conversation events.
func WithEventSink(sink EventSink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// WithPolicy overrides the default escalation policy.
func WithPolicy(p escalation.Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithTimeouts overrides the capability timeouts. data covers the
// directory, formulary, pharmacy, and order calls; reply covers the
// language calls.
func WithTimeouts(data, reply time.Duration) Option {
	return func(o *Orchestrator) {
		if data > 0 {
			o.dataTimeout = data
		}
		if reply > 0 {
			o.replyTimeout = reply
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator drives one refill conversation turn at a time: it
// classifies the message, advances the state machine as far as the
// message allows, invokes pharmacy capabilities along the way, and
// produces the reply. Sessions are locked per turn, mutated on clones,
// and stored once at the end, so a failed turn never leaves a partial
// session behind.
type Orchestrator struct {
	store      *SessionStore
	machine    *Machine
	caps       Capabilities
	classifier intent.Classifier
	policy     escalation.Policy
	metrics    *Metrics
	sink       EventSink
	logger     *slog.Logger

	dataTimeout  time.Duration
	replyTimeout time.Duration
	now          func() time.Time
}

// NewOrchestrator wires the conversation machine to the capability
// layer. The store and the five data capabilities are required.
func NewOrchestrator(store *SessionStore, caps Capabilities, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("orchestrator requires a session store")
	}
	if err := caps.validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		store:        store,
		caps:         caps,
		classifier:   caps.Classifier,
		policy:       escalation.DefaultPolicy(),
		logger:       slog.Default(),
		dataTimeout:  defaultDataTimeout,
		replyTimeout: defaultReplyTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.classifier == nil {
		o.classifier = intent.NewRuleClassifier()
	}
	if err := o.policy.Validate(); err != nil {
		return nil, err
	}
	o.machine = NewMachine(store, o.logger)
	return o, nil
}

// turn is the working set of one patient message moving through the
// cascade loop.
type turn struct {
	conv *ConversationContext

	text   string
	intent intent.Intent

	// query is the medication search text extracted at START, consumed
	// by the identification hop.
	query    string
	querySet bool

	// textUsed flips once a history record has carried the message.
	// Later hops run input-free logic only.
	textUsed bool

	// utterances are the prior patient messages, snapshotted before this
	// turn lands in the history.
	utterances []string

	hop     int
	reset   bool
	tools   []ToolCall
	steps   []TransitionStep
	facts   replyFacts
	pending []func()
}

// Turn processes one patient message: classify, advance the machine as
// far as the message allows, generate the reply, store the session,
// then emit events. A turn either commits fully or leaves the stored
// session untouched.
func (o *Orchestrator) Turn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	conv, unlock, created, err := o.acquireSession(req)
	if err != nil {
		return nil, err
	}
	defer unlock()

	turnID := "turn-" + uuid.New().String()[:8]
	ctx = llm.WithTurnContext(ctx, llm.TurnContext{
		SessionID: conv.SessionID,
		TurnID:    turnID,
		State:     string(conv.CurrentState),
	})

	t := &turn{
		conv:       conv,
		text:       strings.TrimSpace(req.Text),
		utterances: recentUtterances(conv, promptHistoryTurns),
	}
	t.intent = o.classify(ctx, t)

	o.logger.Debug("turn received",
		"session_id", conv.SessionID,
		"turn_id", turnID,
		"patient_id", conv.PatientID,
		"state", conv.CurrentState,
		"intent", t.intent)

	if (t.intent == intent.IntentCancel || t.intent == intent.IntentRestart) &&
		!handlesExit(conv.CurrentState, t.intent) {
		o.resetTurn(t)
		t.facts.cancelled = true
		t.reset = true
	}

	if !t.reset {
		if err := o.advance(ctx, t); err != nil {
			return nil, err
		}
	}

	// Re-prompt turns still go on the record so the transcript keeps
	// every patient message.
	if len(t.steps) == 0 && !t.reset {
		now := o.now().UTC()
		t.conv.AppendTurn(TurnRecord{
			Timestamp:  now,
			UserText:   t.text,
			PriorState: t.conv.CurrentState,
			NewState:   t.conv.CurrentState,
			ToolCalls:  t.tools,
		})
		t.tools = nil
		t.conv.LastUpdated = now
	}

	reply := o.generateReply(ctx, t)

	if err := o.store.Put(t.conv); err != nil {
		return nil, fmt.Errorf("storing session %s: %w", t.conv.SessionID, err)
	}
	for _, emit := range t.pending {
		emit()
	}

	outcome := TurnOutcomeOK
	switch {
	case t.facts.systemError:
		outcome = TurnOutcomeError
	case t.facts.reprompt != nil:
		outcome = TurnOutcomeRejected
	}
	o.metrics.RecordTurn(outcome)

	o.logger.Info("turn complete",
		"session_id", t.conv.SessionID,
		"turn_id", turnID,
		"state", t.conv.CurrentState,
		"transitions", len(t.steps),
		"outcome", outcome)

	res := &TurnResult{
		SessionID:   t.conv.SessionID,
		PatientID:   t.conv.PatientID,
		NewSession:  created,
		State:       t.conv.CurrentState,
		Reply:       reply,
		Intent:      t.intent,
		Transitions: t.steps,
		Rejected:    t.facts.reprompt,
	}
	if t.conv.CurrentState.IsEscalation() {
		res.Escalation = t.conv.Escalation
	}
	if t.conv.CurrentState == StateComplete {
		res.Order = t.conv.Order
	}
	return res, nil
}

// ResetSession returns a session to START with an empty history,
// keeping its id. Serves the session command surface.
func (o *Orchestrator) ResetSession(sessionID string) (Summary, error) {
	unlock, err := o.store.Acquire(sessionID)
	if err != nil {
		return Summary{}, err
	}
	defer unlock()

	conv, err := o.store.Get(sessionID)
	if err != nil {
		return Summary{}, err
	}
	conv.Reset()
	if err := o.store.Put(conv); err != nil {
		return Summary{}, err
	}
	o.logger.Info("session reset", "session_id", sessionID, "patient_id", conv.PatientID)
	return conv.Summarize(), nil
}

// acquireSession pins the turn's session: it resolves or creates the
// session, takes its turn lock, and re-reads the authoritative copy
// under that lock. A session deleted while we raced for the lock is
// replaced with a fresh one.
func (o *Orchestrator) acquireSession(req TurnRequest) (*ConversationContext, func(), bool, error) {
	created := false
	id := req.SessionID
	for attempt := 0; attempt < 3; attempt++ {
		if id == "" {
			conv := o.store.Create(req.PatientID)
			id = conv.SessionID
			created = true
		}
		unlock, err := o.store.Acquire(id)
		if errors.Is(err, ErrSessionNotFound) {
			id = ""
			continue
		}
		if err != nil {
			return nil, nil, false, err
		}
		conv, err := o.store.Get(id)
		if errors.Is(err, ErrSessionNotFound) {
			unlock()
			id = ""
			continue
		}
		if err != nil {
			unlock()
			return nil, nil, false, err
		}
		if conv.PatientID != req.PatientID {
			unlock()
			return nil, nil, false, &ValidationError{Field: "session_id", Message: "session belongs to a different patient"}
		}
		return conv, unlock, created, nil
	}
	return nil, nil, false, fmt.Errorf("could not pin a session for patient %s", req.PatientID)
}

// classify determines the message intent with the conversation's
// current question in view.
func (o *Orchestrator) classify(ctx context.Context, t *turn) intent.Intent {
	view := intent.Turn{
		State:               string(t.conv.CurrentState),
		ExpectingMedication: expectsMedication(t.conv.CurrentState),
	}
	if t.conv.CurrentState == StateClarifyMedication && t.conv.Medication != nil {
		for _, c := range t.conv.Medication.Candidates {
			view.Candidates = append(view.Candidates, c.Name)
		}
	}

	cctx, cancel := context.WithTimeout(ctx, o.replyTimeout)
	defer cancel()

	in, confidence, err := o.classifier.Classify(cctx, t.text, view)
	if err != nil {
		o.logger.Warn("intent classification failed",
			"session_id", t.conv.SessionID, "error", err)
		return intent.IntentUnknown
	}
	o.logger.Debug("message classified",
		"session_id", t.conv.SessionID, "intent", in, "confidence", confidence)
	return in
}

// advance cascades through the machine until a state needs patient
// input. Each hop consumes at most one transition.
func (o *Orchestrator) advance(ctx context.Context, t *turn) error {
	for t.hop = 0; t.hop < maxHops; t.hop++ {
		advanced, err := o.dispatch(ctx, t)
		if err != nil {
			return err
		}
		if !advanced {
			return nil
		}
	}
	o.logger.Warn("transition cascade hit the hop limit",
		"session_id", t.conv.SessionID, "state", t.conv.CurrentState)
	return nil
}

func (o *Orchestrator) dispatch(ctx context.Context, t *turn) (bool, error) {
	switch t.conv.CurrentState {
	case StateStart:
		return o.stepStart(ctx, t)
	case StateIdentifyMedication:
		return o.stepIdentify(ctx, t)
	case StateClarifyMedication:
		return o.stepClarify(ctx, t)
	case StateConfirmDosage:
		return o.stepConfirmDosage(ctx, t)
	case StateCheckAuthorization:
		return o.stepCheckAuthorization(ctx, t)
	case StateSelectPharmacy:
		return o.stepSelectPharmacy(ctx, t)
	case StateConfirmOrder:
		return o.stepConfirmOrder(ctx, t)
	case StateEscalatePA, StateEscalateDoctor, StateEscalatePharmacist:
		return o.stepEscalated(ctx, t)
	case StateComplete:
		return o.stepComplete(ctx, t)
	case StateError:
		return o.stepError(ctx, t)
	}
	return false, nil
}

// stepStart consumes the opening message. Anything that names or asks
// for a medication enters the identification flow; everything else
// re-prompts.
func (o *Orchestrator) stepStart(_ context.Context, t *turn) (bool, error) {
	if t.textUsed {
		// Landed here by abandoning a later state; the START reply says
		// what to do next.
		return false, nil
	}
	switch t.intent {
	case intent.IntentRefillRequest:
		t.query = intent.ExtractMedicationQuery(t.text)
	case intent.IntentMedicationName:
		if smalltalkPattern.MatchString(t.text) {
			return false, nil
		}
		t.query = intent.ExtractMedicationQuery(t.text)
		if t.query == "" {
			t.query = wholeQuery(t.text)
		}
	default:
		return false, nil
	}
	t.querySet = true
	if err := o.apply(t, TriggerMedicationMentioned, SlotUpdates{}); err != nil {
		return o.reject(t, err)
	}
	return true, nil
}

// stepIdentify resolves the query against the patient's medication
// list. Zero matches escalate to a pharmacist, one match moves to
// dosage confirmation, several move to clarification. An empty query
// surfaces the whole profile.
func (o *Orchestrator) stepIdentify(ctx context.Context, t *turn) (bool, error) {
	query := t.query
	fromText := true

	switch {
	case !t.textUsed:
		// The conversation was parked here waiting for a medication name.
		switch t.intent {
		case intent.IntentRefillRequest:
			query = intent.ExtractMedicationQuery(t.text)
		case intent.IntentMedicationName:
			if smalltalkPattern.MatchString(t.text) {
				return false, nil
			}
			query = intent.ExtractMedicationQuery(t.text)
			if query == "" {
				query = wholeQuery(t.text)
			}
		default:
			return false, nil
		}
	case t.querySet:
		// Cascading from START with the query taken there.
	default:
		// Re-entered without a message to draw on (retry after an
		// error): rerun the lookup for the already-resolved medication.
		med := t.conv.Medication
		if med == nil || med.Ambiguous || med.Name == "" {
			return false, nil
		}
		query = med.Name
		fromText = false
	}

	meds, err := o.findMedications(ctx, t, query)
	if err != nil {
		return o.failTurn(t, err)
	}

	switch len(meds) {
	case 0:
		result := o.policy.Evaluate(nil, nil, o.now())
		t.facts.notFoundQuery = query
		if err := o.apply(t, TriggerMedicationNotFound, SlotUpdates{Escalation: &result}); err != nil {
			return o.reject(t, err)
		}
		return true, nil
	case 1:
		full := meds[0]
		updates := SlotUpdates{Medication: medicationSlot(full)}
		if fromText {
			if err := o.attachDosage(ctx, t, full.Name, &updates); err != nil {
				return o.failTurn(t, err)
			}
		}
		if err := o.apply(t, TriggerMedicationFound, updates); err != nil {
			return o.reject(t, err)
		}
		return true, nil
	default:
		slot := &MedicationSlot{Ambiguous: true, Candidates: candidatesOf(meds)}
		if err := o.apply(t, TriggerMedicationAmbiguous, SlotUpdates{Medication: slot}); err != nil {
			return o.reject(t, err)
		}
		return true, nil
	}
}

// stepClarify resolves the patient's disambiguation answer against the
// presented candidates.
func (o *Orchestrator) stepClarify(ctx context.Context, t *turn) (bool, error) {
	if t.textUsed {
		return false, nil
	}
	med := t.conv.Medication
	if med == nil || len(med.Candidates) == 0 {
		return false, nil
	}

	idx, ok := intent.MatchOption(t.text, candidateNames(med.Candidates))
	if !ok {
		if err := o.apply(t, TriggerStillAmbiguous, SlotUpdates{}); err != nil {
			return o.reject(t, err)
		}
		t.facts.stillAmbiguous = true
		return false, nil
	}

	// The candidate carries only presentation fields; re-fetch the full
	// record for the authorization checks ahead.
	chosen := med.Candidates[idx]
	meds, err := o.findMedications(ctx, t, chosen.Name)
	if err != nil {
		return o.failTurn(t, err)
	}
	full, found := exactMedication(meds, chosen.Name)
	if !found {
		if err := o.apply(t, TriggerStillAmbiguous, SlotUpdates{}); err != nil {
			return o.reject(t, err)
		}
		t.facts.stillAmbiguous = true
		return false, nil
	}

	updates := SlotUpdates{Medication: medicationSlot(full)}
	if err := o.attachDosage(ctx, t, full.Name, &updates); err != nil {
		return o.failTurn(t, err)
	}
	if err := o.apply(t, TriggerMedicationClarified, updates); err != nil {
		return o.reject(t, err)
	}
	return true, nil
}

// stepConfirmDosage settles the dosage. A dosage that arrived verified
// with the medication confirms without another question.
func (o *Orchestrator) stepConfirmDosage(ctx context.Context, t *turn) (bool, error) {
	med := t.conv.Medication
	if med == nil || med.Name == "" {
		return false, nil
	}

	if t.textUsed {
		if t.conv.Dosage == "" {
			return false, nil
		}
		if err := o.apply(t, TriggerDosageConfirmed, SlotUpdates{}); err != nil {
			return o.reject(t, err)
		}
		return true, nil
	}

	// A dosage in the answer is checked against the prescription on
	// file, whether the patient said yes or no around it.
	if claimed, ok := intent.ExtractDosage(t.text); ok {
		ver, err := o.verifyMedication(ctx, t, med.Name, claimed)
		if err != nil {
			if errors.Is(err, erx.ErrNotFound) {
				t.facts.askDosage = true
				return false, nil
			}
			return o.failTurn(t, err)
		}
		if !ver.DosageKnown {
			t.facts.dosageMismatch = claimed
			return false, nil
		}
		if err := o.apply(t, TriggerDosageConfirmed, SlotUpdates{Dosage: ver.Dosage}); err != nil {
			return o.reject(t, err)
		}
		return true, nil
	}

	switch t.intent {
	case intent.IntentAffirmation:
		if med.Dosage == "" {
			t.facts.askDosage = true
			return false, nil
		}
		if err := o.apply(t, TriggerDosageConfirmed, SlotUpdates{Dosage: med.Dosage}); err != nil {
			return o.reject(t, err)
		}
		return true, nil
	case intent.IntentNegation:
		t.facts.askDosage = true
		return false, nil
	}
	return false, nil
}

// stepCheckAuthorization runs the clinical and insurance checks. It
// consumes no input: the state always exits in the turn that entered it.
func (o *Orchestrator) stepCheckAuthorization(ctx context.Context, t *turn) (bool, error) {
	med := t.conv.Medication
	if med == nil || med.Name == "" {
		return false, nil
	}

	signals, err := o.lookupInteractions(ctx, t, med.Name)
	if err != nil && !errors.Is(err, erx.ErrNotFound) {
		return o.failTurn(t, err)
	}

	// Clinical blocks outrank insurance: escalation is decided before
	// the formulary is consulted.
	if result := o.policy.Evaluate(med.Facts(), signals, o.now()); result.Needed {
		if err := o.apply(t, TriggerEscalationTriggered, SlotUpdates{Escalation: &result}); err != nil {
			return o.reject(t, err)
		}
		return true, nil
	}

	status, err := o.checkFormulary(ctx, t, med.Name)
	if err != nil && !errors.Is(err, erx.ErrNotFound) {
		return o.failTurn(t, err)
	}
	info := &InsuranceInfo{
		PlanID:            status.PlanID,
		Covered:           status.Covered,
		PriorAuthRequired: status.PriorAuthRequired,
		CopayCents:        status.CopayCents,
	}

	if status.PriorAuthRequired {
		reason := escalation.ReasonPriorAuthRequired
		target := reason.Tier()
		guidance := o.policy.Contacts.Lookup(reason, target)
		result := escalation.Result{
			Needed:      true,
			Type:        target,
			Reasons:     []escalation.ReasonCode{reason},
			Message:     guidance.Message,
			ContactInfo: guidance.ContactInfo,
			NextSteps:   guidance.NextSteps,
		}
		if err := o.apply(t, TriggerPARequired, SlotUpdates{Insurance: info, Escalation: &result}); err != nil {
			return o.reject(t, err)
		}
		return true, nil
	}

	if err := o.apply(t, TriggerNoPARequired, SlotUpdates{Insurance: info}); err != nil {
		return o.reject(t, err)
	}
	return true, nil
}

// stepSelectPharmacy offers pharmacies with price quotes and resolves
// the patient's pick. The options are re-derived each turn from the
// directory, which returns them in stable order.
func (o *Orchestrator) stepSelectPharmacy(ctx context.Context, t *turn) (bool, error) {
	med := t.conv.Medication
	if med == nil || med.Name == "" {
		return false, nil
	}

	offers, err := o.fetchOffers(ctx, t, med.Name)
	if err != nil {
		return o.failTurn(t, err)
	}
	if len(offers) == 0 {
		t.facts.noPharmacies = true
		return false, nil
	}
	t.facts.offers = offers

	if t.textUsed {
		return false, nil
	}

	names := make([]string, len(offers))
	for i, off := range offers {
		names[i] = off.pharmacy.Name
	}
	idx, ok := intent.MatchOption(t.text, names)
	if !ok {
		return false, nil
	}

	chosen := offers[idx]
	slot := &PharmacySlot{
		ID:         chosen.pharmacy.ID,
		Name:       chosen.pharmacy.Name,
		Address:    chosen.pharmacy.Address,
		Phone:      chosen.pharmacy.Phone,
		PriceCents: chosen.priceCents,
	}
	if err := o.apply(t, TriggerPharmacySelected, SlotUpdates{Pharmacy: slot}); err != nil {
		return o.reject(t, err)
	}
	t.facts.offers = nil
	return true, nil
}

// stepConfirmOrder submits the order on a yes and abandons it on a no.
// Submission happens before the transition so COMPLETE is only ever
// entered with an accepted order.
func (o *Orchestrator) stepConfirmOrder(ctx context.Context, t *turn) (bool, error) {
	if t.textUsed {
		return false, nil
	}
	med, ph := t.conv.Medication, t.conv.Pharmacy
	if med == nil || ph == nil {
		return false, nil
	}

	switch t.intent {
	case intent.IntentAffirmation:
		order := erx.Order{
			PatientID:  t.conv.PatientID,
			SessionID:  t.conv.SessionID,
			Medication: med.Name,
			Dosage:     t.conv.Dosage,
			PharmacyID: ph.ID,
			PriceCents: ph.PriceCents,
		}
		confirmation, err := o.submitOrder(ctx, t, order)
		if err != nil {
			return o.failTurn(t, err)
		}
		details := &OrderDetails{
			OrderID:        confirmation.OrderID,
			PharmacyID:     ph.ID,
			Medication:     med.Name,
			Dosage:         t.conv.Dosage,
			EstimatedReady: confirmation.EstimatedReady,
			SubmittedAt:    o.now().UTC(),
		}
		if err := o.apply(t, TriggerOrderConfirmed, SlotUpdates{Order: details}); err != nil {
			return o.reject(t, err)
		}
		return true, nil
	case intent.IntentNegation, intent.IntentCancel:
		if err := o.apply(t, TriggerOrderCancelled, SlotUpdates{}); err != nil {
			return o.reject(t, err)
		}
		t.facts.cancelled = true
		return true, nil
	}
	return false, nil
}

// stepEscalated waits for the escalation outcome. Yes means the
// hand-off resolved it; no drops the request.
func (o *Orchestrator) stepEscalated(_ context.Context, t *turn) (bool, error) {
	if t.textUsed {
		return false, nil
	}
	switch t.intent {
	case intent.IntentAffirmation:
		if err := o.apply(t, TriggerResolved, SlotUpdates{}); err != nil {
			return o.reject(t, err)
		}
		return true, nil
	case intent.IntentNegation, intent.IntentCancel:
		if err := o.apply(t, TriggerDeclined, SlotUpdates{}); err != nil {
			return o.reject(t, err)
		}
		t.facts.cancelled = true
		return true, nil
	}
	return false, nil
}

// stepComplete handles messages after completion. A fresh refill
// request starts a new conversation on the same session id; anything
// else restates the completion.
func (o *Orchestrator) stepComplete(_ context.Context, t *turn) (bool, error) {
	if t.textUsed {
		return false, nil
	}
	switch t.intent {
	case intent.IntentRefillRequest, intent.IntentMedicationName:
		o.resetTurn(t)
		return true, nil
	}
	return false, nil
}

// stepError offers the two recovery paths out of ERROR.
func (o *Orchestrator) stepError(_ context.Context, t *turn) (bool, error) {
	if t.textUsed {
		return false, nil
	}
	switch t.intent {
	case intent.IntentRetry:
		if err := o.apply(t, TriggerRetry, SlotUpdates{}); err != nil {
			return o.reject(t, err)
		}
		return true, nil
	case intent.IntentRestart:
		if err := o.apply(t, TriggerRestartConversation, SlotUpdates{}); err != nil {
			return o.reject(t, err)
		}
		return true, nil
	}
	return false, nil
}

// apply runs one transition through the table, cuts a history record,
// and queues the matching events. The record carries the patient text
// only once per turn; cascade hops record an empty trigger text.
func (o *Orchestrator) apply(t *turn, trigger Trigger, updates SlotUpdates) error {
	prior := t.conv.CurrentState
	next, err := o.machine.step(t.conv, trigger, updates)
	if err != nil {
		return err
	}

	rec := TurnRecord{
		Timestamp:  o.now().UTC(),
		Trigger:    trigger,
		PriorState: prior,
		NewState:   next.CurrentState,
		ToolCalls:  t.tools,
	}
	if !t.textUsed {
		rec.UserText = t.text
		t.textUsed = true
	}
	t.tools = nil
	next.AppendTurn(rec)
	t.conv = next
	t.steps = append(t.steps, TransitionStep{From: prior, Trigger: trigger, To: next.CurrentState})

	o.logger.Debug("conversation transition",
		"session_id", t.conv.SessionID,
		"trigger", trigger,
		"from", prior,
		"to", next.CurrentState)

	o.queueEvents(t, prior, trigger)
	return nil
}

// queueEvents defers metric and sink emissions until the turn's session
// is stored.
func (o *Orchestrator) queueEvents(t *turn, prior State, trigger Trigger) {
	conv := t.conv

	evt := StateTransitionedEvent{
		SessionID: conv.SessionID,
		PatientID: conv.PatientID,
		From:      string(prior),
		To:        string(conv.CurrentState),
		Trigger:   string(trigger),
	}
	t.pending = append(t.pending, func() {
		o.metrics.RecordTransition(prior, trigger)
		if o.sink != nil {
			o.sink.StateTransitioned(evt)
		}
	})

	if conv.CurrentState.IsEscalation() && !prior.IsEscalation() && conv.Escalation != nil {
		esc := conv.Escalation
		reasons := make([]string, len(esc.Reasons))
		for i, r := range esc.Reasons {
			reasons[i] = string(r)
		}
		medName := t.facts.notFoundQuery
		if conv.Medication != nil && conv.Medication.Name != "" {
			medName = conv.Medication.Name
		}
		escEvt := EscalationRaisedEvent{
			SessionID:  conv.SessionID,
			PatientID:  conv.PatientID,
			Type:       string(esc.Type),
			Reasons:    reasons,
			Message:    esc.Message,
			Medication: medName,
		}
		primary := ""
		if len(reasons) > 0 {
			primary = reasons[0]
		}
		escType := string(esc.Type)
		t.pending = append(t.pending, func() {
			o.metrics.RecordEscalation(escType, primary)
			if o.sink != nil {
				o.sink.EscalationRaised(escEvt)
			}
		})
	}

	if trigger == TriggerOrderConfirmed && conv.Order != nil {
		ord := *conv.Order
		ordEvt := OrderSubmittedEvent{
			SessionID:      conv.SessionID,
			PatientID:      conv.PatientID,
			OrderID:        ord.OrderID,
			Medication:     ord.Medication,
			Dosage:         ord.Dosage,
			PharmacyID:     ord.PharmacyID,
			EstimatedReady: ord.EstimatedReady,
		}
		t.pending = append(t.pending, func() {
			if o.sink != nil {
				o.sink.OrderSubmitted(ordEvt)
			}
		})
	}
}

// reject records a refused transition; the state stays put and the
// reply re-asks the pending question. Anything that is not a table
// rejection bubbles up as an infrastructure error.
func (o *Orchestrator) reject(t *turn, err error) (bool, error) {
	var te *TransitionError
	if errors.As(err, &te) {
		t.facts.reprompt = te
		o.logger.Debug("transition rejected",
			"session_id", t.conv.SessionID,
			"from", te.From,
			"trigger", te.Trigger,
			"code", te.Code)
		return false, nil
	}
	return false, err
}

// failTurn lands the conversation in ERROR after a capability failure.
// The patient gets an apology; the cause stays in the log.
func (o *Orchestrator) failTurn(t *turn, cause error) (bool, error) {
	o.logger.Error("capability failure",
		"session_id", t.conv.SessionID,
		"state", t.conv.CurrentState,
		"error", cause)
	t.facts.systemError = true
	if err := o.apply(t, TriggerSystemError, SlotUpdates{}); err != nil {
		// Only COMPLETE refuses system_error, and nothing runs
		// capabilities there.
		o.logger.Debug("system_error not applied", "session_id", t.conv.SessionID, "error", err)
	}
	return false, nil
}

// resetTurn abandons the conversation back to START with a fresh
// history. The session id survives so the caller's handle stays valid.
func (o *Orchestrator) resetTurn(t *turn) {
	from := t.conv.CurrentState
	t.conv.Reset()
	o.logger.Debug("session reset to START",
		"session_id", t.conv.SessionID, "from", from)
}

// generateReply turns the conversation's state into patient-facing
// text. The template is built first and the reply model only rewords
// it; any failure falls back to the template untouched.
func (o *Orchestrator) generateReply(ctx context.Context, t *turn) string {
	draft := fallbackReply(t.conv, t.facts)
	if o.caps.Replier == nil {
		return draft
	}

	rctx, cancel := context.WithTimeout(ctx, o.replyTimeout)
	defer cancel()

	start := time.Now()
	text, err := o.caps.Replier.Generate(rctx, replyInstructions(draft), t.utterances, t.text)
	elapsed := time.Since(start)

	o.metrics.ObserveCapability(erx.ToolGenerateReply, elapsed)
	call := ToolCall{Tool: erx.ToolGenerateReply, Outcome: toolOutcome(err), DurationMs: elapsed.Milliseconds()}
	if n := len(t.conv.History); n > 0 {
		t.conv.History[n-1].ToolCalls = append(t.conv.History[n-1].ToolCalls, call)
	}

	if err != nil {
		o.logger.Warn("reply generation failed, using template",
			"session_id", t.conv.SessionID, "error", err)
		return draft
	}
	if strings.TrimSpace(text) == "" {
		return draft
	}
	return text
}

// fetchOffers loads the pharmacy options with price quotes. Quotes are
// matched by pharmacy id; a missing quote leaves the price unset rather
// than failing the turn.
func (o *Orchestrator) fetchOffers(ctx context.Context, t *turn, medication string) ([]pharmacyOffer, error) {
	pharmacies, err := o.findPharmacies(ctx, t)
	if err != nil {
		if errors.Is(err, erx.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if len(pharmacies) == 0 {
		return nil, nil
	}

	quotes, err := o.getPrices(ctx, t, medication, pharmacies)
	if err != nil && !errors.Is(err, erx.ErrNotFound) {
		return nil, err
	}
	priceByID := make(map[string]int, len(quotes))
	for _, q := range quotes {
		priceByID[q.PharmacyID] = q.PriceCents
	}

	offers := make([]pharmacyOffer, len(pharmacies))
	for i, ph := range pharmacies {
		offers[i] = pharmacyOffer{pharmacy: ph, priceCents: priceByID[ph.ID]}
	}
	return offers, nil
}

// attachDosage verifies a dosage mentioned alongside the medication so
// the confirmation step can finish in the same turn. A mismatch leaves
// the dosage unset and flags the reply.
func (o *Orchestrator) attachDosage(ctx context.Context, t *turn, name string, updates *SlotUpdates) error {
	claimed, ok := intent.ExtractDosage(t.text)
	if !ok {
		return nil
	}
	ver, err := o.verifyMedication(ctx, t, name, claimed)
	if err != nil {
		if errors.Is(err, erx.ErrNotFound) {
			return nil
		}
		return err
	}
	if ver.DosageKnown {
		updates.Dosage = ver.Dosage
	} else {
		t.facts.dosageMismatch = claimed
	}
	return nil
}

// callData runs one data capability under the data timeout and records
// the call on the turn.
func (o *Orchestrator) callData(ctx context.Context, t *turn, tool string, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, o.dataTimeout)
	defer cancel()

	start := time.Now()
	err := fn(cctx)
	elapsed := time.Since(start)

	o.metrics.ObserveCapability(tool, elapsed)
	t.tools = append(t.tools, ToolCall{Tool: tool, Outcome: toolOutcome(err), DurationMs: elapsed.Milliseconds()})

	if err != nil && !errors.Is(err, erx.ErrNotFound) {
		o.logger.Warn("capability call failed",
			"tool", tool,
			"session_id", t.conv.SessionID,
			"error", err)
	}
	return err
}

func (o *Orchestrator) findMedications(ctx context.Context, t *turn, query string) ([]erx.Medication, error) {
	var meds []erx.Medication
	err := o.callData(ctx, t, erx.ToolLookupPatientMedications, func(c context.Context) error {
		var ferr error
		meds, ferr = o.caps.Medications.FindForPatient(c, t.conv.PatientID, query)
		return ferr
	})
	if errors.Is(err, erx.ErrNotFound) {
		// An unknown patient or empty profile reads as no matches.
		return nil, nil
	}
	return meds, err
}

func (o *Orchestrator) verifyMedication(ctx context.Context, t *turn, name, dosage string) (erx.VerifiedMedication, error) {
	var ver erx.VerifiedMedication
	err := o.callData(ctx, t, erx.ToolVerifyMedication, func(c context.Context) error {
		var verr error
		ver, verr = o.caps.Medications.VerifyMedication(c, t.conv.PatientID, name, dosage)
		return verr
	})
	return ver, err
}

func (o *Orchestrator) lookupInteractions(ctx context.Context, t *turn, medication string) ([]escalation.InteractionSignal, error) {
	var signals []escalation.InteractionSignal
	err := o.callData(ctx, t, erx.ToolLookupDrugInteractions, func(c context.Context) error {
		var lerr error
		signals, lerr = o.caps.Interactions.Lookup(c, t.conv.PatientID, medication)
		return lerr
	})
	return signals, err
}

func (o *Orchestrator) checkFormulary(ctx context.Context, t *turn, medication string) (erx.FormularyStatus, error) {
	var status erx.FormularyStatus
	err := o.callData(ctx, t, erx.ToolCheckInsuranceFormulary, func(c context.Context) error {
		var cerr error
		status, cerr = o.caps.Formulary.Check(c, t.conv.PatientID, medication)
		return cerr
	})
	return status, err
}

func (o *Orchestrator) findPharmacies(ctx context.Context, t *turn) ([]erx.Pharmacy, error) {
	var pharmacies []erx.Pharmacy
	err := o.callData(ctx, t, erx.ToolFindPharmacies, func(c context.Context) error {
		var ferr error
		pharmacies, ferr = o.caps.Pharmacies.Find(c, t.conv.PatientID, "")
		return ferr
	})
	return pharmacies, err
}

func (o *Orchestrator) getPrices(ctx context.Context, t *turn, medication string, pharmacies []erx.Pharmacy) ([]erx.Quote, error) {
	var quotes []erx.Quote
	err := o.callData(ctx, t, erx.ToolGetPrices, func(c context.Context) error {
		var perr error
		quotes, perr = o.caps.Pharmacies.Prices(c, medication, pharmacies)
		return perr
	})
	return quotes, err
}

func (o *Orchestrator) submitOrder(ctx context.Context, t *turn, order erx.Order) (erx.OrderConfirmation, error) {
	var confirmation erx.OrderConfirmation
	err := o.callData(ctx, t, erx.ToolSubmitOrder, func(c context.Context) error {
		var serr error
		confirmation, serr = o.caps.Orders.Submit(c, order)
		return serr
	})
	return confirmation, err
}

// toolOutcome tags a capability result for turn records.
func toolOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, erx.ErrNotFound):
		return "empty"
	default:
		return "error"
	}
}

// handlesExit reports whether the table gives the state its own exit
// for a cancel or restart, so the global reset stands back.
func handlesExit(s State, in intent.Intent) bool {
	switch in {
	case intent.IntentCancel:
		return s == StateConfirmOrder || s.IsEscalation()
	case intent.IntentRestart:
		return s == StateError
	}
	return false
}

// expectsMedication marks the states whose pending question is "which
// medication", so free text reads as an answer rather than noise.
func expectsMedication(s State) bool {
	return s == StateStart || s == StateIdentifyMedication || s == StateClarifyMedication
}

// smalltalkPattern catches greetings the expecting-medication rule
// would otherwise read as a medication name.
var smalltalkPattern = regexp.MustCompile(`(?i)^(hi|hello|hey|good (morning|afternoon|evening)|thanks|thank you|help)[.!? ]*$`)

// wholeQuery treats the whole message as the medication search text.
func wholeQuery(text string) string {
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(text), ".!?,;"))
}

// medicationSlot maps a directory record onto the conversation slot.
func medicationSlot(med erx.Medication) *MedicationSlot {
	return &MedicationSlot{
		Name:                med.Name,
		Dosage:              med.Dosage,
		RxCUI:               med.RxCUI,
		RefillsRemaining:    med.RefillsRemaining,
		PrescriptionExpired: med.PrescriptionExpired,
		ControlledSubstance: med.ControlledSubstance,
		LastFilled:          med.LastFilled,
		DaysSupply:          med.DaysSupply,
	}
}

// candidatesOf maps ambiguous matches onto presentation candidates.
func candidatesOf(meds []erx.Medication) []MedicationCandidate {
	out := make([]MedicationCandidate, len(meds))
	for i, m := range meds {
		out[i] = MedicationCandidate{Name: m.Name, Dosage: m.Dosage, RxCUI: m.RxCUI}
	}
	return out
}

func candidateNames(candidates []MedicationCandidate) []string {
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Name
	}
	return names
}

// exactMedication finds the record matching the resolved pick.
func exactMedication(meds []erx.Medication, name string) (erx.Medication, bool) {
	for _, m := range meds {
		if strings.EqualFold(m.Name, name) {
			return m, true
		}
	}
	if len(meds) == 1 {
		return meds[0], true
	}
	return erx.Medication{}, false
}

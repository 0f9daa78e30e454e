package refill

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/rxpilot/erx"
	"github.com/c360studio/rxpilot/escalation"
	"github.com/c360studio/rxpilot/intent"
	"github.com/c360studio/rxpilot/llm"
	"github.com/c360studio/rxpilot/llm/testutil"
)

// demoCapabilities builds the full demo stack. mutate, when non-nil,
// swaps individual capabilities before the orchestrator is constructed.
func demoCapabilities(mutate func(*Capabilities)) Capabilities {
	store := erx.NewCatalogStore(erx.DefaultCatalog(time.Now()))
	caps := Capabilities{
		Medications:  erx.NewDemoDirectory(store),
		Interactions: erx.NewDemoInteractions(store),
		Formulary:    erx.NewDemoFormulary(store),
		Pharmacies:   erx.NewDemoPharmacies(store),
		Orders:       erx.NewDemoGateway(),
	}
	if mutate != nil {
		mutate(&caps)
	}
	return caps
}

func newTestOrchestrator(t *testing.T, mutate func(*Capabilities), opts ...Option) (*Orchestrator, *SessionStore) {
	t.Helper()
	store := NewSessionStore()
	orch, err := NewOrchestrator(store, demoCapabilities(mutate), opts...)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return orch, store
}

func sendTurn(t *testing.T, orch *Orchestrator, sessionID, text string) *TurnResult {
	t.Helper()
	res, err := orch.Turn(context.Background(), TurnRequest{
		SessionID: sessionID,
		PatientID: erx.DemoPatientID,
		Text:      text,
	})
	if err != nil {
		t.Fatalf("Turn(%q): %v", text, err)
	}
	return res
}

func wantState(t *testing.T, res *TurnResult, want State) {
	t.Helper()
	if res.State != want {
		t.Fatalf("state = %s, want %s (reply: %q)", res.State, want, res.Reply)
	}
}

func wantTriggers(t *testing.T, res *TurnResult, want ...Trigger) {
	t.Helper()
	var got []Trigger
	for _, step := range res.Transitions {
		got = append(got, step.Trigger)
	}
	if len(got) != len(want) {
		t.Fatalf("triggers = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("triggers = %v, want %v", got, want)
		}
	}
}

func mustGet(t *testing.T, store *SessionStore, sessionID string) *ConversationContext {
	t.Helper()
	conv, err := store.Get(sessionID)
	if err != nil {
		t.Fatalf("Get(%s): %v", sessionID, err)
	}
	return conv
}

// reachSelectPharmacy walks a fresh session to SELECT_PHARMACY with a
// lisinopril refill and returns the session id.
func reachSelectPharmacy(t *testing.T, orch *Orchestrator) string {
	t.Helper()
	res := sendTurn(t, orch, "", "I need to refill my lisinopril")
	wantState(t, res, StateConfirmDosage)
	sid := res.SessionID
	res = sendTurn(t, orch, sid, "yes")
	wantState(t, res, StateSelectPharmacy)
	return sid
}

func reachConfirmOrder(t *testing.T, orch *Orchestrator) string {
	t.Helper()
	sid := reachSelectPharmacy(t, orch)
	res := sendTurn(t, orch, sid, "Main Street Pharmacy please")
	wantState(t, res, StateConfirmOrder)
	return sid
}

func reachComplete(t *testing.T, orch *Orchestrator) string {
	t.Helper()
	sid := reachConfirmOrder(t, orch)
	res := sendTurn(t, orch, sid, "yes, place it")
	wantState(t, res, StateComplete)
	return sid
}

// recordingSink collects committed events for assertions.
type recordingSink struct {
	transitions []StateTransitionedEvent
	escalations []EscalationRaisedEvent
	orders      []OrderSubmittedEvent
}

func (s *recordingSink) StateTransitioned(e StateTransitionedEvent) {
	s.transitions = append(s.transitions, e)
}

func (s *recordingSink) EscalationRaised(e EscalationRaisedEvent) {
	s.escalations = append(s.escalations, e)
}

func (s *recordingSink) OrderSubmitted(e OrderSubmittedEvent) {
	s.orders = append(s.orders, e)
}

// flakyInteractions fails lookups while fail is set, otherwise
// delegates to the wrapped source.
type flakyInteractions struct {
	inner erx.Interactions
	fail  bool
}

func (f *flakyInteractions) Lookup(ctx context.Context, patientID, medication string) ([]escalation.InteractionSignal, error) {
	if f.fail {
		return nil, errors.New("interaction service unavailable")
	}
	return f.inner.Lookup(ctx, patientID, medication)
}

func TestNewOrchestratorRequiresCapabilities(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Capabilities)
	}{
		{"missing medications", func(c *Capabilities) { c.Medications = nil }},
		{"missing interactions", func(c *Capabilities) { c.Interactions = nil }},
		{"missing formulary", func(c *Capabilities) { c.Formulary = nil }},
		{"missing pharmacies", func(c *Capabilities) { c.Pharmacies = nil }},
		{"missing orders", func(c *Capabilities) { c.Orders = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOrchestrator(NewSessionStore(), demoCapabilities(tt.mutate))
			if err == nil {
				t.Fatal("expected constructor error")
			}
		})
	}

	t.Run("nil store", func(t *testing.T) {
		_, err := NewOrchestrator(nil, demoCapabilities(nil))
		if err == nil {
			t.Fatal("expected constructor error")
		}
	})
}

func TestTurnRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     TurnRequest
		wantErr bool
	}{
		{"valid", TurnRequest{PatientID: "p1", Text: "hi"}, false},
		{"missing patient", TurnRequest{Text: "hi"}, true},
		{"missing text", TurnRequest{PatientID: "p1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRefillHappyPath(t *testing.T) {
	sink := &recordingSink{}
	orch, store := newTestOrchestrator(t, nil,
		WithEventSink(sink),
		WithMetrics(NewMetrics(prometheus.NewRegistry())),
	)

	res := sendTurn(t, orch, "", "I need to refill my lisinopril")
	if !res.NewSession {
		t.Error("first turn should open a new session")
	}
	if res.SessionID == "" {
		t.Fatal("missing session id")
	}
	if res.Intent != intent.IntentRefillRequest {
		t.Errorf("intent = %s, want %s", res.Intent, intent.IntentRefillRequest)
	}
	wantState(t, res, StateConfirmDosage)
	wantTriggers(t, res, TriggerMedicationMentioned, TriggerMedicationFound)
	if !strings.Contains(res.Reply, "lisinopril") || !strings.Contains(res.Reply, "10 mg") {
		t.Errorf("dosage prompt should name the prescription, got %q", res.Reply)
	}
	sid := res.SessionID

	res = sendTurn(t, orch, sid, "Yes, it's 10mg once daily")
	if res.NewSession {
		t.Error("existing session flagged as new")
	}
	wantState(t, res, StateSelectPharmacy)
	wantTriggers(t, res, TriggerDosageConfirmed, TriggerNoPARequired)
	if !strings.Contains(res.Reply, "copay") {
		t.Errorf("coverage reply should mention the copay, got %q", res.Reply)
	}
	if !strings.Contains(res.Reply, "Main Street Pharmacy") {
		t.Errorf("pharmacy reply should list options, got %q", res.Reply)
	}

	res = sendTurn(t, orch, sid, "Main Street Pharmacy please")
	wantState(t, res, StateConfirmOrder)
	wantTriggers(t, res, TriggerPharmacySelected)
	if !strings.Contains(res.Reply, "$8.50") {
		t.Errorf("order recap should quote the price, got %q", res.Reply)
	}

	res = sendTurn(t, orch, sid, "Yes, place the order")
	wantState(t, res, StateComplete)
	wantTriggers(t, res, TriggerOrderConfirmed)
	if res.Order == nil {
		t.Fatal("completed turn should carry order details")
	}
	if !strings.HasPrefix(res.Order.OrderID, "ord-") {
		t.Errorf("order id = %q, want ord- prefix", res.Order.OrderID)
	}
	if res.Order.PharmacyID != "ph-main-street" {
		t.Errorf("pharmacy = %s, want ph-main-street", res.Order.PharmacyID)
	}
	if !strings.Contains(res.Reply, res.Order.OrderID) {
		t.Errorf("confirmation reply should include the order id, got %q", res.Reply)
	}

	if len(sink.transitions) != 6 {
		t.Errorf("transition events = %d, want 6", len(sink.transitions))
	}
	first := sink.transitions[0]
	if first.From != string(StateStart) || first.To != string(StateIdentifyMedication) {
		t.Errorf("first event %s -> %s, want START -> IDENTIFY_MEDICATION", first.From, first.To)
	}
	if len(sink.escalations) != 0 {
		t.Errorf("unexpected escalation events: %+v", sink.escalations)
	}
	if len(sink.orders) != 1 {
		t.Fatalf("order events = %d, want 1", len(sink.orders))
	}
	if sink.orders[0].OrderID != res.Order.OrderID {
		t.Errorf("order event id = %s, want %s", sink.orders[0].OrderID, res.Order.OrderID)
	}
	if sink.orders[0].Medication != "lisinopril" {
		t.Errorf("order event medication = %s, want lisinopril", sink.orders[0].Medication)
	}

	conv := mustGet(t, store, sid)
	if len(conv.History) != 6 {
		t.Fatalf("history length = %d, want 6", len(conv.History))
	}
	if conv.History[0].UserText != "I need to refill my lisinopril" {
		t.Errorf("first record text = %q", conv.History[0].UserText)
	}
	if conv.History[1].UserText != "" {
		t.Errorf("cascade record should not repeat the utterance, got %q", conv.History[1].UserText)
	}
	got, err := Replay(conv.History)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if got != StateComplete {
		t.Errorf("Replay = %s, want %s", got, StateComplete)
	}
}

func TestInlineDosageSkipsConfirmation(t *testing.T) {
	orch, _ := newTestOrchestrator(t, nil)

	res := sendTurn(t, orch, "", "refill lisinopril 10 mg")
	wantState(t, res, StateSelectPharmacy)
	wantTriggers(t, res,
		TriggerMedicationMentioned,
		TriggerMedicationFound,
		TriggerDosageConfirmed,
		TriggerNoPARequired,
	)
}

func TestDosageMismatchReprompts(t *testing.T) {
	orch, store := newTestOrchestrator(t, nil)

	res := sendTurn(t, orch, "", "refill my lisinopril")
	wantState(t, res, StateConfirmDosage)
	sid := res.SessionID

	res = sendTurn(t, orch, sid, "no, it says 20 mg")
	wantState(t, res, StateConfirmDosage)
	if len(res.Transitions) != 0 {
		t.Fatalf("mismatch should not transition, got %v", res.Transitions)
	}
	if !strings.Contains(res.Reply, "not 20 mg") {
		t.Errorf("mismatch reply should quote both strengths, got %q", res.Reply)
	}

	conv := mustGet(t, store, sid)
	last := conv.History[len(conv.History)-1]
	if last.Trigger != "" || last.UserText != "no, it says 20 mg" {
		t.Errorf("rejected turn record = %+v, want empty trigger with the utterance", last)
	}

	res = sendTurn(t, orch, sid, "yes, 10 mg")
	wantState(t, res, StateSelectPharmacy)

	// The empty-trigger record must not break reconstruction.
	conv = mustGet(t, store, sid)
	got, err := Replay(conv.History)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if got != StateSelectPharmacy {
		t.Errorf("Replay = %s, want %s", got, StateSelectPharmacy)
	}
}

func TestNegationWithoutDosageAsksForDosage(t *testing.T) {
	orch, _ := newTestOrchestrator(t, nil)

	res := sendTurn(t, orch, "", "refill my lisinopril")
	wantState(t, res, StateConfirmDosage)

	res = sendTurn(t, orch, res.SessionID, "no")
	wantState(t, res, StateConfirmDosage)
	if len(res.Transitions) != 0 {
		t.Fatalf("expected no transition, got %v", res.Transitions)
	}
	if !strings.Contains(res.Reply, "What dosage") {
		t.Errorf("reply should ask for the dosage, got %q", res.Reply)
	}
}

func TestAmbiguousRequestAsksForClarification(t *testing.T) {
	orch, store := newTestOrchestrator(t, nil)

	res := sendTurn(t, orch, "", "I need to refill my blood pressure medication")
	wantState(t, res, StateClarifyMedication)
	wantTriggers(t, res, TriggerMedicationMentioned, TriggerMedicationAmbiguous)
	if !strings.Contains(res.Reply, "lisinopril") || !strings.Contains(res.Reply, "amlodipine") {
		t.Errorf("clarify reply should list both candidates, got %q", res.Reply)
	}
	sid := res.SessionID

	conv := mustGet(t, store, sid)
	if conv.Medication == nil || !conv.Medication.Ambiguous {
		t.Fatalf("medication slot = %+v, want ambiguous", conv.Medication)
	}
	if len(conv.Medication.Candidates) != 2 {
		t.Fatalf("candidates = %v, want 2", conv.Medication.Candidates)
	}

	res = sendTurn(t, orch, sid, "The first one")
	wantState(t, res, StateConfirmDosage)
	wantTriggers(t, res, TriggerMedicationClarified)
	if !strings.Contains(res.Reply, "lisinopril") {
		t.Errorf("dosage prompt should name the resolved medication, got %q", res.Reply)
	}

	conv = mustGet(t, store, sid)
	if conv.Medication.Ambiguous || conv.Medication.Name != "lisinopril" {
		t.Errorf("resolved slot = %+v, want lisinopril", conv.Medication)
	}
}

func TestUnmatchedClarificationStaysInClarify(t *testing.T) {
	orch, _ := newTestOrchestrator(t, nil)

	res := sendTurn(t, orch, "", "refill my blood pressure medication")
	wantState(t, res, StateClarifyMedication)

	res = sendTurn(t, orch, res.SessionID, "the blue one")
	wantState(t, res, StateClarifyMedication)
	wantTriggers(t, res, TriggerStillAmbiguous)
	if !strings.Contains(res.Reply, "Which one") {
		t.Errorf("reply should repeat the options, got %q", res.Reply)
	}
}

func TestGreetingDoesNotStartRefill(t *testing.T) {
	sink := &recordingSink{}
	orch, store := newTestOrchestrator(t, nil, WithEventSink(sink))

	res := sendTurn(t, orch, "", "hello")
	wantState(t, res, StateStart)
	if len(res.Transitions) != 0 {
		t.Fatalf("greeting should not transition, got %v", res.Transitions)
	}
	if !strings.Contains(res.Reply, "Which medication") {
		t.Errorf("reply should ask for a medication, got %q", res.Reply)
	}
	if len(sink.transitions) != 0 {
		t.Errorf("no events expected, got %+v", sink.transitions)
	}

	conv := mustGet(t, store, res.SessionID)
	if len(conv.History) != 1 {
		t.Fatalf("history = %d records, want 1", len(conv.History))
	}
	if conv.History[0].UserText != "hello" || conv.History[0].Trigger != "" {
		t.Errorf("record = %+v, want utterance with empty trigger", conv.History[0])
	}
}

func TestUnknownMedicationEscalatesToPharmacist(t *testing.T) {
	sink := &recordingSink{}
	orch, _ := newTestOrchestrator(t, nil, WithEventSink(sink))

	res := sendTurn(t, orch, "", "refill my tylenol")
	wantState(t, res, StateEscalatePharmacist)
	wantTriggers(t, res, TriggerMedicationMentioned, TriggerMedicationNotFound)
	if res.Escalation == nil {
		t.Fatal("expected escalation details")
	}
	if res.Escalation.Type != escalation.TypePharmacist {
		t.Errorf("type = %s, want pharmacist", res.Escalation.Type)
	}
	if len(res.Escalation.Reasons) != 1 || res.Escalation.Reasons[0] != escalation.ReasonMedicationNotFound {
		t.Errorf("reasons = %v, want [medication_not_found]", res.Escalation.Reasons)
	}

	if len(sink.escalations) != 1 {
		t.Fatalf("escalation events = %d, want 1", len(sink.escalations))
	}
	if sink.escalations[0].Medication != "tylenol" {
		t.Errorf("event medication = %q, want the unmatched query", sink.escalations[0].Medication)
	}
}

func TestClinicalEscalationPaths(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		wantState   State
		wantType    escalation.Type
		wantReasons []escalation.ReasonCode
	}{
		{
			name:        "zero refills remaining",
			text:        "refill my metformin",
			wantState:   StateEscalateDoctor,
			wantType:    escalation.TypeDoctor,
			wantReasons: []escalation.ReasonCode{escalation.ReasonNoRefillsRemaining},
		},
		{
			name:      "controlled substance requested early",
			text:      "I need more of my oxycodone",
			wantState: StateEscalateDoctor,
			wantType:  escalation.TypeDoctor,
			wantReasons: []escalation.ReasonCode{
				escalation.ReasonControlledSubstance,
				escalation.ReasonEarlyRefillRequest,
			},
		},
		{
			name:        "early refill",
			text:        "refill my sertraline",
			wantState:   StateEscalatePharmacist,
			wantType:    escalation.TypePharmacist,
			wantReasons: []escalation.ReasonCode{escalation.ReasonEarlyRefillRequest},
		},
		{
			name:        "interaction concern",
			text:        "refill my ibuprofen",
			wantState:   StateEscalatePharmacist,
			wantType:    escalation.TypePharmacist,
			wantReasons: []escalation.ReasonCode{escalation.ReasonDrugInteractionConcern},
		},
		{
			name:      "expired prescription",
			text:      "refill my warfarin",
			wantState: StateEscalateDoctor,
			wantType:  escalation.TypeDoctor,
			wantReasons: []escalation.ReasonCode{
				escalation.ReasonPrescriptionExpired,
				escalation.ReasonDrugInteractionConcern,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch, _ := newTestOrchestrator(t, nil)

			res := sendTurn(t, orch, "", tt.text)
			wantState(t, res, StateConfirmDosage)

			res = sendTurn(t, orch, res.SessionID, "yes")
			wantState(t, res, tt.wantState)
			wantTriggers(t, res, TriggerDosageConfirmed, TriggerEscalationTriggered)
			if res.Escalation == nil {
				t.Fatal("expected escalation details")
			}
			if res.Escalation.Type != tt.wantType {
				t.Errorf("type = %s, want %s", res.Escalation.Type, tt.wantType)
			}
			if len(res.Escalation.Reasons) != len(tt.wantReasons) {
				t.Fatalf("reasons = %v, want %v", res.Escalation.Reasons, tt.wantReasons)
			}
			for i, want := range tt.wantReasons {
				if res.Escalation.Reasons[i] != want {
					t.Fatalf("reasons = %v, want %v", res.Escalation.Reasons, tt.wantReasons)
				}
			}
			if res.Escalation.Message == "" {
				t.Error("escalation message should tell the patient what happens next")
			}
			if !strings.Contains(res.Reply, "Reply yes once this is taken care of") {
				t.Errorf("escalation reply should explain how to resume, got %q", res.Reply)
			}
		})
	}
}

func TestPriorAuthorizationEscalation(t *testing.T) {
	sink := &recordingSink{}
	orch, store := newTestOrchestrator(t, nil, WithEventSink(sink))

	res := sendTurn(t, orch, "", "I need a refill of eliquis")
	wantState(t, res, StateConfirmDosage)
	sid := res.SessionID

	res = sendTurn(t, orch, sid, "yes")
	wantState(t, res, StateEscalatePA)
	wantTriggers(t, res, TriggerDosageConfirmed, TriggerPARequired)
	if res.Escalation == nil {
		t.Fatal("expected escalation details")
	}
	if res.Escalation.Type != escalation.TypePharmacist {
		t.Errorf("type = %s, want pharmacist", res.Escalation.Type)
	}
	if len(res.Escalation.Reasons) != 1 || res.Escalation.Reasons[0] != escalation.ReasonPriorAuthRequired {
		t.Errorf("reasons = %v, want [prior_auth_required]", res.Escalation.Reasons)
	}

	conv := mustGet(t, store, sid)
	if conv.Insurance == nil || !conv.Insurance.PriorAuthRequired {
		t.Fatalf("insurance slot = %+v, want prior auth flag", conv.Insurance)
	}
	if conv.Insurance.CopayCents != 4500 {
		t.Errorf("copay = %d, want 4500", conv.Insurance.CopayCents)
	}

	if len(sink.escalations) != 1 {
		t.Fatalf("escalation events = %d, want 1", len(sink.escalations))
	}
	if sink.escalations[0].Type != string(escalation.TypePharmacist) {
		t.Errorf("event type = %s, want pharmacist", sink.escalations[0].Type)
	}
}

func TestEscalationResolvedCompletes(t *testing.T) {
	orch, _ := newTestOrchestrator(t, nil)

	res := sendTurn(t, orch, "", "refill my metformin")
	sid := res.SessionID
	res = sendTurn(t, orch, sid, "yes")
	wantState(t, res, StateEscalateDoctor)

	res = sendTurn(t, orch, sid, "yes, I called them")
	wantState(t, res, StateComplete)
	wantTriggers(t, res, TriggerResolved)
	if res.Order != nil {
		t.Errorf("escalated conversation should not carry an order, got %+v", res.Order)
	}
}

func TestEscalationDeclinedReturnsToStart(t *testing.T) {
	orch, store := newTestOrchestrator(t, nil)

	res := sendTurn(t, orch, "", "refill my metformin")
	sid := res.SessionID
	res = sendTurn(t, orch, sid, "yes")
	wantState(t, res, StateEscalateDoctor)

	res = sendTurn(t, orch, sid, "no thanks")
	wantState(t, res, StateStart)
	wantTriggers(t, res, TriggerDeclined)

	conv := mustGet(t, store, sid)
	if conv.Medication != nil {
		t.Errorf("slots should clear on the way back to START, got %+v", conv.Medication)
	}
	if len(conv.History) != 5 {
		t.Errorf("history = %d records, want 5 (trail preserved)", len(conv.History))
	}
}

func TestCancelResetsConversation(t *testing.T) {
	orch, store := newTestOrchestrator(t, nil)

	res := sendTurn(t, orch, "", "refill my lisinopril")
	wantState(t, res, StateConfirmDosage)
	sid := res.SessionID

	res = sendTurn(t, orch, sid, "actually, cancel that")
	wantState(t, res, StateStart)
	if res.SessionID != sid {
		t.Errorf("session id changed on reset: %s -> %s", sid, res.SessionID)
	}
	if len(res.Transitions) != 0 {
		t.Fatalf("reset should not record transitions, got %v", res.Transitions)
	}
	if !strings.Contains(res.Reply, "cancelled") {
		t.Errorf("reply should acknowledge the cancellation, got %q", res.Reply)
	}

	conv := mustGet(t, store, sid)
	if len(conv.History) != 0 {
		t.Errorf("history = %d records, want 0 after reset", len(conv.History))
	}
	if conv.Medication != nil || conv.Dosage != "" {
		t.Errorf("slots should clear on reset, got med=%+v dosage=%q", conv.Medication, conv.Dosage)
	}
}

func TestCancelAtOrderConfirmationKeepsHistory(t *testing.T) {
	orch, store := newTestOrchestrator(t, nil)
	sid := reachConfirmOrder(t, orch)

	res := sendTurn(t, orch, sid, "cancel")
	wantState(t, res, StateStart)
	wantTriggers(t, res, TriggerOrderCancelled)
	if !strings.Contains(res.Reply, "cancelled") {
		t.Errorf("reply should acknowledge the cancellation, got %q", res.Reply)
	}

	conv := mustGet(t, store, sid)
	if len(conv.History) != 6 {
		t.Errorf("history = %d records, want 6 (order cancel is recorded, not a reset)", len(conv.History))
	}
	if conv.Medication != nil {
		t.Errorf("slots should clear on the way back to START, got %+v", conv.Medication)
	}
}

func TestCompleteIsTerminalUntilNewRequest(t *testing.T) {
	orch, store := newTestOrchestrator(t, nil)
	sid := reachComplete(t, orch)

	res := sendTurn(t, orch, sid, "thanks, yes")
	wantState(t, res, StateComplete)
	if len(res.Transitions) != 0 {
		t.Fatalf("completed conversation should ignore follow-ups, got %v", res.Transitions)
	}

	res = sendTurn(t, orch, sid, "great, now refill my metformin")
	wantState(t, res, StateConfirmDosage)
	wantTriggers(t, res, TriggerMedicationMentioned, TriggerMedicationFound)
	if res.NewSession {
		t.Error("new request should reuse the session")
	}

	conv := mustGet(t, store, sid)
	if conv.Medication == nil || conv.Medication.Name != "metformin" {
		t.Fatalf("medication slot = %+v, want metformin", conv.Medication)
	}
	if len(conv.History) != 2 {
		t.Errorf("history = %d records, want 2 (fresh conversation)", len(conv.History))
	}
}

func TestCapabilityFailureRoutesToError(t *testing.T) {
	flaky := &flakyInteractions{}
	orch, store := newTestOrchestrator(t, func(c *Capabilities) {
		flaky.inner = c.Interactions
		c.Interactions = flaky
	})

	res := sendTurn(t, orch, "", "refill my lisinopril")
	wantState(t, res, StateConfirmDosage)
	sid := res.SessionID

	flaky.fail = true
	res = sendTurn(t, orch, sid, "yes")
	wantState(t, res, StateError)
	wantTriggers(t, res, TriggerDosageConfirmed, TriggerSystemError)
	if !strings.Contains(res.Reply, "retry") {
		t.Errorf("apology should explain how to retry, got %q", res.Reply)
	}

	conv := mustGet(t, store, sid)
	last := conv.History[len(conv.History)-1]
	if last.Trigger != TriggerSystemError {
		t.Fatalf("last record trigger = %s, want system_error", last.Trigger)
	}
	if len(last.ToolCalls) != 1 || last.ToolCalls[0].Tool != erx.ToolLookupDrugInteractions {
		t.Fatalf("tool calls = %+v, want the failed interaction lookup", last.ToolCalls)
	}
	if last.ToolCalls[0].Outcome != "error" {
		t.Errorf("tool outcome = %s, want error", last.ToolCalls[0].Outcome)
	}

	// The slots survived the fault, so a retry picks up where it left off.
	flaky.fail = false
	res = sendTurn(t, orch, sid, "try again")
	wantState(t, res, StateSelectPharmacy)
	wantTriggers(t, res,
		TriggerRetry,
		TriggerMedicationFound,
		TriggerDosageConfirmed,
		TriggerNoPARequired,
	)
}

func TestRestartFromError(t *testing.T) {
	flaky := &flakyInteractions{fail: true}
	orch, store := newTestOrchestrator(t, func(c *Capabilities) {
		flaky.inner = c.Interactions
		c.Interactions = flaky
	})

	res := sendTurn(t, orch, "", "refill my lisinopril")
	sid := res.SessionID
	res = sendTurn(t, orch, sid, "yes")
	wantState(t, res, StateError)

	res = sendTurn(t, orch, sid, "let's start over")
	wantState(t, res, StateStart)
	wantTriggers(t, res, TriggerRestartConversation)

	conv := mustGet(t, store, sid)
	if conv.Medication != nil || conv.Dosage != "" {
		t.Errorf("slots should clear on restart, got med=%+v dosage=%q", conv.Medication, conv.Dosage)
	}
	if len(conv.History) != 5 {
		t.Errorf("history = %d records, want 5 (restart is recorded)", len(conv.History))
	}
}

func TestReplyGeneratorRewordsDraft(t *testing.T) {
	reworded := "Sure! Your lisinopril 10 mg is on file. Is that the right dose?"
	mock := &testutil.MockLLMClient{
		Responses: []*llm.Response{{Content: reworded, Model: "test-model"}},
	}
	orch, _ := newTestOrchestrator(t, func(c *Capabilities) {
		c.Replier = erx.NewLLMReplier(mock)
	})

	res := sendTurn(t, orch, "", "refill my lisinopril")
	wantState(t, res, StateConfirmDosage)
	if res.Reply != reworded {
		t.Errorf("reply = %q, want the model output", res.Reply)
	}

	reqs := mock.GetCapturedRequests()
	if len(reqs) != 1 {
		t.Fatalf("model calls = %d, want 1", len(reqs))
	}
	if reqs[0].Capability != "conversation" {
		t.Errorf("capability = %s, want conversation", reqs[0].Capability)
	}
	if len(reqs[0].Messages) == 0 || reqs[0].Messages[0].Role != "system" {
		t.Fatalf("messages = %+v, want system prompt first", reqs[0].Messages)
	}
	if !strings.Contains(reqs[0].Messages[0].Content, "lisinopril") {
		t.Error("system prompt should embed the drafted facts")
	}
	last := reqs[0].Messages[len(reqs[0].Messages)-1]
	if last.Role != "user" || last.Content != "refill my lisinopril" {
		t.Errorf("last message = %+v, want the patient utterance", last)
	}
}

func TestReplyGeneratorFailureFallsBack(t *testing.T) {
	t.Run("transport error", func(t *testing.T) {
		mock := &testutil.MockLLMClient{Err: errors.New("model offline")}
		orch, store := newTestOrchestrator(t, func(c *Capabilities) {
			c.Replier = erx.NewLLMReplier(mock)
		})

		res := sendTurn(t, orch, "", "refill my lisinopril")
		wantState(t, res, StateConfirmDosage)
		if !strings.Contains(res.Reply, "I found lisinopril 10 mg") {
			t.Errorf("reply = %q, want the template fallback", res.Reply)
		}

		conv := mustGet(t, store, res.SessionID)
		last := conv.History[len(conv.History)-1]
		found := false
		for _, call := range last.ToolCalls {
			if call.Tool == erx.ToolGenerateReply {
				found = true
				if call.Outcome != "error" {
					t.Errorf("generate_reply outcome = %s, want error", call.Outcome)
				}
			}
		}
		if !found {
			t.Errorf("tool calls = %+v, want a generate_reply entry", last.ToolCalls)
		}
	})

	t.Run("empty completion", func(t *testing.T) {
		// No queued responses, so the mock returns empty content.
		mock := &testutil.MockLLMClient{}
		orch, _ := newTestOrchestrator(t, func(c *Capabilities) {
			c.Replier = erx.NewLLMReplier(mock)
		})

		res := sendTurn(t, orch, "", "refill my lisinopril")
		if !strings.Contains(res.Reply, "I found lisinopril 10 mg") {
			t.Errorf("reply = %q, want the template fallback", res.Reply)
		}
	})
}

func TestPharmacySelectionByOrdinal(t *testing.T) {
	orch, store := newTestOrchestrator(t, nil)
	sid := reachSelectPharmacy(t, orch)

	res := sendTurn(t, orch, sid, "the second one")
	wantState(t, res, StateConfirmOrder)
	wantTriggers(t, res, TriggerPharmacySelected)

	conv := mustGet(t, store, sid)
	if conv.Pharmacy == nil || conv.Pharmacy.ID != "ph-mailrx" {
		t.Fatalf("pharmacy slot = %+v, want ph-mailrx", conv.Pharmacy)
	}
	if conv.Pharmacy.PriceCents != 620 {
		t.Errorf("price = %d, want 620", conv.Pharmacy.PriceCents)
	}
	if !strings.Contains(res.Reply, "$6.20") {
		t.Errorf("recap should quote the mail order price, got %q", res.Reply)
	}
}

func TestUnmatchedPharmacyReplyKeepsAsking(t *testing.T) {
	orch, _ := newTestOrchestrator(t, nil)
	sid := reachSelectPharmacy(t, orch)

	res := sendTurn(t, orch, sid, "somewhere cheap I guess")
	wantState(t, res, StateSelectPharmacy)
	if len(res.Transitions) != 0 {
		t.Fatalf("unmatched choice should not transition, got %v", res.Transitions)
	}
	if !strings.Contains(res.Reply, "Main Street Pharmacy") {
		t.Errorf("reply should repeat the options, got %q", res.Reply)
	}
}

func TestStaleSessionStartsFresh(t *testing.T) {
	orch, _ := newTestOrchestrator(t, nil)

	res := sendTurn(t, orch, "sess-long-gone", "refill my lisinopril")
	if !res.NewSession {
		t.Error("expired session id should open a fresh session")
	}
	if res.SessionID == "sess-long-gone" {
		t.Error("fresh session should get a new id")
	}
	wantState(t, res, StateConfirmDosage)
}

func TestSessionRejectsWrongPatient(t *testing.T) {
	orch, _ := newTestOrchestrator(t, nil)

	res := sendTurn(t, orch, "", "refill my lisinopril")
	sid := res.SessionID

	_, err := orch.Turn(context.Background(), TurnRequest{
		SessionID: sid,
		PatientID: "patient-2",
		Text:      "refill my levothyroxine",
	})
	if err == nil {
		t.Fatal("expected cross-patient rejection")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %T (%v), want *ValidationError", err, err)
	}
}

func TestResetSession(t *testing.T) {
	orch, store := newTestOrchestrator(t, nil)

	res := sendTurn(t, orch, "", "refill my lisinopril")
	sid := res.SessionID

	sum, err := orch.ResetSession(sid)
	if err != nil {
		t.Fatalf("ResetSession: %v", err)
	}
	if sum.State != StateStart {
		t.Errorf("summary state = %s, want START", sum.State)
	}
	if sum.SessionID != sid {
		t.Errorf("summary session = %s, want %s", sum.SessionID, sid)
	}

	conv := mustGet(t, store, sid)
	if conv.CurrentState != StateStart || len(conv.History) != 0 {
		t.Errorf("session after reset: state=%s history=%d, want START with empty history",
			conv.CurrentState, len(conv.History))
	}

	if _, err := orch.ResetSession("sess-missing"); err == nil {
		t.Error("expected error for unknown session")
	}
}

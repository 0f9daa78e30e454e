package scenarios

import (
	"context"
	"fmt"
	"strings"

	"github.com/c360studio/rxpilot/erx"
	"github.com/c360studio/rxpilot/refill"
	"github.com/c360studio/rxpilot/test/e2e/client"
	"github.com/c360studio/rxpilot/test/e2e/config"
)

// ConversationScenario walks a refill conversation from first message to
// submitted order through the refill-agent HTTP API.
type ConversationScenario struct {
	name        string
	description string
	config      *config.Config
	http        *client.HTTPClient
	sessionID   string
}

// NewConversationScenario creates the happy-path conversation scenario.
func NewConversationScenario(cfg *config.Config) *ConversationScenario {
	return &ConversationScenario{
		name:        "refill-conversation",
		description: "Walks a refill from request to submitted order via the turns API",
		config:      cfg,
	}
}

// Name returns the scenario name.
func (s *ConversationScenario) Name() string {
	return s.name
}

// Description returns the scenario description.
func (s *ConversationScenario) Description() string {
	return s.description
}

// Setup waits for the refill agent to come up.
func (s *ConversationScenario) Setup(ctx context.Context) error {
	s.http = client.NewHTTPClient(s.config.HTTPBaseURL)

	if err := s.http.WaitForHealthy(ctx); err != nil {
		return fmt.Errorf("service not healthy: %w", err)
	}

	health, err := s.http.Health(ctx)
	if err != nil {
		return fmt.Errorf("read health: %w", err)
	}
	if health.CatalogPatients == 0 {
		return fmt.Errorf("catalog has no patients; the agent needs its demo dataset or a catalog directory")
	}

	return nil
}

// Execute runs the conversation stages.
func (s *ConversationScenario) Execute(ctx context.Context) (*Result, error) {
	result := NewResult(s.name)
	defer result.Complete()

	runStages(ctx, result, s.config.StageTimeout, []stage{
		{"start-refill", s.stageStartRefill},
		{"confirm-dosage", s.stageConfirmDosage},
		{"select-pharmacy", s.stageSelectPharmacy},
		{"confirm-order", s.stageConfirmOrder},
		{"verify-order", s.stageVerifyOrder},
		{"verify-session", s.stageVerifySession},
	})

	return result, nil
}

// Teardown resets the scenario's session so reruns start clean.
func (s *ConversationScenario) Teardown(ctx context.Context) error {
	if s.sessionID == "" {
		return nil
	}
	if _, err := s.http.ResetSession(ctx, s.sessionID); err != nil {
		return fmt.Errorf("reset session %s: %w", s.sessionID, err)
	}
	return nil
}

// stageStartRefill opens a new session by naming the medication.
func (s *ConversationScenario) stageStartRefill(ctx context.Context, result *Result) error {
	text := fmt.Sprintf("I need a refill of my %s", config.HappyPathMedication)
	turn, err := s.http.RunTurn(ctx, "", s.config.PatientID, text)
	if err != nil {
		return fmt.Errorf("run first turn: %w", err)
	}

	s.sessionID = turn.SessionID
	result.SetDetail("session_id", turn.SessionID)
	result.SetDetail("first_reply", turn.Reply)

	if !turn.NewSession {
		return fmt.Errorf("expected a new session, got continuation of %s", turn.SessionID)
	}
	if turn.SessionID == "" {
		return fmt.Errorf("turn returned no session id")
	}
	if turn.State != refill.StateConfirmDosage {
		return fmt.Errorf("expected state %s, got %s (reply: %s)",
			refill.StateConfirmDosage, turn.State, turn.Reply)
	}
	if turn.Reply == "" {
		return fmt.Errorf("turn returned an empty reply")
	}

	return nil
}

// stageConfirmDosage answers yes and expects to land on pharmacy selection.
func (s *ConversationScenario) stageConfirmDosage(ctx context.Context, result *Result) error {
	sessionID, _ := result.GetDetailString("session_id")

	turn, err := s.http.RunTurn(ctx, sessionID, s.config.PatientID, "yes")
	if err != nil {
		return fmt.Errorf("confirm dosage: %w", err)
	}

	if turn.State != refill.StateSelectPharmacy {
		return fmt.Errorf("expected state %s, got %s (reply: %s)",
			refill.StateSelectPharmacy, turn.State, turn.Reply)
	}
	if len(turn.Transitions) < 2 {
		return fmt.Errorf("expected the dosage turn to pass through authorization, got %d transitions",
			len(turn.Transitions))
	}

	result.SetDetail("pharmacy_prompt", turn.Reply)
	return nil
}

// stageSelectPharmacy picks the first offered pharmacy.
func (s *ConversationScenario) stageSelectPharmacy(ctx context.Context, result *Result) error {
	sessionID, _ := result.GetDetailString("session_id")

	turn, err := s.http.RunTurn(ctx, sessionID, s.config.PatientID, "the first one")
	if err != nil {
		return fmt.Errorf("select pharmacy: %w", err)
	}

	if turn.State != refill.StateConfirmOrder {
		return fmt.Errorf("expected state %s, got %s (reply: %s)",
			refill.StateConfirmOrder, turn.State, turn.Reply)
	}

	result.SetDetail("order_prompt", turn.Reply)
	return nil
}

// stageConfirmOrder confirms and expects a completed order.
func (s *ConversationScenario) stageConfirmOrder(ctx context.Context, result *Result) error {
	sessionID, _ := result.GetDetailString("session_id")

	turn, err := s.http.RunTurn(ctx, sessionID, s.config.PatientID, "yes")
	if err != nil {
		return fmt.Errorf("confirm order: %w", err)
	}

	if turn.State != refill.StateComplete {
		return fmt.Errorf("expected state %s, got %s (reply: %s)",
			refill.StateComplete, turn.State, turn.Reply)
	}
	if turn.Order == nil || turn.Order.OrderID == "" {
		return fmt.Errorf("completed turn carried no order details")
	}
	if !strings.EqualFold(turn.Order.Medication, config.HappyPathMedication) {
		return fmt.Errorf("order is for %s, expected %s", turn.Order.Medication, config.HappyPathMedication)
	}

	result.SetDetail("order_id", turn.Order.OrderID)
	return nil
}

// stageVerifyOrder tracks the submitted order through the orders API.
func (s *ConversationScenario) stageVerifyOrder(ctx context.Context, result *Result) error {
	orderID, ok := result.GetDetailString("order_id")
	if !ok {
		return fmt.Errorf("order_id not recorded by confirm-order")
	}

	record, err := s.http.TrackOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("track order %s: %w", orderID, err)
	}

	if record.Status != erx.OrderSubmitted {
		return fmt.Errorf("expected order status %s, got %s", erx.OrderSubmitted, record.Status)
	}
	if record.PatientID != s.config.PatientID {
		return fmt.Errorf("order belongs to %s, expected %s", record.PatientID, s.config.PatientID)
	}

	orders, err := s.http.ListOrders(ctx, s.config.PatientID)
	if err != nil {
		return fmt.Errorf("list orders: %w", err)
	}
	if orders.Count == 0 {
		return fmt.Errorf("orders list is empty after submission")
	}

	result.SetMetric("orders_for_patient", orders.Count)
	return nil
}

// stageVerifySession checks the session summary reflects the finished flow.
func (s *ConversationScenario) stageVerifySession(ctx context.Context, result *Result) error {
	sessionID, _ := result.GetDetailString("session_id")
	orderID, _ := result.GetDetailString("order_id")

	summary, err := s.http.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("get session %s: %w", sessionID, err)
	}

	if summary.State != refill.StateComplete {
		return fmt.Errorf("session rests in %s, expected %s", summary.State, refill.StateComplete)
	}
	if summary.OrderID != orderID {
		return fmt.Errorf("session order id %s does not match submitted order %s", summary.OrderID, orderID)
	}
	if summary.Turns != 4 {
		return fmt.Errorf("expected 4 turns in the session, got %d", summary.Turns)
	}

	result.SetMetric("session_turns", summary.Turns)
	return nil
}

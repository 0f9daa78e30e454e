package scenarios

import (
	"context"
	"fmt"
	"strings"

	"github.com/c360studio/rxpilot/escalation"
	"github.com/c360studio/rxpilot/refill"
	"github.com/c360studio/rxpilot/test/e2e/client"
	"github.com/c360studio/rxpilot/test/e2e/config"
)

// EscalationScenario drives three refills that must leave the automated
// flow: a controlled substance, an early refill, and a prior-auth
// medication. It also verifies escalation events reach the event stream.
type EscalationScenario struct {
	name        string
	description string
	config      *config.Config
	http        *client.HTTPClient
	nats        *client.NATSClient
	capture     *client.MessageCapture
	sessions    []string
}

// NewEscalationScenario creates the escalation scenario.
func NewEscalationScenario(cfg *config.Config) *EscalationScenario {
	return &EscalationScenario{
		name:        "refill-escalation",
		description: "Verifies controlled, early, and prior-auth refills escalate and publish events",
		config:      cfg,
	}
}

// Name returns the scenario name.
func (s *EscalationScenario) Name() string {
	return s.name
}

// Description returns the scenario description.
func (s *EscalationScenario) Description() string {
	return s.description
}

// Setup connects the clients and starts capturing escalation events
// before any turn runs.
func (s *EscalationScenario) Setup(ctx context.Context) error {
	s.http = client.NewHTTPClient(s.config.HTTPBaseURL)
	if err := s.http.WaitForHealthy(ctx); err != nil {
		return fmt.Errorf("service not healthy: %w", err)
	}

	nc, err := client.NewNATSClient(ctx, s.config.NATSURL)
	if err != nil {
		return fmt.Errorf("connect NATS: %w", err)
	}
	s.nats = nc

	capture, err := nc.CaptureMessages(config.EscalationEventSubject)
	if err != nil {
		return fmt.Errorf("capture escalation events: %w", err)
	}
	s.capture = capture

	return nil
}

// Execute runs the escalation stages.
func (s *EscalationScenario) Execute(ctx context.Context) (*Result, error) {
	result := NewResult(s.name)
	defer result.Complete()

	runStages(ctx, result, s.config.StageTimeout, []stage{
		{"controlled-substance", s.stageControlled},
		{"early-refill", s.stageEarlyRefill},
		{"prior-auth", s.stagePriorAuth},
		{"verify-events", s.stageVerifyEvents},
	})

	return result, nil
}

// Teardown resets the scenario's sessions and closes the NATS client.
func (s *EscalationScenario) Teardown(ctx context.Context) error {
	var firstErr error
	for _, id := range s.sessions {
		if _, err := s.http.ResetSession(ctx, id); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("reset session %s: %w", id, err)
		}
	}
	if s.capture != nil {
		if err := s.capture.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.nats != nil {
		if err := s.nats.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// escalate runs the two-turn request/confirm exchange for a medication
// and returns the escalation carried by the final turn.
func (s *EscalationScenario) escalate(ctx context.Context, medication string, want refill.State) (*escalation.Result, error) {
	text := fmt.Sprintf("I need a refill of my %s", medication)
	first, err := s.http.RunTurn(ctx, "", s.config.PatientID, text)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", medication, err)
	}
	s.sessions = append(s.sessions, first.SessionID)

	if first.State != refill.StateConfirmDosage {
		return nil, fmt.Errorf("expected dosage confirmation for %s, got %s (reply: %s)",
			medication, first.State, first.Reply)
	}

	second, err := s.http.RunTurn(ctx, first.SessionID, s.config.PatientID, "yes")
	if err != nil {
		return nil, fmt.Errorf("confirm %s dosage: %w", medication, err)
	}

	if second.State != want {
		return nil, fmt.Errorf("expected %s to land in %s, got %s (reply: %s)",
			medication, want, second.State, second.Reply)
	}
	if second.Escalation == nil || !second.Escalation.Needed {
		return nil, fmt.Errorf("%s turn carried no escalation result", medication)
	}
	if second.Reply == "" {
		return nil, fmt.Errorf("%s escalation turn returned an empty reply", medication)
	}

	return second.Escalation, nil
}

func hasReason(esc *escalation.Result, want escalation.ReasonCode) bool {
	for _, r := range esc.Reasons {
		if r == want {
			return true
		}
	}
	return false
}

// stageControlled verifies a scheduled medication goes to the prescriber.
func (s *EscalationScenario) stageControlled(ctx context.Context, result *Result) error {
	esc, err := s.escalate(ctx, config.ControlledMedication, refill.StateEscalateDoctor)
	if err != nil {
		return err
	}

	if esc.Type != escalation.TypeDoctor {
		return fmt.Errorf("expected escalation type %s, got %s", escalation.TypeDoctor, esc.Type)
	}
	if !hasReason(esc, escalation.ReasonControlledSubstance) {
		return fmt.Errorf("expected reason %s, got %v", escalation.ReasonControlledSubstance, esc.Reasons)
	}
	if esc.ContactInfo == "" {
		result.AddWarning("controlled-substance escalation has no contact info")
	}

	result.SetDetail("controlled_reasons", esc.Reasons)
	return nil
}

// stageEarlyRefill verifies a too-soon refill goes to a pharmacist.
func (s *EscalationScenario) stageEarlyRefill(ctx context.Context, result *Result) error {
	esc, err := s.escalate(ctx, config.EarlyRefillMedication, refill.StateEscalatePharmacist)
	if err != nil {
		return err
	}

	if esc.Type != escalation.TypePharmacist {
		return fmt.Errorf("expected escalation type %s, got %s", escalation.TypePharmacist, esc.Type)
	}
	if !hasReason(esc, escalation.ReasonEarlyRefillRequest) {
		return fmt.Errorf("expected reason %s, got %v", escalation.ReasonEarlyRefillRequest, esc.Reasons)
	}

	result.SetDetail("early_refill_reasons", esc.Reasons)
	return nil
}

// stagePriorAuth verifies an insurance prior-auth demand escalates.
func (s *EscalationScenario) stagePriorAuth(ctx context.Context, result *Result) error {
	esc, err := s.escalate(ctx, config.PriorAuthMedication, refill.StateEscalatePA)
	if err != nil {
		return err
	}

	if !hasReason(esc, escalation.ReasonPriorAuthRequired) {
		return fmt.Errorf("expected reason %s, got %v", escalation.ReasonPriorAuthRequired, esc.Reasons)
	}

	result.SetDetail("prior_auth_reasons", esc.Reasons)
	return nil
}

// stageVerifyEvents waits for the three escalation events on the wire.
func (s *EscalationScenario) stageVerifyEvents(ctx context.Context, result *Result) error {
	if err := s.capture.WaitForCount(ctx, 3); err != nil {
		return fmt.Errorf("waiting for 3 escalation events, saw %d: %w", s.capture.Count(), err)
	}

	msgs := s.capture.Messages()
	result.SetMetric("escalation_events", len(msgs))

	// Spot-check the envelope carries domain fields without binding the
	// scenario to the full message schema.
	var sawDoctor bool
	for _, msg := range msgs {
		if strings.Contains(string(msg.Data), string(escalation.TypeDoctor)) {
			sawDoctor = true
			break
		}
	}
	if !sawDoctor {
		result.AddWarning("no captured escalation event mentions the doctor tier")
	}

	return nil
}

package scenarios

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/c360studio/rxpilot/test/e2e/client"
	"github.com/c360studio/rxpilot/test/e2e/config"
)

// CommandScenario exercises the slash commands over NATS: the dispatcher
// answers synchronously and the refill agent replies on the response
// subject afterwards.
type CommandScenario struct {
	name        string
	description string
	config      *config.Config
	nats        *client.NATSClient
	replies     *client.MessageCapture
	channelID   string
}

// NewCommandScenario creates the slash-command scenario.
func NewCommandScenario(cfg *config.Config) *CommandScenario {
	return &CommandScenario{
		name:        "slash-commands",
		description: "Tests /refill-help, /refill-status, and /refill dispatch over NATS",
		config:      cfg,
	}
}

// Name returns the scenario name.
func (s *CommandScenario) Name() string {
	return s.name
}

// Description returns the scenario description.
func (s *CommandScenario) Description() string {
	return s.description
}

// Setup connects NATS and starts capturing the channel's replies.
func (s *CommandScenario) Setup(ctx context.Context) error {
	nc, err := client.NewNATSClient(ctx, s.config.NATSURL)
	if err != nil {
		return fmt.Errorf("connect NATS: %w", err)
	}
	s.nats = nc
	s.channelID = fmt.Sprintf("e2e-%d", time.Now().UnixNano())

	subject := fmt.Sprintf("%s.%s.%s", config.UserResponseSubjectPrefix, config.E2EChannelType, s.channelID)
	capture, err := nc.CaptureMessages(subject)
	if err != nil {
		return fmt.Errorf("capture replies: %w", err)
	}
	s.replies = capture

	return nil
}

// Execute runs the command stages.
func (s *CommandScenario) Execute(ctx context.Context) (*Result, error) {
	result := NewResult(s.name)
	defer result.Complete()

	runStages(ctx, result, s.config.StageTimeout, []stage{
		{"help", s.stageHelp},
		{"help-specific", s.stageHelpSpecific},
		{"help-unknown", s.stageHelpUnknown},
		{"status-before-refill", s.stageStatusEmpty},
		{"start-refill", s.stageStartRefill},
		{"cancel", s.stageCancel},
	})

	return result, nil
}

// Teardown stops the capture and closes NATS.
func (s *CommandScenario) Teardown(ctx context.Context) error {
	var firstErr error
	if s.replies != nil {
		if err := s.replies.Stop(); err != nil {
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

// send dispatches one slash command on the scenario channel.
func (s *CommandScenario) send(ctx context.Context, content string) (*client.UserResponse, error) {
	return s.nats.SendCommand(ctx, config.E2EChannelType, s.channelID, s.config.PatientID,
		content, s.config.CommandTimeout)
}

// stageHelp verifies /refill-help lists the conversation commands.
func (s *CommandScenario) stageHelp(ctx context.Context, result *Result) error {
	resp, err := s.send(ctx, "/refill-help")
	if err != nil {
		return fmt.Errorf("send /refill-help: %w", err)
	}

	if resp.Type == "error" {
		return fmt.Errorf("/refill-help returned error: %s", resp.Content)
	}

	content := strings.ToLower(resp.Content)
	for _, cmd := range []string{"/refill", "/refill-status", "/refill-cancel", "/refill-help"} {
		if !strings.Contains(content, cmd) {
			return fmt.Errorf("/refill-help output is missing %s", cmd)
		}
	}

	result.SetDetail("help_content", resp.Content)
	return nil
}

// stageHelpSpecific verifies per-command help.
func (s *CommandScenario) stageHelpSpecific(ctx context.Context, result *Result) error {
	resp, err := s.send(ctx, "/refill-help refill-status")
	if err != nil {
		return fmt.Errorf("send /refill-help refill-status: %w", err)
	}

	if resp.Type == "error" {
		return fmt.Errorf("/refill-help refill-status returned error: %s", resp.Content)
	}

	content := strings.ToLower(resp.Content)
	if !strings.Contains(content, "refill-status") {
		return fmt.Errorf("specific help does not mention refill-status: %s", resp.Content)
	}
	if !strings.Contains(content, "permission") {
		result.AddWarning("specific help does not list the command permission")
	}

	return nil
}

// stageHelpUnknown verifies unknown commands are reported as such.
func (s *CommandScenario) stageHelpUnknown(ctx context.Context, result *Result) error {
	resp, err := s.send(ctx, "/refill-help nonexistent")
	if err != nil {
		return fmt.Errorf("send /refill-help nonexistent: %w", err)
	}

	if !strings.Contains(strings.ToLower(resp.Content), "unknown") {
		return fmt.Errorf("expected an unknown-command message, got: %s", resp.Content)
	}

	return nil
}

// stageStatusEmpty asks for status before any conversation exists. The
// dispatcher acknowledges synchronously and the agent answers on the
// response subject.
func (s *CommandScenario) stageStatusEmpty(ctx context.Context, result *Result) error {
	resp, err := s.send(ctx, "/refill-status")
	if err != nil {
		return fmt.Errorf("send /refill-status: %w", err)
	}
	if resp.Type == "error" {
		return fmt.Errorf("/refill-status returned error: %s", resp.Content)
	}

	if err := s.replies.WaitForCount(ctx, 1); err != nil {
		return fmt.Errorf("no agent reply to /refill-status: %w", err)
	}

	result.SetMetric("replies_after_status", s.replies.Count())
	return nil
}

// stageStartRefill starts a conversation with /refill and waits for the
// agent's conversational reply.
func (s *CommandScenario) stageStartRefill(ctx context.Context, result *Result) error {
	text := fmt.Sprintf("/refill I need a refill of my %s", config.HappyPathMedication)
	resp, err := s.send(ctx, text)
	if err != nil {
		return fmt.Errorf("send /refill: %w", err)
	}
	if resp.Type == "error" {
		return fmt.Errorf("/refill returned error: %s", resp.Content)
	}

	if err := s.replies.WaitForCount(ctx, 2); err != nil {
		return fmt.Errorf("no agent reply to /refill: %w", err)
	}

	msgs := s.replies.Messages()
	last := string(msgs[len(msgs)-1].Data)
	if !strings.Contains(strings.ToLower(last), config.HappyPathMedication) {
		result.AddWarning("agent reply does not mention the requested medication")
	}

	result.SetDetail("refill_reply", last)
	return nil
}

// stageCancel resets the conversation started above.
func (s *CommandScenario) stageCancel(ctx context.Context, result *Result) error {
	resp, err := s.send(ctx, "/refill-cancel")
	if err != nil {
		return fmt.Errorf("send /refill-cancel: %w", err)
	}
	if resp.Type == "error" {
		return fmt.Errorf("/refill-cancel returned error: %s", resp.Content)
	}

	if err := s.replies.WaitForCount(ctx, 3); err != nil {
		return fmt.Errorf("no agent reply to /refill-cancel: %w", err)
	}

	return nil
}

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/c360studio/semstreams/agentic"
	"github.com/c360studio/semstreams/message"
	agenticdispatch "github.com/c360studio/semstreams/processor/agentic-dispatch"
	"github.com/google/uuid"

	"github.com/c360studio/rxpilot/refill"
)

// RefillStatusCommand implements the /refill-status command for showing
// the active refill conversation summary.
type RefillStatusCommand struct{}

// Config returns the command configuration.
func (c *RefillStatusCommand) Config() agenticdispatch.CommandConfig {
	return agenticdispatch.CommandConfig{
		Pattern:     `^/refill-status(?:\s+(\S+))?\s*$`,
		Permission:  "view",
		RequireLoop: false,
		Help:        "/refill-status [session-id] - Show the active refill conversation summary",
	}
}

// Execute runs the refill-status command.
func (c *RefillStatusCommand) Execute(
	ctx context.Context,
	cmdCtx *agenticdispatch.CommandContext,
	msg agentic.UserMessage,
	args []string,
	loopID string,
) (agentic.UserResponse, error) {
	sessionID := ""
	if len(args) > 0 {
		sessionID = strings.TrimSpace(args[0])
	}

	if err := publishSessionCommand(ctx, cmdCtx, msg, refill.SessionActionSummary, sessionID); err != nil {
		return agentic.UserResponse{
			ResponseID:  uuid.New().String(),
			ChannelType: msg.ChannelType,
			ChannelID:   msg.ChannelID,
			UserID:      msg.UserID,
			Type:        agentic.ResponseTypeError,
			Content:     "The refill service is unreachable right now. Please try again in a moment.",
			Timestamp:   time.Now(),
		}, nil
	}

	return agentic.UserResponse{
		ResponseID:  uuid.New().String(),
		ChannelType: msg.ChannelType,
		ChannelID:   msg.ChannelID,
		UserID:      msg.UserID,
		Type:        agentic.ResponseTypeStatus,
		Content:     "Fetching your refill conversation summary...",
		Timestamp:   time.Now(),
	}, nil
}

// publishSessionCommand wraps a session command in the message envelope
// and publishes it for the refill agent. An empty session id lets the
// agent resolve the channel's active conversation.
func publishSessionCommand(
	ctx context.Context,
	cmdCtx *agenticdispatch.CommandContext,
	msg agentic.UserMessage,
	action string,
	sessionID string,
) error {
	payload := &refill.SessionCommandPayload{
		Action:      action,
		SessionID:   sessionID,
		UserID:      msg.UserID,
		ChannelType: msg.ChannelType,
		ChannelID:   msg.ChannelID,
		RequestID:   uuid.New().String(),
	}

	baseMsg := message.NewBaseMessage(refill.SessionCommandType, payload, commandSource)
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return fmt.Errorf("marshal session command: %w", err)
	}

	if err := cmdCtx.NATSClient.PublishToStream(ctx, refill.SubjectSessionCommand, data); err != nil {
		cmdCtx.Logger.Warn("Failed to publish session command",
			"action", action,
			"request_id", payload.RequestID,
			"error", err,
		)
		return err
	}

	cmdCtx.Logger.Info("Session command published",
		"action", action,
		"request_id", payload.RequestID,
		"from", msg.UserID,
	)
	return nil
}

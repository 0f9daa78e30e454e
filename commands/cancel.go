package commands

import (
	"context"
	"strings"
	"time"

	"github.com/c360studio/semstreams/agentic"
	agenticdispatch "github.com/c360studio/semstreams/processor/agentic-dispatch"
	"github.com/google/uuid"

	"github.com/c360studio/rxpilot/refill"
)

// RefillCancelCommand implements the /refill-cancel command for
// resetting the active refill conversation.
type RefillCancelCommand struct{}

// Config returns the command configuration.
func (c *RefillCancelCommand) Config() agenticdispatch.CommandConfig {
	return agenticdispatch.CommandConfig{
		Pattern:     `^/refill-cancel(?:\s+(\S+))?\s*$`,
		Permission:  "write",
		RequireLoop: false,
		Help:        "/refill-cancel [session-id] - Cancel the refill conversation and start over",
	}
}

// Execute runs the refill-cancel command.
func (c *RefillCancelCommand) Execute(
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

	if err := publishSessionCommand(ctx, cmdCtx, msg, refill.SessionActionReset, sessionID); err != nil {
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
		Content:     "Resetting your refill conversation...",
		Timestamp:   time.Now(),
	}, nil
}

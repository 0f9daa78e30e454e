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

	"github.com/c360studio/rxpilot/erx"
	"github.com/c360studio/rxpilot/refill"
)

// commandSource identifies the command layer in message envelopes.
const commandSource = "rxpilot"

// RefillCommand implements the /refill command for starting or
// continuing a prescription refill conversation.
type RefillCommand struct{}

// Config returns the command configuration.
func (c *RefillCommand) Config() agenticdispatch.CommandConfig {
	return agenticdispatch.CommandConfig{
		Pattern:     `^/refill\s+(.+)$`,
		Permission:  "write",
		RequireLoop: false,
		Help:        "/refill <message> - Start or continue a prescription refill conversation",
	}
}

// Execute runs the refill command.
func (c *RefillCommand) Execute(
	ctx context.Context,
	cmdCtx *agenticdispatch.CommandContext,
	msg agentic.UserMessage,
	args []string,
	loopID string,
) (agentic.UserResponse, error) {
	text := ""
	if len(args) > 0 {
		text = strings.Trim(strings.TrimSpace(args[0]), "\"'")
	}
	if text == "" {
		return agentic.UserResponse{
			ResponseID:  uuid.New().String(),
			ChannelType: msg.ChannelType,
			ChannelID:   msg.ChannelID,
			UserID:      msg.UserID,
			Type:        agentic.ResponseTypeError,
			Content:     "Usage: /refill <message>\n\nExample: /refill I need to refill my lisinopril",
			Timestamp:   time.Now(),
		}, nil
	}

	payload := &refill.TurnRequestPayload{
		PatientID:   patientFor(msg),
		Text:        text,
		UserID:      msg.UserID,
		ChannelType: msg.ChannelType,
		ChannelID:   msg.ChannelID,
		RequestID:   uuid.New().String(),
	}

	baseMsg := message.NewBaseMessage(refill.TurnRequestType, payload, commandSource)
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return agentic.UserResponse{
			ResponseID:  uuid.New().String(),
			ChannelType: msg.ChannelType,
			ChannelID:   msg.ChannelID,
			UserID:      msg.UserID,
			Type:        agentic.ResponseTypeError,
			Content:     fmt.Sprintf("Failed to encode refill request: %v", err),
			Timestamp:   time.Now(),
		}, nil
	}

	if err := cmdCtx.NATSClient.PublishToStream(ctx, refill.SubjectTurnRequest, data); err != nil {
		cmdCtx.Logger.Warn("Failed to publish turn request",
			"request_id", payload.RequestID,
			"error", err,
		)
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

	cmdCtx.Logger.Info("Turn request published",
		"request_id", payload.RequestID,
		"patient_id", payload.PatientID,
		"from", msg.UserID,
	)

	return agentic.UserResponse{
		ResponseID:  uuid.New().String(),
		ChannelType: msg.ChannelType,
		ChannelID:   msg.ChannelID,
		UserID:      msg.UserID,
		Type:        agentic.ResponseTypeStatus,
		Content:     "Got it - working on your refill request. I'll reply here in a moment.",
		Timestamp:   time.Now(),
	}, nil
}

// patientFor maps a chat identity to a patient id. Chat users are their
// own patient in this deployment; anonymous channels fall back to the
// seeded demo patient.
func patientFor(msg agentic.UserMessage) string {
	if msg.UserID != "" {
		return msg.UserID
	}
	return erx.DemoPatientID
}

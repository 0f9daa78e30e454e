package refillagent

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"

	"github.com/c360studio/rxpilot/refill"
)

// eventPublishTimeout bounds each event publish. Events are emitted
// synchronously after the turn's session is saved, so a slow stream must
// not stall the conversation.
const eventPublishTimeout = 5 * time.Second

// natsEventSink forwards conversation events onto the event stream.
type natsEventSink struct {
	client    *natsclient.Client
	logger    *slog.Logger
	published *atomic.Int64
}

// StateTransitioned publishes an accepted state transition.
func (s *natsEventSink) StateTransitioned(evt refill.StateTransitionedEvent) {
	s.publish(refill.StateTransitionedType, refill.StateTransitioned.Pattern, &evt)
}

// EscalationRaised publishes a hand-off to the care team.
func (s *natsEventSink) EscalationRaised(evt refill.EscalationRaisedEvent) {
	s.publish(refill.EscalationRaisedType, refill.EscalationRaised.Pattern, &evt)
}

// OrderSubmitted publishes an accepted refill order.
func (s *natsEventSink) OrderSubmitted(evt refill.OrderSubmittedEvent) {
	s.publish(refill.OrderSubmittedType, refill.OrderSubmitted.Pattern, &evt)
}

func (s *natsEventSink) publish(msgType message.Type, subject string, payload any) {
	ctx, cancel := context.WithTimeout(context.Background(), eventPublishTimeout)
	defer cancel()

	baseMsg := message.NewBaseMessage(msgType, payload, sourceName)
	data, err := json.Marshal(baseMsg)
	if err != nil {
		s.logger.Error("Failed to marshal event", "subject", subject, "error", err)
		return
	}
	if err := s.client.PublishToStream(ctx, subject, data); err != nil {
		s.logger.Error("Failed to publish event", "subject", subject, "error", err)
		return
	}
	if s.published != nil {
		s.published.Add(1)
	}
}

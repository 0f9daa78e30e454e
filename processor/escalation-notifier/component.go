// Package escalationnotifier turns refill escalation events into
// care-team notifications. It consumes escalation-raised events from the
// event stream and routes a formatted summary to the configured care-team
// channel so a pharmacist or provider can pick up the hand-off.
package escalationnotifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/agentic"
	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/rxpilot/refill"
)

// sourceName identifies this component in logs.
const sourceName = "escalation-notifier"

// Component implements the escalation-notifier processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	// JetStream state
	consumer jetstream.Consumer
	stream   jetstream.Stream

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	eventsProcessed     atomic.Int64
	notificationsSent   atomic.Int64
	notificationsFailed atomic.Int64
	lastActivityMu      sync.RWMutex
	lastActivity        time.Time
}

// NewComponent creates a new escalation-notifier processor.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply defaults
	defaults := DefaultConfig()
	if config.StreamName == "" {
		config.StreamName = defaults.StreamName
	}
	if config.ConsumerName == "" {
		config.ConsumerName = defaults.ConsumerName
	}
	if config.EscalationSubject == "" {
		config.EscalationSubject = defaults.EscalationSubject
	}
	if config.CareTeamChannelType == "" {
		config.CareTeamChannelType = defaults.CareTeamChannelType
	}
	if config.CareTeamChannelID == "" {
		config.CareTeamChannelID = defaults.CareTeamChannelID
	}
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Component{
		name:       sourceName,
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized escalation-notifier",
		"stream", c.config.StreamName,
		"subject", c.config.EscalationSubject,
		"care_team", c.config.CareTeamChannelType+"/"+c.config.CareTeamChannelID)
	return nil
}

// Start begins consuming escalation events.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	if c.natsClient == nil {
		c.mu.Unlock()
		return fmt.Errorf("NATS client required")
	}

	c.running = true
	c.startTime = time.Now()

	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	js, err := c.natsClient.JetStream()
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get jetstream: %w", err)
	}

	stream, err := js.Stream(subCtx, c.config.StreamName)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get stream %s: %w", c.config.StreamName, err)
	}
	c.stream = stream

	consumer, err := stream.CreateOrUpdateConsumer(subCtx, jetstream.ConsumerConfig{
		Durable:       c.config.ConsumerName,
		FilterSubject: c.config.EscalationSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    3,
	})
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create consumer: %w", err)
	}
	c.consumer = consumer

	go c.consumeLoop(subCtx)

	c.logger.Info("escalation-notifier started",
		"stream", c.config.StreamName,
		"subject", c.config.EscalationSubject,
		"care_team", c.config.CareTeamChannelType+"/"+c.config.CareTeamChannelID)

	return nil
}

func (c *Component) rollbackStart(cancel context.CancelFunc) {
	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.mu.Unlock()
	cancel()
}

// consumeLoop continuously consumes escalation events.
func (c *Component) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := c.consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("Fetch timeout or error", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleMessage(ctx, msg)
		}

		if msgs.Error() != nil && msgs.Error() != context.DeadlineExceeded {
			c.logger.Warn("Message fetch error", "error", msgs.Error())
		}
	}
}

// handleMessage notifies the care team about one escalation.
func (c *Component) handleMessage(ctx context.Context, msg jetstream.Msg) {
	c.eventsProcessed.Add(1)
	c.updateLastActivity()

	var baseMsg message.BaseMessage
	if err := json.Unmarshal(msg.Data(), &baseMsg); err != nil {
		c.logger.Error("Failed to parse message", "error", err)
		c.nakMessage(msg)
		return
	}

	var evt refill.EscalationRaisedEvent
	payloadBytes, err := json.Marshal(baseMsg.Payload())
	if err != nil {
		c.logger.Error("Failed to marshal payload", "error", err)
		c.nakMessage(msg)
		return
	}
	if err := json.Unmarshal(payloadBytes, &evt); err != nil {
		c.logger.Error("Failed to unmarshal escalation event", "error", err)
		c.nakMessage(msg)
		return
	}

	if err := c.notifyCareTeam(ctx, evt); err != nil {
		c.notificationsFailed.Add(1)
		c.logger.Error("Failed to notify care team",
			"session_id", evt.SessionID,
			"escalation_type", evt.Type,
			"error", err)
		c.nakMessage(msg)
		return
	}

	c.notificationsSent.Add(1)
	if err := msg.Ack(); err != nil {
		c.logger.Warn("Failed to ACK message", "error", err)
	}

	c.logger.Info("Care team notified",
		"session_id", evt.SessionID,
		"patient_id", evt.PatientID,
		"escalation_type", evt.Type)
}

func (c *Component) nakMessage(msg jetstream.Msg) {
	if err := msg.Nak(); err != nil {
		c.logger.Warn("Failed to NAK message", "error", err)
	}
}

// notifyCareTeam publishes the formatted notification to the care-team
// channel.
func (c *Component) notifyCareTeam(ctx context.Context, evt refill.EscalationRaisedEvent) error {
	response := agentic.UserResponse{
		ResponseID:  uuid.New().String(),
		ChannelType: c.config.CareTeamChannelType,
		ChannelID:   c.config.CareTeamChannelID,
		Type:        agentic.ResponseTypeStatus,
		Content:     formatNotification(evt),
		Timestamp:   time.Now(),
	}

	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	subject := fmt.Sprintf("user.response.%s.%s",
		c.config.CareTeamChannelType, c.config.CareTeamChannelID)
	if err := c.natsClient.PublishToStream(ctx, subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// formatNotification renders an escalation for the care-team channel.
func formatNotification(evt refill.EscalationRaisedEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Refill escalation: %s**\n\n", evt.Type)
	fmt.Fprintf(&b, "- Patient: %s\n", evt.PatientID)
	if evt.Medication != "" {
		fmt.Fprintf(&b, "- Medication: %s\n", evt.Medication)
	}
	fmt.Fprintf(&b, "- Session: %s\n", evt.SessionID)
	if len(evt.Reasons) > 0 {
		fmt.Fprintf(&b, "- Reasons: %s\n", strings.Join(evt.Reasons, ", "))
	}
	if evt.Message != "" {
		fmt.Fprintf(&b, "\nPatient was told: %s\n", evt.Message)
	}
	return b.String()
}

// Stop gracefully stops the component.
func (c *Component) Stop(_ time.Duration) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}

	// Copy cancel function and clear state before releasing lock
	cancel := c.cancel
	c.running = false
	c.cancel = nil
	c.mu.Unlock()

	// Cancel context after releasing lock to avoid potential deadlock
	if cancel != nil {
		cancel()
	}

	c.logger.Info("escalation-notifier stopped",
		"events_processed", c.eventsProcessed.Load(),
		"notifications_sent", c.notificationsSent.Load(),
		"notifications_failed", c.notificationsFailed.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        sourceName,
		Type:        "processor",
		Description: "Routes refill escalations to the care-team channel",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Inputs))
	for i, portDef := range c.config.Ports.Inputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionInput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Outputs))
	for i, portDef := range c.config.Ports.Outputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionOutput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return notifierSchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	running := c.running
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	if running {
		status = "running"
	}

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(c.notificationsFailed.Load()),
		Uptime:     time.Since(startTime),
		Status:     status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{
		LastActivity: c.getLastActivity(),
	}
}

func (c *Component) updateLastActivity() {
	c.lastActivityMu.Lock()
	c.lastActivity = time.Now()
	c.lastActivityMu.Unlock()
}

func (c *Component) getLastActivity() time.Time {
	c.lastActivityMu.RLock()
	defer c.lastActivityMu.RUnlock()
	return c.lastActivity
}

// Package refillagent hosts the refill conversation orchestrator as a
// stream processor. It consumes patient turns and session commands from
// the conversation stream, routes replies back to the requesting channel,
// publishes refill domain events, sweeps idle sessions, and serves the
// HTTP API for direct integrations.
package refillagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/agentic"
	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/rxpilot/erx"
	"github.com/c360studio/rxpilot/escalation"
	"github.com/c360studio/rxpilot/intent"
	"github.com/c360studio/rxpilot/llm"
	"github.com/c360studio/rxpilot/model"
	"github.com/c360studio/rxpilot/refill"
)

// sourceName identifies this component in message envelopes and logs.
const sourceName = "refill-agent"

// Component implements the refill-agent processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	sessions     *refill.SessionStore
	orchestrator *refill.Orchestrator
	ledger       *erx.Ledger
	catalog      *erx.CatalogStore
	watcher      *erx.CatalogWatcher
	registry     *prometheus.Registry
	events       *natsEventSink

	// channelSessions maps a chat channel to its active session so
	// follow-up messages without a session id land in the right
	// conversation. Keys come from channelKey.
	channelMu       sync.RWMutex
	channelSessions map[string]string

	// JetStream state
	stream   jetstream.Stream
	turns    jetstream.Consumer
	commands jetstream.Consumer

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	turnsProcessed    atomic.Int64
	commandsProcessed atomic.Int64
	turnsFailed       atomic.Int64
	eventsPublished   atomic.Int64
	sessionsExpired   atomic.Int64
	lastActivityMu    sync.RWMutex
	lastActivity      time.Time
}

// NewComponent creates a new refill-agent processor.
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
	if config.TurnSubject == "" {
		config.TurnSubject = defaults.TurnSubject
	}
	if config.SessionSubject == "" {
		config.SessionSubject = defaults.SessionSubject
	}
	if config.SessionTTL == "" {
		config.SessionTTL = defaults.SessionTTL
	}
	if config.SweepInterval == "" {
		config.SweepInterval = defaults.SweepInterval
	}
	if config.DataTimeout == "" {
		config.DataTimeout = defaults.DataTimeout
	}
	if config.ReplyTimeout == "" {
		config.ReplyTimeout = defaults.ReplyTimeout
	}
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := deps.GetLogger()

	catalog, err := loadCatalog(config)
	if err != nil {
		return nil, err
	}
	catalogStore := erx.NewCatalogStore(catalog)

	var watcher *erx.CatalogWatcher
	if config.CatalogWatch && config.CatalogDir != "" {
		watchConfig := erx.DefaultWatchConfig()
		watchConfig.Enabled = true
		watcher, err = erx.NewCatalogWatcher(watchConfig, config.CatalogDir, catalogStore, logger)
		if err != nil {
			return nil, fmt.Errorf("create catalog watcher: %w", err)
		}
	}

	policy, err := buildPolicy(config)
	if err != nil {
		return nil, err
	}

	ledger := erx.NewLedger(erx.NewDemoGateway(), logger)

	caps := refill.Capabilities{
		Medications:  erx.NewDemoDirectory(catalogStore),
		Interactions: erx.NewDemoInteractions(catalogStore),
		Formulary:    erx.NewDemoFormulary(catalogStore),
		Pharmacies:   erx.NewDemoPharmacies(catalogStore),
		Orders:       ledger,
	}

	if config.ModelDefault != "" {
		client := llm.NewClient(buildModelRegistry(config), llm.WithLogger(logger))
		caps.Classifier = intent.NewLLMClassifier(client, logger)
		var replyOpts []erx.ReplierOption
		if config.ModelTemperature != 0 {
			replyOpts = append(replyOpts, erx.WithReplyTemperature(config.ModelTemperature))
		}
		caps.Replier = erx.NewLLMReplier(client, replyOpts...)
	}

	registry := prometheus.NewRegistry()
	sessions := refill.NewSessionStore()
	sink := &natsEventSink{client: deps.NATSClient, logger: logger}

	orchestrator, err := refill.NewOrchestrator(sessions, caps,
		refill.WithLogger(logger),
		refill.WithMetrics(refill.NewMetrics(registry)),
		refill.WithEventSink(sink),
		refill.WithPolicy(policy),
		refill.WithTimeouts(config.GetDataTimeout(), config.GetReplyTimeout()),
	)
	if err != nil {
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}

	c := &Component{
		name:            sourceName,
		config:          config,
		natsClient:      deps.NATSClient,
		logger:          logger,
		sessions:        sessions,
		orchestrator:    orchestrator,
		ledger:          ledger,
		catalog:         catalogStore,
		watcher:         watcher,
		registry:        registry,
		events:          sink,
		channelSessions: make(map[string]string),
	}
	sink.published = &c.eventsPublished
	return c, nil
}

// loadCatalog reads the configured catalog directory, or falls back to
// the built-in demo catalog when none is configured.
func loadCatalog(config Config) (erx.Catalog, error) {
	if config.CatalogDir == "" {
		return erx.DefaultCatalog(time.Now()), nil
	}
	catalog, err := erx.LoadCatalogDir(config.CatalogDir)
	if err != nil {
		return erx.Catalog{}, fmt.Errorf("load catalog: %w", err)
	}
	return catalog, nil
}

// buildPolicy applies configured overrides on top of the default
// escalation policy.
func buildPolicy(config Config) (escalation.Policy, error) {
	policy := escalation.DefaultPolicy()
	if config.EarlyRefillFraction != 0 {
		policy.EarlyRefillFraction = config.EarlyRefillFraction
	}
	if config.MinSeverity != "" {
		sev, err := escalation.ParseSeverity(config.MinSeverity)
		if err != nil {
			return escalation.Policy{}, fmt.Errorf("min_severity: %w", err)
		}
		policy.MinSeverity = sev
	}
	return policy, nil
}

// buildModelRegistry resolves the configured model. Names unknown to the
// built-in registry are treated as Ollama models served at ModelEndpoint.
func buildModelRegistry(config Config) *model.Registry {
	registry := model.NewDefaultRegistry()
	if registry.GetEndpoint(config.ModelDefault) == nil {
		endpoint := config.ModelEndpoint
		if endpoint == "" {
			endpoint = "http://localhost:11434/v1"
		}
		registry.SetEndpoint(config.ModelDefault, &model.EndpointConfig{
			Provider: "ollama",
			URL:      endpoint,
			Model:    config.ModelDefault,
		})
	}
	registry.SetDefault(config.ModelDefault)
	return registry
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	stats := c.catalog.Stats()
	c.logger.Debug("Initialized refill-agent",
		"stream", c.config.StreamName,
		"turn_subject", c.config.TurnSubject,
		"session_subject", c.config.SessionSubject,
		"patients", stats.Patients,
		"medications", stats.Medications)
	return nil
}

// Start begins consuming turn requests and session commands.
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

	turns, err := stream.CreateOrUpdateConsumer(subCtx, jetstream.ConsumerConfig{
		Durable:       c.config.ConsumerName + "-turns",
		FilterSubject: c.config.TurnSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       120 * time.Second,
		MaxDeliver:    3,
	})
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create turn consumer: %w", err)
	}
	c.turns = turns

	commands, err := stream.CreateOrUpdateConsumer(subCtx, jetstream.ConsumerConfig{
		Durable:       c.config.ConsumerName + "-commands",
		FilterSubject: c.config.SessionSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    3,
	})
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create command consumer: %w", err)
	}
	c.commands = commands

	if c.watcher != nil {
		if err := c.watcher.Start(subCtx); err != nil {
			c.rollbackStart(cancel)
			return fmt.Errorf("start catalog watcher: %w", err)
		}
	}

	go c.consumeLoop(subCtx, turns, c.handleTurnMessage)
	go c.consumeLoop(subCtx, commands, c.handleCommandMessage)
	go c.sweepLoop(subCtx)

	c.logger.Info("refill-agent started",
		"stream", c.config.StreamName,
		"turn_subject", c.config.TurnSubject,
		"session_subject", c.config.SessionSubject,
		"session_ttl", c.config.GetSessionTTL())

	return nil
}

func (c *Component) rollbackStart(cancel context.CancelFunc) {
	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.mu.Unlock()
	cancel()
}

// consumeLoop continuously fetches messages from a consumer and hands
// them to the handler.
func (c *Component) consumeLoop(ctx context.Context, consumer jetstream.Consumer, handle func(context.Context, jetstream.Msg)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("Fetch timeout or error", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			handle(ctx, msg)
		}

		if msgs.Error() != nil && msgs.Error() != context.DeadlineExceeded {
			c.logger.Warn("Message fetch error", "error", msgs.Error())
		}
	}
}

// handleTurnMessage runs one patient message through the conversation.
func (c *Component) handleTurnMessage(ctx context.Context, msg jetstream.Msg) {
	c.turnsProcessed.Add(1)
	c.updateLastActivity()

	var req refill.TurnRequestPayload
	if !c.decodePayload(msg, &req) {
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = c.sessionForChannel(req.UserID, req.ChannelType, req.ChannelID)
	}

	result, err := c.orchestrator.Turn(ctx, refill.TurnRequest{
		SessionID: sessionID,
		PatientID: req.PatientID,
		Text:      req.Text,
	})
	if err != nil {
		c.turnsFailed.Add(1)
		var vErr *refill.ValidationError
		if errors.As(err, &vErr) {
			// Redelivery cannot fix a bad request; answer and move on.
			c.logger.Warn("Rejected turn request",
				"field", vErr.Field,
				"request_id", req.RequestID)
			reply := newReply(req.UserID, req.ChannelType, req.ChannelID,
				"Sorry - I couldn't process that message. "+vErr.Message)
			reply.Type = agentic.ResponseTypeError
			c.publishReply(ctx, reply)
			c.ackMessage(msg)
			return
		}
		c.logger.Error("Turn failed",
			"session_id", sessionID,
			"patient_id", req.PatientID,
			"error", err)
		c.nakMessage(msg)
		return
	}

	c.rememberChannelSession(req.UserID, req.ChannelType, req.ChannelID, result.SessionID)

	c.publishReply(ctx, newReply(req.UserID, req.ChannelType, req.ChannelID, result.Reply))
	c.ackMessage(msg)

	c.logger.Info("Turn processed",
		"session_id", result.SessionID,
		"patient_id", result.PatientID,
		"state", result.State,
		"intent", result.Intent,
		"new_session", result.NewSession)
}

// handleCommandMessage serves summary and reset commands.
func (c *Component) handleCommandMessage(ctx context.Context, msg jetstream.Msg) {
	c.commandsProcessed.Add(1)
	c.updateLastActivity()

	var cmd refill.SessionCommandPayload
	if !c.decodePayload(msg, &cmd) {
		return
	}

	if cmd.SessionID == "" {
		cmd.SessionID = c.sessionForChannel(cmd.UserID, cmd.ChannelType, cmd.ChannelID)
	}
	if cmd.SessionID == "" {
		reply := newReply(cmd.UserID, cmd.ChannelType, cmd.ChannelID,
			"No active refill conversation on this channel. Send /refill <message> to start one.")
		reply.Type = agentic.ResponseTypeError
		c.publishReply(ctx, reply)
		c.ackMessage(msg)
		return
	}

	if err := cmd.Validate(); err != nil {
		c.logger.Warn("Rejected session command", "error", err, "request_id", cmd.RequestID)
		reply := newReply(cmd.UserID, cmd.ChannelType, cmd.ChannelID,
			"Sorry - I couldn't process that command. "+err.Error())
		reply.Type = agentic.ResponseTypeError
		c.publishReply(ctx, reply)
		c.ackMessage(msg)
		return
	}

	switch cmd.Action {
	case refill.SessionActionSummary:
		summary, err := c.sessionSummary(cmd.SessionID)
		if err != nil {
			c.replySessionError(ctx, cmd, err)
			c.ackMessage(msg)
			return
		}
		c.publishReply(ctx, newReply(cmd.UserID, cmd.ChannelType, cmd.ChannelID, formatSummary(summary)))

	case refill.SessionActionReset:
		summary, err := c.orchestrator.ResetSession(cmd.SessionID)
		if err != nil {
			c.replySessionError(ctx, cmd, err)
			c.ackMessage(msg)
			return
		}
		c.publishReply(ctx, newReply(cmd.UserID, cmd.ChannelType, cmd.ChannelID,
			fmt.Sprintf("Conversation %s reset. Tell me which medication you need and we'll start over.", summary.SessionID)))
	}

	c.ackMessage(msg)

	c.logger.Info("Session command processed",
		"action", cmd.Action,
		"session_id", cmd.SessionID)
}

// replySessionError turns a store error into a channel reply.
func (c *Component) replySessionError(ctx context.Context, cmd refill.SessionCommandPayload, err error) {
	content := "Sorry - something went wrong handling that command."
	if errors.Is(err, refill.ErrSessionNotFound) {
		content = fmt.Sprintf("Session %s is gone - it may have expired. Send /refill <message> to start a new one.", cmd.SessionID)
		c.forgetChannelSession(cmd.UserID, cmd.ChannelType, cmd.ChannelID)
	} else {
		c.logger.Error("Session command failed",
			"action", cmd.Action,
			"session_id", cmd.SessionID,
			"error", err)
	}
	reply := newReply(cmd.UserID, cmd.ChannelType, cmd.ChannelID, content)
	reply.Type = agentic.ResponseTypeError
	c.publishReply(ctx, reply)
}

// sessionSummary snapshots a session without mutating it.
func (c *Component) sessionSummary(sessionID string) (refill.Summary, error) {
	cc, err := c.sessions.Get(sessionID)
	if err != nil {
		return refill.Summary{}, err
	}
	return cc.Summarize(), nil
}

// decodePayload unwraps the message envelope into the typed payload.
// On failure the message is NAKed and false returned.
func (c *Component) decodePayload(msg jetstream.Msg, out any) bool {
	var baseMsg message.BaseMessage
	if err := json.Unmarshal(msg.Data(), &baseMsg); err != nil {
		c.logger.Error("Failed to parse message", "error", err)
		c.nakMessage(msg)
		return false
	}

	payloadBytes, err := json.Marshal(baseMsg.Payload())
	if err != nil {
		c.logger.Error("Failed to marshal payload", "error", err)
		c.nakMessage(msg)
		return false
	}
	if err := json.Unmarshal(payloadBytes, out); err != nil {
		c.logger.Error("Failed to unmarshal payload", "error", err)
		c.nakMessage(msg)
		return false
	}
	return true
}

func (c *Component) ackMessage(msg jetstream.Msg) {
	if err := msg.Ack(); err != nil {
		c.logger.Warn("Failed to ACK message", "error", err)
	}
}

func (c *Component) nakMessage(msg jetstream.Msg) {
	if err := msg.Nak(); err != nil {
		c.logger.Warn("Failed to NAK message", "error", err)
	}
}

// channelKey identifies a chat channel for session continuity.
func channelKey(userID, channelType, channelID string) string {
	return channelType + "/" + channelID + "/" + userID
}

// sessionForChannel returns the active session for a channel, or "".
func (c *Component) sessionForChannel(userID, channelType, channelID string) string {
	if channelType == "" || channelID == "" {
		return ""
	}
	c.channelMu.RLock()
	defer c.channelMu.RUnlock()
	return c.channelSessions[channelKey(userID, channelType, channelID)]
}

// rememberChannelSession records the session now active on a channel.
func (c *Component) rememberChannelSession(userID, channelType, channelID, sessionID string) {
	if channelType == "" || channelID == "" || sessionID == "" {
		return
	}
	c.channelMu.Lock()
	c.channelSessions[channelKey(userID, channelType, channelID)] = sessionID
	c.channelMu.Unlock()
}

func (c *Component) forgetChannelSession(userID, channelType, channelID string) {
	if channelType == "" || channelID == "" {
		return
	}
	c.channelMu.Lock()
	delete(c.channelSessions, channelKey(userID, channelType, channelID))
	c.channelMu.Unlock()
}

// newReply builds a result-typed response addressed to a channel.
func newReply(userID, channelType, channelID, content string) agentic.UserResponse {
	return agentic.UserResponse{
		ResponseID:  uuid.New().String(),
		ChannelType: channelType,
		ChannelID:   channelID,
		UserID:      userID,
		Type:        agentic.ResponseTypeResult,
		Content:     content,
		Timestamp:   time.Now(),
	}
}

// publishReply routes a response back to its channel. Requests without a
// channel (HTTP integrations) get their reply in the HTTP response, so a
// missing channel is not an error.
func (c *Component) publishReply(ctx context.Context, response agentic.UserResponse) {
	if response.ChannelType == "" || response.ChannelID == "" {
		return
	}

	data, err := json.Marshal(response)
	if err != nil {
		c.logger.Error("Failed to marshal user response", "error", err)
		return
	}

	subject := fmt.Sprintf("user.response.%s.%s", response.ChannelType, response.ChannelID)
	if err := c.natsClient.PublishToStream(ctx, subject, data); err != nil {
		c.logger.Error("Failed to publish user response",
			"subject", subject,
			"error", err)
	}
}

// formatSummary renders a session summary for chat channels.
func formatSummary(s refill.Summary) string {
	lines := []string{
		fmt.Sprintf("**Refill conversation %s**", s.SessionID),
		fmt.Sprintf("State: %s", s.State),
	}
	if s.Medication != "" {
		med := s.Medication
		if s.Dosage != "" {
			med += " " + s.Dosage
		}
		lines = append(lines, fmt.Sprintf("Medication: %s", med))
	}
	if s.Pharmacy != "" {
		lines = append(lines, fmt.Sprintf("Pharmacy: %s", s.Pharmacy))
	}
	if s.OrderID != "" {
		lines = append(lines, fmt.Sprintf("Order: %s", s.OrderID))
	}
	if s.EscalationType != "" {
		lines = append(lines, fmt.Sprintf("Escalation: %s", s.EscalationType))
	}
	lines = append(lines, fmt.Sprintf("Turns: %d", s.Turns))

	out := ""
	for i, line := range lines {
		if i > 0 {
			out += "\n"
		}
		out += line
	}
	return out
}

// sweepLoop expires idle sessions on the configured interval and
// publishes an expiration event for each.
func (c *Component) sweepLoop(ctx context.Context) {
	interval := c.config.GetSweepInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info("Session sweep started",
		"interval", interval,
		"session_ttl", c.config.GetSessionTTL())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweepExpired()
		}
	}
}

// sweepExpired drops sessions idle past the TTL.
func (c *Component) sweepExpired() {
	expired := c.sessions.ExpireOlderThan(c.config.GetSessionTTL())
	if len(expired) == 0 {
		return
	}

	now := time.Now().UTC()
	for _, summary := range expired {
		c.sessionsExpired.Add(1)
		c.logger.Info("Session expired",
			"session_id", summary.SessionID,
			"state", summary.State,
			"turns", summary.Turns)

		evt := refill.SessionExpiredEvent{
			SessionID: summary.SessionID,
			State:     string(summary.State),
			ExpiredAt: now,
		}
		c.events.publish(refill.SessionExpiredType, refill.SessionExpired.Pattern, &evt)
	}

	c.channelMu.Lock()
	for key, sessionID := range c.channelSessions {
		for _, summary := range expired {
			if summary.SessionID == sessionID {
				delete(c.channelSessions, key)
				break
			}
		}
	}
	c.channelMu.Unlock()
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

	if c.watcher != nil {
		if err := c.watcher.Stop(); err != nil {
			c.logger.Warn("Failed to stop catalog watcher", "error", err)
		}
	}

	c.logger.Info("refill-agent stopped",
		"turns_processed", c.turnsProcessed.Load(),
		"commands_processed", c.commandsProcessed.Load(),
		"turns_failed", c.turnsFailed.Load(),
		"sessions_expired", c.sessionsExpired.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        sourceName,
		Type:        "processor",
		Description: "Runs prescription refill conversations over the conversation stream",
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
	return agentSchema
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
		ErrorCount: int(c.turnsFailed.Load()),
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

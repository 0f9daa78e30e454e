package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"
)

func init() {
	if err := component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "llm",
		Category:    "call",
		Version:     "v1",
		Description: "Record of a single LLM call with timing and token usage",
		Factory:     func() any { return &CallRecord{} },
	}); err != nil {
		panic("failed to register CallRecord: " + err.Error())
	}
}

// CallRecordType is the message type for LLM call records.
var CallRecordType = message.Type{
	Domain:   "llm",
	Category: "call",
	Version:  "v1",
}

// TurnContext carries conversation identifiers through a turn so LLM
// calls made on behalf of a session can be correlated in the journal.
type TurnContext struct {
	SessionID string
	TurnID    string
	State     string
}

type turnContextKey struct{}

// WithTurnContext attaches turn identifiers to the context.
func WithTurnContext(ctx context.Context, tc TurnContext) context.Context {
	return context.WithValue(ctx, turnContextKey{}, tc)
}

// GetTurnContext extracts turn identifiers from the context.
// Returns a zero TurnContext when none is attached.
func GetTurnContext(ctx context.Context) TurnContext {
	if tc, ok := ctx.Value(turnContextKey{}).(TurnContext); ok {
		return tc
	}
	return TurnContext{}
}

// CallRecord captures one LLM call: what was asked, what came back,
// how long it took, and which session turn triggered it.
type CallRecord struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id,omitempty"`
	TurnID    string `json:"turn_id,omitempty"`
	State     string `json:"state,omitempty"`

	Capability string    `json:"capability"`
	Model      string    `json:"model,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	Messages   []Message `json:"messages,omitempty"`
	Response   string    `json:"response,omitempty"`

	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
	TotalTokens      int    `json:"total_tokens,omitempty"`
	FinishReason     string `json:"finish_reason,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`

	// Error is set when the call failed after exhausting retries and fallbacks.
	Error string `json:"error,omitempty"`

	Retries       int      `json:"retries,omitempty"`
	FallbacksUsed []string `json:"fallbacks_used,omitempty"`
}

// Schema returns the message type for this payload.
func (r *CallRecord) Schema() message.Type {
	return CallRecordType
}

// Validate validates the record.
func (r *CallRecord) Validate() error {
	if r.RequestID == "" {
		return fmt.Errorf("request_id is required")
	}
	if r.Capability == "" {
		return fmt.Errorf("capability is required")
	}
	return nil
}

// MarshalJSON marshals the record to JSON.
func (r *CallRecord) MarshalJSON() ([]byte, error) {
	type Alias CallRecord
	return json.Marshal((*Alias)(r))
}

// UnmarshalJSON unmarshals the record from JSON.
func (r *CallRecord) UnmarshalJSON(data []byte) error {
	type Alias CallRecord
	return json.Unmarshal(data, (*Alias)(r))
}

// Succeeded reports whether the call completed without error.
func (r *CallRecord) Succeeded() bool {
	return r.Error == ""
}

// DefaultJournalSubjectPrefix is the stream subject prefix for call records.
const DefaultJournalSubjectPrefix = "rxpilot.llm.call"

// CallJournal publishes LLM call records to JetStream for auditing.
// Recording is best-effort: journal failures never fail the LLM call.
type CallJournal struct {
	natsClient    *natsclient.Client
	subjectPrefix string
	logger        *slog.Logger

	recorded sync.Map // requestID -> struct{} for idempotency
}

// JournalOption configures a CallJournal.
type JournalOption func(*CallJournal)

// WithJournalSubjectPrefix overrides the default subject prefix.
func WithJournalSubjectPrefix(prefix string) JournalOption {
	return func(j *CallJournal) {
		j.subjectPrefix = prefix
	}
}

// WithJournalLogger sets the journal logger.
func WithJournalLogger(logger *slog.Logger) JournalOption {
	return func(j *CallJournal) {
		j.logger = logger
	}
}

// NewCallJournal creates a journal that publishes to the given NATS client.
func NewCallJournal(natsClient *natsclient.Client, opts ...JournalOption) (*CallJournal, error) {
	if natsClient == nil {
		return nil, fmt.Errorf("nats client is required")
	}

	j := &CallJournal{
		natsClient:    natsClient,
		subjectPrefix: DefaultJournalSubjectPrefix,
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		opt(j)
	}

	return j, nil
}

// Record publishes a call record. Duplicate request IDs are skipped so
// retried publishes don't produce duplicate journal entries.
func (j *CallJournal) Record(ctx context.Context, record *CallRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid call record: %w", err)
	}

	if _, loaded := j.recorded.LoadOrStore(record.RequestID, struct{}{}); loaded {
		return nil
	}

	baseMsg := message.NewBaseMessage(CallRecordType, record, "llm-client")
	data, err := json.Marshal(baseMsg)
	if err != nil {
		j.recorded.Delete(record.RequestID)
		return fmt.Errorf("marshal call record: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", j.subjectPrefix, record.RequestID)
	if err := j.natsClient.PublishToStream(ctx, subject, data); err != nil {
		j.recorded.Delete(record.RequestID)
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	j.logger.Debug("Journaled LLM call",
		"request_id", record.RequestID,
		"session_id", record.SessionID,
		"capability", record.Capability,
		"duration_ms", record.DurationMs,
		"succeeded", record.Succeeded())

	return nil
}

var (
	globalJournal     *CallJournal
	globalJournalOnce sync.Once
)

// InitGlobalCallJournal initializes the process-wide journal.
// Subsequent calls are no-ops.
func InitGlobalCallJournal(natsClient *natsclient.Client, opts ...JournalOption) error {
	var initErr error
	globalJournalOnce.Do(func() {
		globalJournal, initErr = NewCallJournal(natsClient, opts...)
	})
	return initErr
}

// GlobalCallJournal returns the process-wide journal, or nil if not initialized.
func GlobalCallJournal() *CallJournal {
	return globalJournal
}

package erx

import (
	"context"
	"fmt"
	"strings"

	"github.com/c360studio/rxpilot/llm"
	"github.com/c360studio/rxpilot/model"
)

// ReplyGenerator drafts the patient-facing reply for a turn. It is
// fallible like every other capability; callers keep a static fallback
// for when generation fails.
type ReplyGenerator interface {
	// Generate produces reply text from system instructions, prior
	// patient utterances (oldest first), and the current utterance.
	Generate(ctx context.Context, instructions string, history []string, userText string) (string, error)
}

// Completer is the slice of the LLM client the replier needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// replyMaxTokens bounds generated replies; refill turns are short.
const replyMaxTokens = 400

// LLMReplier generates replies through the model registry's
// conversation capability.
type LLMReplier struct {
	completer   Completer
	temperature *float64
}

// ReplierOption configures an LLMReplier.
type ReplierOption func(*LLMReplier)

// WithReplyTemperature pins the sampling temperature for generated
// replies. Unset leaves the endpoint default.
func WithReplyTemperature(t float64) ReplierOption {
	return func(r *LLMReplier) {
		r.temperature = &t
	}
}

// NewLLMReplier returns a replier over the given completer.
func NewLLMReplier(completer Completer, opts ...ReplierOption) *LLMReplier {
	r := &LLMReplier{completer: completer}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Generate sends the instructions and transcript to the conversation
// model and returns the drafted reply.
func (r *LLMReplier) Generate(ctx context.Context, instructions string, history []string, userText string) (string, error) {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: instructions})
	for _, h := range history {
		messages = append(messages, llm.Message{Role: "user", Content: h})
	}
	messages = append(messages, llm.Message{Role: "user", Content: userText})

	resp, err := r.completer.Complete(ctx, llm.Request{
		Capability:  string(model.CapabilityConversation),
		Messages:    messages,
		Temperature: r.temperature,
		MaxTokens:   replyMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", fmt.Errorf("generate reply: model returned empty text")
	}
	return text, nil
}

package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/c360studio/rxpilot/llm"
)

// Completer is the LLM call surface the classifier needs.
// *llm.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// LLMClassifier classifies with one LLM round trip per message.
// Any transport or parse failure falls back to the rule classifier
// silently: classification degrades, it never fails.
type LLMClassifier struct {
	completer Completer
	rules     *RuleClassifier
	logger    *slog.Logger
}

// NewLLMClassifier creates an LLM-backed classifier with rule fallback.
func NewLLMClassifier(completer Completer, logger *slog.Logger) *LLMClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMClassifier{
		completer: completer,
		rules:     NewRuleClassifier(),
		logger:    logger,
	}
}

const classifySystemPrompt = `You classify a patient's message in a prescription refill conversation.
Reply with JSON only, no prose: {"intent": "<intent>", "confidence": <number 0 to 1>}
Valid intents: refill_request, medication_name, affirmation, negation, pharmacy_choice, cancel, restart, retry, unknown.`

// classification is the JSON shape the model is asked to produce.
type classification struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// Classify implements Classifier. The returned error is always nil:
// LLM failures are logged and answered by the rules instead.
func (c *LLMClassifier) Classify(ctx context.Context, text string, turn Turn) (Intent, float64, error) {
	result, err := c.classifyLLM(ctx, text, turn)
	if err != nil {
		c.logger.Debug("LLM classification failed, using rules",
			"state", turn.State,
			"error", err)
		return c.rules.Classify(ctx, text, turn)
	}
	return result.Intent, result.Confidence, nil
}

type llmResult struct {
	Intent     Intent
	Confidence float64
}

func (c *LLMClassifier) classifyLLM(ctx context.Context, text string, turn Turn) (*llmResult, error) {
	temp := 0.0
	resp, err := c.completer.Complete(ctx, llm.Request{
		Capability: "classification",
		Messages: []llm.Message{
			{Role: "system", Content: classifySystemPrompt},
			{Role: "user", Content: buildClassifyPrompt(text, turn)},
		},
		Temperature: &temp,
		MaxTokens:   200,
	})
	if err != nil {
		return nil, err
	}

	raw := llm.ExtractJSON(resp.Content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON in response: %q", truncate(resp.Content, 120))
	}

	var parsed classification
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("parse classification: %w", err)
	}

	in := Intent(parsed.Intent)
	if !in.IsValid() {
		return nil, fmt.Errorf("unrecognized intent %q", parsed.Intent)
	}

	confidence := parsed.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return &llmResult{Intent: in, Confidence: confidence}, nil
}

// buildClassifyPrompt renders the conversation context and message for
// the model.
func buildClassifyPrompt(text string, turn Turn) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Conversation state: %s\n", turn.State)
	if len(turn.Candidates) > 0 {
		fmt.Fprintf(&b, "Medication options offered: %s\n", strings.Join(turn.Candidates, ", "))
	}
	if len(turn.Pharmacies) > 0 {
		fmt.Fprintf(&b, "Pharmacy options offered: %s\n", strings.Join(turn.Pharmacies, ", "))
	}
	if turn.ExpectingMedication {
		b.WriteString("The patient was just asked which medication they need.\n")
	}
	fmt.Fprintf(&b, "\nPatient message: %s", text)

	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

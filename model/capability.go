// Package model provides capability-based model selection for the
// refill agent. Callers specify capabilities (conversation,
// classification, fast) instead of model names, and the registry
// resolves them to available endpoints with fallback chains.
package model

// Capability represents a semantic capability for model selection.
// Instead of specifying "claude-sonnet", callers specify
// "conversation" or "classification".
type Capability string

const (
	// CapabilityConversation is for patient-facing reply drafting.
	CapabilityConversation Capability = "conversation"

	// CapabilityClassification is for intent and slot extraction from
	// patient messages.
	CapabilityClassification Capability = "classification"

	// CapabilityFast is for quick internal calls: summaries, short
	// rewrites, simple checks.
	CapabilityFast Capability = "fast"
)

// IsValid checks if a capability string is a known capability.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityConversation, CapabilityClassification, CapabilityFast:
		return true
	}
	return false
}

// String returns the string representation of the capability.
func (c Capability) String() string {
	return string(c)
}

// ParseCapability converts a string to a Capability, returning empty
// for invalid values.
func ParseCapability(s string) Capability {
	cap := Capability(s)
	if cap.IsValid() {
		return cap
	}
	return ""
}

package model

import (
	"encoding/json"
	"testing"
)

func TestNewDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry()

	caps := r.ListCapabilities()
	if len(caps) != 3 {
		t.Errorf("expected 3 capabilities, got %d", len(caps))
	}

	endpoints := r.ListEndpoints()
	if len(endpoints) < 3 {
		t.Errorf("expected at least 3 endpoints, got %d", len(endpoints))
	}
}

func TestRegistryResolve(t *testing.T) {
	r := NewDefaultRegistry()

	tests := []struct {
		capability Capability
		expected   string
	}{
		{CapabilityConversation, "claude-sonnet"},
		{CapabilityClassification, "claude-haiku"},
		{CapabilityFast, "claude-haiku"},
		{Capability("unknown"), "qwen"}, // Falls back to default
	}

	for _, tt := range tests {
		t.Run(string(tt.capability), func(t *testing.T) {
			got := r.Resolve(tt.capability)
			if got != tt.expected {
				t.Errorf("Resolve(%q) = %q, want %q", tt.capability, got, tt.expected)
			}
		})
	}
}

func TestRegistryGetFallbackChain(t *testing.T) {
	r := NewDefaultRegistry()

	chain := r.GetFallbackChain(CapabilityConversation)

	if len(chain) < 2 {
		t.Fatalf("expected at least 2 models in chain, got %d", len(chain))
	}
	if chain[0] != "claude-sonnet" {
		t.Errorf("first in chain should be claude-sonnet, got %q", chain[0])
	}

	hasLocal := false
	for _, m := range chain {
		if m == "qwen" {
			hasLocal = true
			break
		}
	}
	if !hasLocal {
		t.Error("expected local fallback model in chain")
	}
}

func TestRegistryGetEndpoint(t *testing.T) {
	r := NewDefaultRegistry()

	endpoint := r.GetEndpoint("qwen")
	if endpoint == nil {
		t.Fatal("expected endpoint for qwen")
	}
	if endpoint.Provider != "ollama" {
		t.Errorf("provider = %q, want ollama", endpoint.Provider)
	}

	if r.GetEndpoint("nonexistent") != nil {
		t.Error("expected nil for unknown endpoint")
	}
}

func TestRegistrySetters(t *testing.T) {
	r := NewRegistry(nil, nil)

	r.SetCapability(CapabilityFast, &CapabilityConfig{
		Preferred: []string{"tiny"},
	})
	r.SetEndpoint("tiny", &EndpointConfig{
		Provider: "ollama",
		URL:      "http://localhost:11434/v1",
		Model:    "tinyllama",
	})
	r.SetDefault("tiny")

	if got := r.Resolve(CapabilityFast); got != "tiny" {
		t.Errorf("Resolve(fast) = %q, want tiny", got)
	}
	if got := r.Resolve(Capability("unknown")); got != "tiny" {
		t.Errorf("Resolve(unknown) = %q, want default tiny", got)
	}
	if ep := r.GetEndpoint("tiny"); ep == nil || ep.Model != "tinyllama" {
		t.Errorf("unexpected endpoint: %+v", ep)
	}
}

func TestRegistryJSONRoundTrip(t *testing.T) {
	r := NewDefaultRegistry()

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal registry: %v", err)
	}

	var decoded Registry
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal registry: %v", err)
	}

	if got := decoded.Resolve(CapabilityConversation); got != "claude-sonnet" {
		t.Errorf("Resolve after round trip = %q, want claude-sonnet", got)
	}
	if ep := decoded.GetEndpoint("llama3.2"); ep == nil || ep.Provider != "ollama" {
		t.Errorf("endpoint lost in round trip: %+v", ep)
	}
}

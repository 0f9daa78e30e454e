package model

import (
	"os"
	"path/filepath"
	"testing"
)

const testRegistryJSON = `{
  "model_registry": {
    "capabilities": {
      "conversation": {
        "description": "Patient replies",
        "preferred": ["local-chat"],
        "fallback": ["local-small"]
      },
      "triage": {
        "preferred": ["local-small"]
      }
    },
    "endpoints": {
      "local-chat": {
        "provider": "ollama",
        "url": "http://localhost:11434/v1",
        "model": "qwen2.5:14b"
      },
      "local-small": {
        "provider": "ollama",
        "url": "http://localhost:11434/v1",
        "model": "llama3.2"
      }
    },
    "defaults": {
      "model": "local-small"
    }
  }
}`

func TestLoadFromJSON(t *testing.T) {
	r, err := LoadFromJSON([]byte(testRegistryJSON))
	if err != nil {
		t.Fatalf("LoadFromJSON() error = %v", err)
	}

	if got := r.Resolve(CapabilityConversation); got != "local-chat" {
		t.Errorf("Resolve(conversation) = %q, want local-chat", got)
	}

	// Unknown capability names are kept as-is.
	if got := r.Resolve(Capability("triage")); got != "local-small" {
		t.Errorf("Resolve(triage) = %q, want local-small", got)
	}

	// Unconfigured capabilities fall back to the default model.
	if got := r.Resolve(CapabilityFast); got != "local-small" {
		t.Errorf("Resolve(fast) = %q, want default local-small", got)
	}
}

func TestLoadFromJSONBareConfig(t *testing.T) {
	bare := `{
  "capabilities": {
    "fast": {"preferred": ["local-small"]}
  },
  "endpoints": {
    "local-small": {"provider": "ollama", "model": "llama3.2"}
  }
}`

	r, err := LoadFromJSON([]byte(bare))
	if err != nil {
		t.Fatalf("LoadFromJSON() error = %v", err)
	}
	if got := r.Resolve(CapabilityFast); got != "local-small" {
		t.Errorf("Resolve(fast) = %q, want local-small", got)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.json")
	if err := os.WriteFile(path, []byte(testRegistryJSON), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	r, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if ep := r.GetEndpoint("local-chat"); ep == nil || ep.Provider != "ollama" {
		t.Errorf("unexpected endpoint: %+v", ep)
	}

	if _, err := LoadFromFile(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestMergeFromConfig(t *testing.T) {
	r := NewDefaultRegistry()

	r.MergeFromConfig(&RegistryConfig{
		Capabilities: map[string]*CapabilityConfig{
			"conversation": {Preferred: []string{"local-chat"}},
		},
		Endpoints: map[string]*EndpointConfig{
			"local-chat": {Provider: "ollama", Model: "qwen2.5:14b"},
		},
		Defaults: &DefaultsConfig{Model: "local-chat"},
	})

	if got := r.Resolve(CapabilityConversation); got != "local-chat" {
		t.Errorf("Resolve(conversation) = %q, want merged local-chat", got)
	}
	// Untouched capabilities survive the merge.
	if got := r.Resolve(CapabilityClassification); got != "claude-haiku" {
		t.Errorf("Resolve(classification) = %q, want claude-haiku", got)
	}
}

func TestToConfigRoundTrip(t *testing.T) {
	r := NewDefaultRegistry()
	cfg := r.ToConfig()

	if len(cfg.Capabilities) != 3 {
		t.Errorf("expected 3 capabilities in config, got %d", len(cfg.Capabilities))
	}

	rebuilt := RegistryFromConfig(cfg)
	if got := rebuilt.Resolve(CapabilityConversation); got != r.Resolve(CapabilityConversation) {
		t.Errorf("round trip changed resolution: %q", got)
	}
}

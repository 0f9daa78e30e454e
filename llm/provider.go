package llm

import (
	"net/http"
	"sync"
)

// Provider defines the interface for LLM provider-specific behavior.
// Implementations handle the wire format differences between APIs
// (Anthropic, OpenAI-compatible, Ollama).
type Provider interface {
	// Name returns the provider identifier (e.g., "anthropic", "ollama").
	Name() string

	// BuildURL constructs the full API URL from the endpoint base URL.
	BuildURL(baseURL string) string

	// SetHeaders adds provider-specific headers to the HTTP request.
	SetHeaders(req *http.Request)

	// BuildRequestBody constructs the provider-specific request payload.
	BuildRequestBody(modelName string, messages []Message, temperature *float64, maxTokens int) ([]byte, error)

	// ParseResponse extracts the completion from the provider's response format.
	ParseResponse(body []byte, modelName string) (*Response, error)
}

var (
	providersMu sync.RWMutex
	providers   = make(map[string]Provider)
)

// RegisterProvider registers a provider implementation.
// Providers self-register in their init() functions.
func RegisterProvider(p Provider) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[p.Name()] = p
}

// GetProvider returns the provider for the given name, or nil if not registered.
func GetProvider(name string) Provider {
	providersMu.RLock()
	defer providersMu.RUnlock()
	return providers[name]
}

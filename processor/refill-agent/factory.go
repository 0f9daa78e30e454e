package refillagent

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the refill agent component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        sourceName,
		Factory:     NewComponent,
		Schema:      agentSchema,
		Type:        "processor",
		Protocol:    "conversation",
		Domain:      "refill",
		Description: "Runs prescription refill conversations over the conversation stream",
		Version:     "0.1.0",
	})
}

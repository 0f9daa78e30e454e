package escalationnotifier

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the escalation notifier component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        sourceName,
		Factory:     NewComponent,
		Schema:      notifierSchema,
		Type:        "processor",
		Protocol:    "conversation",
		Domain:      "refill",
		Description: "Routes refill escalations to the care-team channel",
		Version:     "0.1.0",
	})
}

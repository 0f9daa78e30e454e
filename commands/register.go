// Package commands provides slash commands for the rxpilot agent.
// Commands are registered globally via init() for use by agentic-dispatch.
package commands

import (
	agenticdispatch "github.com/c360studio/semstreams/processor/agentic-dispatch"
)

func init() {
	// Conversation commands
	agenticdispatch.RegisterCommand("refill", &RefillCommand{})
	agenticdispatch.RegisterCommand("refill-status", &RefillStatusCommand{})
	agenticdispatch.RegisterCommand("refill-cancel", &RefillCancelCommand{})

	// Utility commands
	agenticdispatch.RegisterCommand("refill-help", &RefillHelpCommand{})
}

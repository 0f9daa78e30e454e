package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/c360studio/semstreams/agentic"
	agenticdispatch "github.com/c360studio/semstreams/processor/agentic-dispatch"
	"github.com/google/uuid"
)

// RefillHelpCommand implements the /refill-help command for listing
// available commands.
type RefillHelpCommand struct{}

// Config returns the command configuration.
func (c *RefillHelpCommand) Config() agenticdispatch.CommandConfig {
	return agenticdispatch.CommandConfig{
		Pattern:     `^/refill-help(?:\s+(.*))?$`,
		Permission:  "view",
		RequireLoop: false,
		Help:        "/refill-help [command] - Show available commands or command details",
	}
}

// Execute runs the refill-help command.
func (c *RefillHelpCommand) Execute(
	ctx context.Context,
	cmdCtx *agenticdispatch.CommandContext,
	msg agentic.UserMessage,
	args []string,
	loopID string,
) (agentic.UserResponse, error) {
	specificCmd := ""
	if len(args) > 0 {
		specificCmd = strings.TrimSpace(args[0])
		// Strip leading slash if provided
		specificCmd = strings.TrimPrefix(specificCmd, "/")
	}

	// Get all registered commands and extract their configs
	executors := agenticdispatch.ListRegisteredCommands()
	commands := make(map[string]agenticdispatch.CommandConfig, len(executors))
	for name, executor := range executors {
		commands[name] = executor.Config()
	}

	// If a specific command is requested, show detailed help
	if specificCmd != "" {
		return c.showCommandHelp(commands, specificCmd, msg)
	}

	// Otherwise, list all commands
	return c.listAllCommands(commands, msg)
}

// showCommandHelp shows detailed help for a specific command.
func (c *RefillHelpCommand) showCommandHelp(commands map[string]agenticdispatch.CommandConfig, name string, msg agentic.UserMessage) (agentic.UserResponse, error) {
	cfg, exists := commands[name]
	if !exists {
		return agentic.UserResponse{
			ResponseID:  uuid.New().String(),
			ChannelType: msg.ChannelType,
			ChannelID:   msg.ChannelID,
			UserID:      msg.UserID,
			Type:        agentic.ResponseTypeError,
			Content:     fmt.Sprintf("Unknown command: /%s\n\nRun `/refill-help` to see available commands.", name),
			Timestamp:   time.Now(),
		}, nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## /%s\n\n", name))
	sb.WriteString(fmt.Sprintf("%s\n\n", cfg.Help))
	sb.WriteString(fmt.Sprintf("**Permission**: %s\n", cfg.Permission))

	return agentic.UserResponse{
		ResponseID:  uuid.New().String(),
		ChannelType: msg.ChannelType,
		ChannelID:   msg.ChannelID,
		UserID:      msg.UserID,
		Type:        agentic.ResponseTypeResult,
		Content:     sb.String(),
		Timestamp:   time.Now(),
	}, nil
}

// listAllCommands lists all available commands grouped by category.
func (c *RefillHelpCommand) listAllCommands(commands map[string]agenticdispatch.CommandConfig, msg agentic.UserMessage) (agentic.UserResponse, error) {
	conversation := []string{"refill", "refill-status", "refill-cancel"}
	utility := []string{"refill-help"}

	var sb strings.Builder
	sb.WriteString("# Prescription Refill Commands\n\n")

	sb.WriteString("## Conversation\n\n")
	sb.WriteString("| Command | Description |\n")
	sb.WriteString("|---------|-------------|\n")
	for _, name := range conversation {
		if cfg, ok := commands[name]; ok {
			sb.WriteString(fmt.Sprintf("| `/%s` | %s |\n", name, extractDescription(cfg.Help)))
		}
	}

	sb.WriteString("\n## Utility\n\n")
	sb.WriteString("| Command | Description |\n")
	sb.WriteString("|---------|-------------|\n")
	for _, name := range utility {
		if cfg, ok := commands[name]; ok {
			sb.WriteString(fmt.Sprintf("| `/%s` | %s |\n", name, extractDescription(cfg.Help)))
		}
	}

	// Any other commands not in the categories above
	var other []string
	knownCommands := make(map[string]bool)
	for _, list := range [][]string{conversation, utility} {
		for _, name := range list {
			knownCommands[name] = true
		}
	}
	for name := range commands {
		if !knownCommands[name] {
			other = append(other, name)
		}
	}
	if len(other) > 0 {
		sort.Strings(other)
		sb.WriteString("\n## Other\n\n")
		sb.WriteString("| Command | Description |\n")
		sb.WriteString("|---------|-------------|\n")
		for _, name := range other {
			if cfg, ok := commands[name]; ok {
				sb.WriteString(fmt.Sprintf("| `/%s` | %s |\n", name, extractDescription(cfg.Help)))
			}
		}
	}

	sb.WriteString("\n## How a refill works\n\n")
	sb.WriteString("1. Start with `/refill <message>` naming the medication you need.\n")
	sb.WriteString("2. Confirm the dosage on file when asked.\n")
	sb.WriteString("3. Pick a pharmacy from the list.\n")
	sb.WriteString("4. Confirm the order and you're done.\n\n")
	sb.WriteString("Requests that need a pharmacist or prescriber are handed off to the care team. ")
	sb.WriteString("Idle conversations expire automatically, so just start a new one if yours goes stale.\n")

	sb.WriteString("\n---\n")
	sb.WriteString("Run `/refill-help <command>` for detailed help on a specific command.\n")

	return agentic.UserResponse{
		ResponseID:  uuid.New().String(),
		ChannelType: msg.ChannelType,
		ChannelID:   msg.ChannelID,
		UserID:      msg.UserID,
		Type:        agentic.ResponseTypeResult,
		Content:     sb.String(),
		Timestamp:   time.Now(),
	}, nil
}

// extractDescription extracts the description portion after the dash in help text.
func extractDescription(help string) string {
	// Help format is "/command <args> - Description"
	parts := strings.SplitN(help, " - ", 2)
	if len(parts) == 2 {
		return parts[1]
	}
	return help
}

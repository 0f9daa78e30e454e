package commands

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/c360studio/semstreams/agentic"

	"github.com/c360studio/rxpilot/erx"
)

func TestCommandPatterns(t *testing.T) {
	tests := []struct {
		name      string
		pattern   string
		input     string
		wantMatch bool
		wantArg   string
	}{
		{
			name:      "refill with message",
			pattern:   (&RefillCommand{}).Config().Pattern,
			input:     "/refill I need to refill my lisinopril",
			wantMatch: true,
			wantArg:   "I need to refill my lisinopril",
		},
		{
			name:      "refill without message does not match",
			pattern:   (&RefillCommand{}).Config().Pattern,
			input:     "/refill",
			wantMatch: false,
		},
		{
			name:      "refill does not swallow refill-status",
			pattern:   (&RefillCommand{}).Config().Pattern,
			input:     "/refill-status sess-1",
			wantMatch: false,
		},
		{
			name:      "status without session id",
			pattern:   (&RefillStatusCommand{}).Config().Pattern,
			input:     "/refill-status",
			wantMatch: true,
			wantArg:   "",
		},
		{
			name:      "status with session id",
			pattern:   (&RefillStatusCommand{}).Config().Pattern,
			input:     "/refill-status sess-1",
			wantMatch: true,
			wantArg:   "sess-1",
		},
		{
			name:      "status with trailing whitespace",
			pattern:   (&RefillStatusCommand{}).Config().Pattern,
			input:     "/refill-status sess-1  ",
			wantMatch: true,
			wantArg:   "sess-1",
		},
		{
			name:      "status with garbage suffix does not match",
			pattern:   (&RefillStatusCommand{}).Config().Pattern,
			input:     "/refill-statusnow",
			wantMatch: false,
		},
		{
			name:      "cancel without session id",
			pattern:   (&RefillCancelCommand{}).Config().Pattern,
			input:     "/refill-cancel",
			wantMatch: true,
			wantArg:   "",
		},
		{
			name:      "cancel with session id",
			pattern:   (&RefillCancelCommand{}).Config().Pattern,
			input:     "/refill-cancel sess-9",
			wantMatch: true,
			wantArg:   "sess-9",
		},
		{
			name:      "help bare",
			pattern:   (&RefillHelpCommand{}).Config().Pattern,
			input:     "/refill-help",
			wantMatch: true,
			wantArg:   "",
		},
		{
			name:      "help with command name",
			pattern:   (&RefillHelpCommand{}).Config().Pattern,
			input:     "/refill-help refill-cancel",
			wantMatch: true,
			wantArg:   "refill-cancel",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			re, err := regexp.Compile(tt.pattern)
			if err != nil {
				t.Fatalf("pattern %q does not compile: %v", tt.pattern, err)
			}

			m := re.FindStringSubmatch(tt.input)
			if (m != nil) != tt.wantMatch {
				t.Fatalf("match(%q) = %v, want %v", tt.input, m != nil, tt.wantMatch)
			}
			if !tt.wantMatch {
				return
			}

			arg := ""
			if len(m) > 1 {
				arg = m[1]
			}
			if arg != tt.wantArg {
				t.Errorf("captured arg = %q, want %q", arg, tt.wantArg)
			}
		})
	}
}

func TestCommandPermissions(t *testing.T) {
	tests := []struct {
		name       string
		config     func() string
		permission string
	}{
		{"refill", func() string { return (&RefillCommand{}).Config().Permission }, "write"},
		{"refill-status", func() string { return (&RefillStatusCommand{}).Config().Permission }, "view"},
		{"refill-cancel", func() string { return (&RefillCancelCommand{}).Config().Permission }, "write"},
		{"refill-help", func() string { return (&RefillHelpCommand{}).Config().Permission }, "view"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.config(); got != tt.permission {
				t.Errorf("permission = %q, want %q", got, tt.permission)
			}
		})
	}
}

func TestPatientFor(t *testing.T) {
	withUser := agentic.UserMessage{UserID: "patient-7"}
	if got := patientFor(withUser); got != "patient-7" {
		t.Errorf("patientFor() = %q, want %q", got, "patient-7")
	}

	anonymous := agentic.UserMessage{}
	if got := patientFor(anonymous); got != erx.DemoPatientID {
		t.Errorf("patientFor() = %q, want demo patient %q", got, erx.DemoPatientID)
	}
}

func TestExtractDescription(t *testing.T) {
	tests := []struct {
		name string
		help string
		want string
	}{
		{
			name: "standard format",
			help: "/refill <message> - Start or continue a prescription refill conversation",
			want: "Start or continue a prescription refill conversation",
		},
		{
			name: "no dash returns whole string",
			help: "/refill does things",
			want: "/refill does things",
		},
		{
			name: "dash inside description preserved",
			help: "/refill-cancel [session-id] - Cancel the refill conversation and start over",
			want: "Cancel the refill conversation and start over",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractDescription(tt.help); got != tt.want {
				t.Errorf("extractDescription(%q) = %q, want %q", tt.help, got, tt.want)
			}
		})
	}
}

func TestHelpCommandListsAll(t *testing.T) {
	cmd := &RefillHelpCommand{}
	msg := agentic.UserMessage{
		ChannelType: "web",
		ChannelID:   "ch-1",
		UserID:      "patient-demo",
	}

	resp, err := cmd.Execute(context.Background(), nil, msg, nil, "")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.Type != agentic.ResponseTypeResult {
		t.Fatalf("response type = %q, want %q", resp.Type, agentic.ResponseTypeResult)
	}

	requiredContent := []string{
		"# Prescription Refill Commands",
		"`/refill`",
		"`/refill-status`",
		"`/refill-cancel`",
		"`/refill-help`",
		"## How a refill works",
		"care team",
	}
	for _, content := range requiredContent {
		if !strings.Contains(resp.Content, content) {
			t.Errorf("help output should contain %q", content)
		}
	}
}

func TestHelpCommandSpecific(t *testing.T) {
	cmd := &RefillHelpCommand{}
	msg := agentic.UserMessage{ChannelType: "web", ChannelID: "ch-1", UserID: "patient-demo"}

	resp, err := cmd.Execute(context.Background(), nil, msg, []string{"refill"}, "")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.Type != agentic.ResponseTypeResult {
		t.Fatalf("response type = %q, want %q", resp.Type, agentic.ResponseTypeResult)
	}
	for _, content := range []string{"## /refill", "/refill <message>", "**Permission**: write"} {
		if !strings.Contains(resp.Content, content) {
			t.Errorf("command help should contain %q", content)
		}
	}
}

func TestHelpCommandUnknown(t *testing.T) {
	cmd := &RefillHelpCommand{}
	msg := agentic.UserMessage{ChannelType: "web", ChannelID: "ch-1", UserID: "patient-demo"}

	resp, err := cmd.Execute(context.Background(), nil, msg, []string{"nope"}, "")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.Type != agentic.ResponseTypeError {
		t.Fatalf("response type = %q, want %q", resp.Type, agentic.ResponseTypeError)
	}
	if !strings.Contains(resp.Content, "Unknown command: /nope") {
		t.Errorf("error output should name the unknown command, got %q", resp.Content)
	}
}

func TestRefillCommandRejectsEmptyText(t *testing.T) {
	cmd := &RefillCommand{}
	msg := agentic.UserMessage{ChannelType: "web", ChannelID: "ch-1", UserID: "patient-demo"}

	resp, err := cmd.Execute(context.Background(), nil, msg, []string{`""`}, "")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.Type != agentic.ResponseTypeError {
		t.Fatalf("response type = %q, want %q", resp.Type, agentic.ResponseTypeError)
	}
	if !strings.Contains(resp.Content, "Usage: /refill") {
		t.Errorf("error output should show usage, got %q", resp.Content)
	}
}

// Package claudecli implements the ToolAdapter for the Claude Code CLI.
package claudecli

import (
	"os/exec"
	"strings"

	"github.com/agentdeck/agentdeck/internal/domain"
	"github.com/agentdeck/agentdeck/internal/domain/conversation"
	"github.com/agentdeck/agentdeck/internal/domain/ports"
)

// DefaultCommand is the binary name when no command is configured.
const DefaultCommand = "claude"

// Adapter builds spawn arguments for claude's stream-json protocol.
type Adapter struct {
	command string
}

// New creates a Claude CLI adapter. An empty command uses the default.
func New(command string) *Adapter {
	if command == "" {
		command = DefaultCommand
	}
	return &Adapter{command: command}
}

// Tool returns the tool identity.
func (a *Adapter) Tool() conversation.Tool {
	return conversation.ToolClaude
}

// Executable resolves the claude binary on PATH.
func (a *Adapter) Executable() (string, error) {
	path, err := exec.LookPath(a.command)
	if err != nil {
		return "", domain.ErrExecutableNotFound
	}
	return path, nil
}

// BuildArgs constructs the non-interactive streaming argument list:
// stream-json on both stdin and stdout, partial messages included, user
// input replayed so resumed sessions re-emit prior turns.
func (a *Adapter) BuildArgs(opts ports.SpawnOptions) []string {
	args := []string{
		"--print",
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--include-partial-messages",
		"--replay-user-messages",
		"--verbose",
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if pm := a.permissionMode(opts); pm != "" {
		args = append(args, "--permission-mode", pm)
	}
	if opts.ResumeToken != "" {
		args = append(args, "--resume", opts.ResumeToken)
	}
	return args
}

// permissionMode maps the conversation settings to claude's flag value.
// Plan-mode conversations default to the restrictive plan permission mode.
func (a *Adapter) permissionMode(opts ports.SpawnOptions) string {
	if opts.PermissionMode != "" {
		return opts.PermissionMode
	}
	if opts.Mode == conversation.ModePlan {
		return "plan"
	}
	return ""
}

// Environ sanitizes the environment: no color, no interactive terminal.
func (a *Adapter) Environ(base []string) []string {
	env := make([]string, 0, len(base)+2)
	for _, kv := range base {
		if strings.HasPrefix(kv, "TERM=") || strings.HasPrefix(kv, "FORCE_COLOR=") {
			continue
		}
		env = append(env, kv)
	}
	return append(env, "TERM=dumb", "NO_COLOR=1")
}

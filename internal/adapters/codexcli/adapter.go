// Package codexcli implements the ToolAdapter for the Codex CLI.
package codexcli

import (
	"os/exec"
	"strings"

	"github.com/agentdeck/agentdeck/internal/domain"
	"github.com/agentdeck/agentdeck/internal/domain/conversation"
	"github.com/agentdeck/agentdeck/internal/domain/ports"
)

// DefaultCommand is the binary name when no command is configured.
const DefaultCommand = "codex"

// Adapter builds spawn arguments for codex's JSON exec mode.
type Adapter struct {
	command string
}

// New creates a Codex CLI adapter. An empty command uses the default.
func New(command string) *Adapter {
	if command == "" {
		command = DefaultCommand
	}
	return &Adapter{command: command}
}

// Tool returns the tool identity.
func (a *Adapter) Tool() conversation.Tool {
	return conversation.ToolCodex
}

// Executable resolves the codex binary on PATH.
func (a *Adapter) Executable() (string, error) {
	path, err := exec.LookPath(a.command)
	if err != nil {
		return "", domain.ErrExecutableNotFound
	}
	return path, nil
}

// BuildArgs constructs the JSON exec argument list. Resumption uses
// "exec resume <id>", which must precede the remaining flags.
func (a *Adapter) BuildArgs(opts ports.SpawnOptions) []string {
	args := []string{"exec"}
	if opts.ResumeToken != "" {
		args = append(args, "resume", opts.ResumeToken)
	}
	args = append(args, "--json", "--skip-git-repo-check")
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.Mode != conversation.ModePlan && opts.PermissionMode == "bypass" {
		args = append(args, "--dangerously-bypass-approvals-and-sandbox")
	}
	return args
}

// Environ sanitizes the environment for non-interactive use.
func (a *Adapter) Environ(base []string) []string {
	env := make([]string, 0, len(base)+1)
	for _, kv := range base {
		if strings.HasPrefix(kv, "FORCE_COLOR=") {
			continue
		}
		env = append(env, kv)
	}
	return append(env, "NO_COLOR=1")
}

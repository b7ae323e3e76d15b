package claudecli

import (
	"slices"
	"strings"
	"testing"

	"github.com/agentdeck/agentdeck/internal/domain/conversation"
	"github.com/agentdeck/agentdeck/internal/domain/ports"
)

func TestBuildArgsBase(t *testing.T) {
	a := New("")
	args := a.BuildArgs(ports.SpawnOptions{})
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"--print",
		"--input-format stream-json",
		"--output-format stream-json",
		"--include-partial-messages",
		"--replay-user-messages",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing %q in args: %s", want, joined)
		}
	}
	if strings.Contains(joined, "--resume") {
		t.Errorf("no resume flag without a token: %s", joined)
	}
	if strings.Contains(joined, "--model") {
		t.Errorf("no model flag without a model: %s", joined)
	}
}

func TestBuildArgsResume(t *testing.T) {
	a := New("")
	args := a.BuildArgs(ports.SpawnOptions{ResumeToken: "sess-abc"})
	i := slices.Index(args, "--resume")
	if i < 0 || i+1 >= len(args) || args[i+1] != "sess-abc" {
		t.Errorf("resume token not wired: %v", args)
	}
}

func TestBuildArgsModelAndPermissionMode(t *testing.T) {
	a := New("")
	args := a.BuildArgs(ports.SpawnOptions{Model: "sonnet", PermissionMode: "acceptEdits"})
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--model sonnet") {
		t.Errorf("model flag missing: %s", joined)
	}
	if !strings.Contains(joined, "--permission-mode acceptEdits") {
		t.Errorf("permission mode flag missing: %s", joined)
	}
}

func TestPlanModeDefaultsToPlanPermissions(t *testing.T) {
	a := New("")
	args := a.BuildArgs(ports.SpawnOptions{Mode: conversation.ModePlan})
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--permission-mode plan") {
		t.Errorf("plan mode must imply plan permissions: %s", joined)
	}
}

func TestEnvironSanitized(t *testing.T) {
	a := New("")
	env := a.Environ([]string{"PATH=/usr/bin", "TERM=xterm", "FORCE_COLOR=1", "HOME=/root"})

	joined := strings.Join(env, "\n")
	if strings.Contains(joined, "TERM=xterm") || strings.Contains(joined, "FORCE_COLOR=1") {
		t.Errorf("terminal variables must be stripped: %v", env)
	}
	if !slices.Contains(env, "TERM=dumb") || !slices.Contains(env, "NO_COLOR=1") {
		t.Errorf("sanitized values missing: %v", env)
	}
	if !slices.Contains(env, "PATH=/usr/bin") || !slices.Contains(env, "HOME=/root") {
		t.Errorf("unrelated variables must survive: %v", env)
	}
}

func TestDefaultCommand(t *testing.T) {
	if New("").command != DefaultCommand {
		t.Errorf("empty command must fall back to default")
	}
	if New("claude-dev").command != "claude-dev" {
		t.Errorf("configured command must win")
	}
}

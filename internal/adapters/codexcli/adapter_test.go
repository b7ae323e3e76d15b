package codexcli

import (
	"slices"
	"strings"
	"testing"

	"github.com/agentdeck/agentdeck/internal/domain/ports"
)

func TestBuildArgsBase(t *testing.T) {
	a := New("")
	args := a.BuildArgs(ports.SpawnOptions{})
	if args[0] != "exec" {
		t.Errorf("exec must come first: %v", args)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--json") || !strings.Contains(joined, "--skip-git-repo-check") {
		t.Errorf("missing base flags: %s", joined)
	}
}

func TestBuildArgsResumePrecedesFlags(t *testing.T) {
	a := New("")
	args := a.BuildArgs(ports.SpawnOptions{ResumeToken: "thread-1"})
	if len(args) < 3 || args[0] != "exec" || args[1] != "resume" || args[2] != "thread-1" {
		t.Errorf("resume must follow exec before flags: %v", args)
	}
	if slices.Index(args, "--json") < slices.Index(args, "resume") {
		t.Errorf("flags must come after resume: %v", args)
	}
}

func TestBuildArgsModel(t *testing.T) {
	a := New("")
	args := a.BuildArgs(ports.SpawnOptions{Model: "o3"})
	i := slices.Index(args, "--model")
	if i < 0 || args[i+1] != "o3" {
		t.Errorf("model flag not wired: %v", args)
	}
}

func TestEnvironStripsForceColor(t *testing.T) {
	a := New("")
	env := a.Environ([]string{"FORCE_COLOR=1", "PATH=/bin"})
	if slices.Contains(env, "FORCE_COLOR=1") {
		t.Errorf("FORCE_COLOR must be stripped: %v", env)
	}
	if !slices.Contains(env, "NO_COLOR=1") || !slices.Contains(env, "PATH=/bin") {
		t.Errorf("unexpected env: %v", env)
	}
}

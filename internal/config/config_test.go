package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 8931 {
		t.Errorf("unexpected default port %d", cfg.Server.Port)
	}
	if cfg.Bus.ReplayBufferSize != 200 {
		t.Errorf("unexpected replay buffer size %d", cfg.Bus.ReplayBufferSize)
	}
	if cfg.Tools.ClaudeCommand != "claude" || cfg.Tools.CodexCommand != "codex" {
		t.Errorf("unexpected tool commands: %s, %s", cfg.Tools.ClaudeCommand, cfg.Tools.CodexCommand)
	}
	if cfg.Store.MaxConversations != 200 {
		t.Errorf("unexpected conversation ceiling %d", cfg.Store.MaxConversations)
	}
	if cfg.Approval.TimeoutSeconds != 30 {
		t.Errorf("unexpected approval timeout %d", cfg.Approval.TimeoutSeconds)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.Server.Port = 0 },
		func(c *Config) { c.Server.Port = 70000 },
		func(c *Config) { c.Bus.ReplayBufferSize = 0 },
		func(c *Config) { c.Store.MaxConversations = -1 },
		func(c *Config) { c.Approval.TimeoutSeconds = 0 },
		func(c *Config) { c.Terminal.MaxSessions = 0 },
	}
	for i, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := Validate(cfg); err == nil {
			t.Errorf("case %d: expected validation failure", i)
		}
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9999
tools:
  claude_command: /opt/bin/claude
watcher:
  enabled: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("file value not applied: %d", cfg.Server.Port)
	}
	if cfg.Tools.ClaudeCommand != "/opt/bin/claude" {
		t.Errorf("tool command not applied: %s", cfg.Tools.ClaudeCommand)
	}
	if !cfg.Watcher.Enabled {
		t.Errorf("watcher flag not applied")
	}
	// Untouched settings keep defaults
	if cfg.Bus.ReplayBufferSize != 200 {
		t.Errorf("default lost: %d", cfg.Bus.ReplayBufferSize)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(oldWD) })
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("missing config file must not fail: %v", err)
	}
	if cfg.Server.Port != 8931 {
		t.Errorf("expected defaults, got port %d", cfg.Server.Port)
	}
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load of written config failed: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("written defaults must validate: %v", err)
	}
}

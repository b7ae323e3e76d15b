// Package config handles configuration management for agentdeck.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Bus      BusConfig      `mapstructure:"bus" yaml:"bus"`
	Tools    ToolsConfig    `mapstructure:"tools" yaml:"tools"`
	Approval ApprovalConfig `mapstructure:"approval" yaml:"approval"`
	Terminal TerminalConfig `mapstructure:"terminal" yaml:"terminal"`
	Watcher  WatcherConfig  `mapstructure:"watcher" yaml:"watcher"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig holds the streaming server configuration.
type ServerConfig struct {
	Host        string `mapstructure:"host" yaml:"host"`
	Port        int    `mapstructure:"port" yaml:"port"`
	ExternalURL string `mapstructure:"external_url" yaml:"external_url"` // Optional public URL (tunnels)
	ShowQR      bool   `mapstructure:"show_qr" yaml:"show_qr"`
}

// StoreConfig holds persistence configuration.
type StoreConfig struct {
	Path               string `mapstructure:"path" yaml:"path"`
	FlushIntervalMS    int    `mapstructure:"flush_interval_ms" yaml:"flush_interval_ms"`
	EndedGraceHours    int    `mapstructure:"ended_grace_hours" yaml:"ended_grace_hours"`
	RetentionDays      int    `mapstructure:"retention_days" yaml:"retention_days"`
	MaxConversations   int    `mapstructure:"max_conversations" yaml:"max_conversations"`
	CleanupIntervalMin int    `mapstructure:"cleanup_interval_min" yaml:"cleanup_interval_min"`
}

// BusConfig holds delivery bus configuration.
type BusConfig struct {
	ReplayBufferSize int `mapstructure:"replay_buffer_size" yaml:"replay_buffer_size"`
}

// ToolsConfig holds per-agent-tool configuration.
type ToolsConfig struct {
	ClaudeCommand string `mapstructure:"claude_command" yaml:"claude_command"`
	CodexCommand  string `mapstructure:"codex_command" yaml:"codex_command"`
	// SettleDelayMS is the pause before sending a queued initial prompt to a
	// freshly spawned subprocess.
	SettleDelayMS int `mapstructure:"settle_delay_ms" yaml:"settle_delay_ms"`
}

// ApprovalConfig bounds direct execution of approved tool actions.
type ApprovalConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	MaxOutputKB    int `mapstructure:"max_output_kb" yaml:"max_output_kb"`
}

// TerminalConfig holds the ephemeral PTY session pool configuration.
type TerminalConfig struct {
	Shell          string `mapstructure:"shell" yaml:"shell"`
	MaxSessions    int    `mapstructure:"max_sessions" yaml:"max_sessions"`
	IdleTimeoutMin int    `mapstructure:"idle_timeout_min" yaml:"idle_timeout_min"`
}

// WatcherConfig holds the working-directory file watcher configuration.
type WatcherConfig struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled"`
	DebounceMS     int      `mapstructure:"debounce_ms" yaml:"debounce_ms"`
	IgnorePatterns []string `mapstructure:"ignore_patterns" yaml:"ignore_patterns"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // "console" or "json"
}

// Load loads configuration from files and environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.agentdeck")
		v.AddConfigPath("/etc/agentdeck")
	}

	v.SetEnvPrefix("AGENTDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers default values for all settings.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8931)
	v.SetDefault("server.show_qr", true)

	v.SetDefault("store.path", defaultStorePath())
	v.SetDefault("store.flush_interval_ms", 250)
	v.SetDefault("store.ended_grace_hours", 24)
	v.SetDefault("store.retention_days", 30)
	v.SetDefault("store.max_conversations", 200)
	v.SetDefault("store.cleanup_interval_min", 60)

	v.SetDefault("bus.replay_buffer_size", 200)

	v.SetDefault("tools.claude_command", "claude")
	v.SetDefault("tools.codex_command", "codex")
	v.SetDefault("tools.settle_delay_ms", 500)

	v.SetDefault("approval.timeout_seconds", 30)
	v.SetDefault("approval.max_output_kb", 32)

	v.SetDefault("terminal.shell", defaultShell())
	v.SetDefault("terminal.max_sessions", 8)
	v.SetDefault("terminal.idle_timeout_min", 30)

	v.SetDefault("watcher.enabled", false)
	v.SetDefault("watcher.debounce_ms", 300)
	v.SetDefault("watcher.ignore_patterns", DefaultIgnorePatterns)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Validate checks configuration invariants.
func Validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}
	if cfg.Bus.ReplayBufferSize <= 0 {
		return fmt.Errorf("bus.replay_buffer_size must be positive")
	}
	if cfg.Store.MaxConversations <= 0 {
		return fmt.Errorf("store.max_conversations must be positive")
	}
	if cfg.Approval.TimeoutSeconds <= 0 {
		return fmt.Errorf("approval.timeout_seconds must be positive")
	}
	if cfg.Terminal.MaxSessions <= 0 {
		return fmt.Errorf("terminal.max_sessions must be positive")
	}
	return nil
}

// Default returns a Config populated with defaults only.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// WriteDefault writes the default configuration as YAML to path, creating
// parent directories as needed. Used by `agentdeck config init`.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "agentdeck", "agentdeck.db")
	}
	return filepath.Join(home, ".agentdeck", "agentdeck.db")
}

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/bash"
}

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agentdeck/agentdeck/internal/config"
)

var (
	configInitLocal bool
	configInitForce bool
)

// configCmd displays or manages configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Display and manage configuration",
	Long: `Display and manage agentdeck configuration.

Without subcommands, shows the current effective configuration.

Examples:
  agentdeck config              # Show current config
  agentdeck config init         # Create config file with defaults
  agentdeck config path         # Show config file location`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		printConfig(cfg)
	},
}

// configInitCmd creates a config file with defaults.
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file with default settings",
	Long: `Create a config file with default settings.

By default, creates ~/.agentdeck/config.yaml.
Use --local to create ./config.yaml in the current directory.

Examples:
  agentdeck config init          # Create ~/.agentdeck/config.yaml
  agentdeck config init --local  # Create ./config.yaml
  agentdeck config init --force  # Overwrite existing file`,
	RunE: runConfigInit,
}

// configPathCmd shows config file location.
var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show config file location",
	Run:   runConfigPath,
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitLocal, "local", false, "create ./config.yaml instead of ~/.agentdeck/config.yaml")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing config file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil && !configInitForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	if err := config.WriteDefault(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Printf("Created %s\n", path)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) {
	path, err := configFilePath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("%s (exists)\n", path)
	} else {
		fmt.Printf("%s (not created yet)\n", path)
	}
}

func configFilePath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	if configInitLocal {
		return "config.yaml", nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".agentdeck", "config.yaml"), nil
}

func printConfig(cfg *config.Config) {
	fmt.Println("Current Configuration:")
	fmt.Println("----------------------")
	fmt.Printf("Host:              %s\n", cfg.Server.Host)
	fmt.Printf("Port:              %d\n", cfg.Server.Port)
	fmt.Printf("Store Path:        %s\n", cfg.Store.Path)
	fmt.Printf("Max Conversations: %d\n", cfg.Store.MaxConversations)
	fmt.Printf("Claude Command:    %s\n", cfg.Tools.ClaudeCommand)
	fmt.Printf("Codex Command:     %s\n", cfg.Tools.CodexCommand)
	fmt.Printf("Watcher Enabled:   %t\n", cfg.Watcher.Enabled)
	fmt.Printf("Terminal Shell:    %s\n", cfg.Terminal.Shell)
	fmt.Printf("Log Level:         %s\n", cfg.Logging.Level)
	fmt.Printf("Log Format:        %s\n", cfg.Logging.Format)
}

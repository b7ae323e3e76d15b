package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/agentdeck/agentdeck/internal/app"
	"github.com/agentdeck/agentdeck/internal/config"
)

var (
	servePort        int
	serveHost        string
	serveExternalURL string
	serveNoQR        bool
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agentdeck engine",
	Long: `Start the agentdeck engine and begin accepting client connections.

The engine restores any conversations persisted by a previous run; suspended
sessions resume with full context the next time a message is sent to them.

Example:
  agentdeck serve
  agentdeck serve --port 8931
  agentdeck serve --external-url https://your-tunnel.devtunnels.ms`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port for HTTP and WebSocket (default: 8931)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen address (default: 0.0.0.0)")
	serveCmd.Flags().StringVar(&serveExternalURL, "external-url", "", "external URL for tunnels (e.g., https://tunnel.devtunnels.ms)")
	serveCmd.Flags().BoolVar(&serveNoQR, "no-qr", false, "suppress the startup QR code")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override config with flags
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if serveExternalURL != "" {
		cfg.Server.ExternalURL = serveExternalURL
	}
	if serveNoQR {
		cfg.Server.ShowQR = false
	}

	// Re-validate after overrides
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	setupLogging(cfg)

	log.Info().
		Str("version", version).
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Msg("starting agentdeck")

	application, err := app.New(cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("application error: %w", err)
	}

	log.Info().Msg("agentdeck stopped")
	return nil
}

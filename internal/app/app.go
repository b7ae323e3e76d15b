// Package app assembles the engine: store, bus, registry, supervisor,
// approvals, terminal pool, watcher, and the HTTP server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"

	"github.com/agentdeck/agentdeck/internal/adapters"
	"github.com/agentdeck/agentdeck/internal/approval"
	"github.com/agentdeck/agentdeck/internal/bus"
	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/registry"
	"github.com/agentdeck/agentdeck/internal/server"
	"github.com/agentdeck/agentdeck/internal/store"
	"github.com/agentdeck/agentdeck/internal/supervisor"
	"github.com/agentdeck/agentdeck/internal/terminal"
	"github.com/agentdeck/agentdeck/internal/watcher"
)

// App holds the wired engine components.
type App struct {
	cfg     *config.Config
	version string

	store      *store.Store
	bus        *bus.Bus
	registry   *registry.Registry
	supervisor *supervisor.Supervisor
	approvals  *approval.Coordinator
	terminals  *terminal.Pool
	server     *server.Server
}

// New wires all components from configuration.
func New(cfg *config.Config, version string) (*App, error) {
	st, err := store.Open(cfg.Store.Path, time.Duration(cfg.Store.FlushIntervalMS)*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	slogger := newSlogger(cfg.Logging)

	b := bus.New(st, cfg.Bus.ReplayBufferSize)
	reg := registry.New(slogger)
	b.SetTopicLookup(reg.Topic)

	adapt := adapters.NewRegistry(cfg.Tools.ClaudeCommand, cfg.Tools.CodexCommand)

	opts := supervisor.Options{
		SettleDelay: time.Duration(cfg.Tools.SettleDelayMS) * time.Millisecond,
	}
	if cfg.Watcher.Enabled {
		w := watcher.New(b, time.Duration(cfg.Watcher.DebounceMS)*time.Millisecond, cfg.Watcher.IgnorePatterns)
		opts.NewWatcher = w.Watch
	}

	sup := supervisor.New(reg, adapt, b, st, opts)

	appr := approval.New(reg, b, sup,
		time.Duration(cfg.Approval.TimeoutSeconds)*time.Second,
		cfg.Approval.MaxOutputKB*1024)

	terms := terminal.NewPool(slogger, terminal.Options{
		Shell:       cfg.Terminal.Shell,
		MaxSessions: cfg.Terminal.MaxSessions,
		IdleTimeout: time.Duration(cfg.Terminal.IdleTimeoutMin) * time.Minute,
	})

	srv := server.New(reg, sup, appr, b, st, terms)

	return &App{
		cfg:        cfg,
		version:    version,
		store:      st,
		bus:        b,
		registry:   reg,
		supervisor: sup,
		approvals:  appr,
		terminals:  terms,
		server:     srv,
	}, nil
}

// Start restores persisted conversations, starts retention, serves HTTP, and
// blocks until ctx is cancelled, then shuts everything down in order.
func (a *App) Start(ctx context.Context) error {
	restored, err := a.registry.Restore(a.store)
	if err != nil {
		return fmt.Errorf("failed to restore conversations: %w", err)
	}
	log.Info().Int("restored", restored).Str("version", a.version).Msg("engine ready")

	retentionCtx, cancelRetention := context.WithCancel(ctx)
	defer cancelRetention()
	a.store.StartRetention(retentionCtx, store.RetentionPolicy{
		EndedGrace:       time.Duration(a.cfg.Store.EndedGraceHours) * time.Hour,
		Horizon:          time.Duration(a.cfg.Store.RetentionDays) * 24 * time.Hour,
		MaxConversations: a.cfg.Store.MaxConversations,
		Interval:         time.Duration(a.cfg.Store.CleanupIntervalMin) * time.Minute,
	})

	a.printAccessInfo()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Serve(a.cfg.Server.Host, a.cfg.Server.Port)
	}()

	select {
	case err := <-errCh:
		a.shutdown()
		return err
	case <-ctx.Done():
	}

	a.shutdown()
	return nil
}

func (a *App) shutdown() {
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_ = a.server.Shutdown(shutdownCtx)
	a.terminals.Shutdown()
	a.supervisor.Shutdown(shutdownCtx)
	a.store.Flush()
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("store close failed")
	}
}

// printAccessInfo prints the stream URL, with a terminal QR code for mobile
// clients when enabled.
func (a *App) printAccessInfo() {
	url := a.cfg.Server.ExternalURL
	if url == "" {
		host := a.cfg.Server.Host
		if host == "0.0.0.0" || host == "" {
			host = "localhost"
		}
		url = fmt.Sprintf("http://%s:%d", host, a.cfg.Server.Port)
	}

	fmt.Fprintf(os.Stderr, "\n  agentdeck %s\n  listening at %s\n\n", a.version, url)

	if a.cfg.Server.ShowQR {
		qr, err := qrcode.New(url, qrcode.Medium)
		if err != nil {
			log.Debug().Err(err).Msg("qr generation failed")
			return
		}
		fmt.Fprintln(os.Stderr, qr.ToSmallString(false))
	}
}

// newSlogger builds the structured logger used by components that take an
// injected *slog.Logger.
func newSlogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

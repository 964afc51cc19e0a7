package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jwulff/dictapad/internal/app"
	"github.com/jwulff/dictapad/internal/config"
	"github.com/jwulff/dictapad/internal/daemon"
	"github.com/jwulff/dictapad/internal/db"
	"github.com/jwulff/dictapad/internal/mcpserver"
	"github.com/jwulff/dictapad/internal/session"
	"github.com/jwulff/dictapad/internal/source"
	"github.com/jwulff/dictapad/internal/telemetry"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		mcpMode     bool
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&mcpMode, "mcp", false, "Serve the pad as MCP tools over stdio instead of running the TUI")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if mcpMode {
		os.Exit(runMCP(cfg))
	}
	os.Exit(runTUI(cfg))
}

// runMCP owns stdout for the protocol, so logs go to stderr.
func runMCP(cfg config.Config) int {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessOpts := append([]session.Option{session.WithLogger(logger)}, metricsOptions(ctx, cfg, logger)...)
	srv := mcpserver.New(session.New(sessOpts...), mcpserver.Options{
		Name:    cfg.MCP.Name,
		Version: cfg.MCP.Version,
		Logger:  logger,
	})
	if err := srv.ServeStdio(); err != nil {
		logger.Error("mcp server exited with error", slog.String("error", err.Error()))
		return 1
	}
	return 0
}

// runTUI owns the terminal, so logs go to the configured file.
func runTUI(cfg config.Config) int {
	var out io.Writer = io.Discard
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			return 1
		}
		defer f.Close()
		out = f
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessOpts := append([]session.Option{session.WithLogger(logger)}, metricsOptions(ctx, cfg, logger)...)
	opts := app.Options{
		Session: session.New(sessOpts...),
		Dial:    dialer(cfg.Source, logger),
		Logger:  logger,
	}
	if cfg.Archive.Enabled {
		opts.ArchivePath = cfg.Archive.Path
		if opts.ArchivePath == "" {
			opts.ArchivePath = db.DefaultDBPath()
		}
	}

	logger.Info("starting dictapad", slog.String("version", version), slog.String("source", cfg.Source.Kind))
	p := tea.NewProgram(app.New(opts), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// metricsOptions starts the Prometheus endpoint when configured and returns
// the session options that record into it. Metrics failures never stop the
// program.
func metricsOptions(ctx context.Context, cfg config.Config, logger *slog.Logger) []session.Option {
	if cfg.Metrics.PrometheusBind == "" {
		return nil
	}
	m, err := telemetry.Setup(ctx, cfg.MCP.Name, version)
	if err != nil {
		logger.Warn("metrics disabled", slog.String("error", err.Error()))
		return nil
	}
	go func() {
		if err := m.Serve(ctx, cfg.Metrics.PrometheusBind, logger); err != nil {
			logger.Warn("metrics server exited", slog.String("error", err.Error()))
		}
	}()
	return []session.Option{session.WithMeterProvider(m.Provider)}
}

// dialer returns how the TUI reaches the configured recognizer, or nil when
// none is configured.
func dialer(cfg config.SourceConfig, logger *slog.Logger) app.DialFunc {
	timeout := time.Duration(cfg.ConnectTimeout) * time.Millisecond

	switch cfg.Kind {
	case config.SourceDaemon:
		socket := cfg.Socket
		if socket == "" {
			socket = daemon.SocketPath()
		}
		return func(ctx context.Context) (source.Source, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			src, err := source.DialDaemon(ctx, source.DaemonOptions{
				SocketPath: socket,
				Locale:     cfg.Locale,
				Device:     cfg.Device,
				Logger:     logger,
			})
			if err != nil {
				return nil, err
			}
			return src, nil
		}

	case config.SourceNATS:
		return func(ctx context.Context) (source.Source, error) {
			src, err := source.DialNATS(source.NATSOptions{
				Servers:        cfg.NATSServers,
				Username:       cfg.NATSUsername,
				Password:       cfg.NATSPassword,
				Token:          cfg.NATSToken,
				ConnectTimeout: timeout,
				SessionID:      cfg.NATSSession,
				Logger:         logger,
			})
			if err != nil {
				return nil, err
			}
			return src, nil
		}
	}
	return nil
}

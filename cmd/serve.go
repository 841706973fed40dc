package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"toolgate/internal/config"
	"toolgate/internal/proxy"
	"toolgate/pkg/logging"
)

var (
	serveConfigPath string
	serveDebug      bool
)

// newServeCmd creates the main command: start the proxy, connect every
// backend, and serve the aggregated tool surface.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the toolgate proxy",
		Long: `Starts the proxy: connects every configured backend, discovers their
tools, and serves the aggregated surface on the configured transport.
Backend definitions under <config>/backends/ are hot reloaded on change.

Configuration is read from --config-path, defaulting to
~/.config/toolgate.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().StringVar(&serveConfigPath, "config-path", "", "configuration directory (default ~/.config/toolgate)")
	cmd.Flags().BoolVar(&serveDebug, "debug", false, "enable debug logging")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath := serveConfigPath
	if configPath == "" {
		var err error
		configPath, err = config.DefaultConfigPath()
		if err != nil {
			return err
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logging.Init(logLevel(cfg.Proxy.LogLevel), os.Stderr)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := proxy.New(cfg)
	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("starting backends: %w", err)
	}
	defer p.Stop()

	server := proxy.NewServer(cfg.Proxy, p)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	watcher := proxy.NewWatcher(filepath.Join(configPath, "backends"), p)
	if err := watcher.Start(ctx); err != nil {
		logging.Warn("Serve", "Hot reload disabled: %v", err)
	}
	defer watcher.Stop()

	logging.Info("Serve", "toolgate is running with %d backends", len(cfg.Backends))
	<-ctx.Done()

	logging.Info("Serve", "Shutting down")
	return server.Stop(context.Background())
}

// logLevel maps the config string to a logging level, with --debug
// winning over the configuration.
func logLevel(configured string) logging.LogLevel {
	if serveDebug {
		return logging.LevelDebug
	}
	switch configured {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

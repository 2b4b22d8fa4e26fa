package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"docsearch/apps/backend/internal/app"
	"docsearch/apps/backend/internal/config"
	"docsearch/apps/backend/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:           "docsearch",
	Short:         "Semantic search over Red Hat PDF documentation",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and MCP server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func main() {
	log := logger.New(os.Stdout, slog.LevelInfo)
	slog.SetDefault(log)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return run(ctx, cfg, slog.Default())
}

// run bootstraps every dependency and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			log.Warn("failed to release dependencies", "error", err)
		}
	}()

	a, err := app.New(cfg, deps, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// withApp builds the application for one-shot commands.
func withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	defer deps.Close()

	a, err := app.New(cfg, deps, slog.Default())
	if err != nil {
		return err
	}
	return fn(a)
}

package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"toolctl/internal/aggregator"
	"toolctl/internal/orchestrator"
	"toolctl/pkg/logging"

	"github.com/spf13/cobra"
)

var (
	serveHost            string
	servePort            int
	serveRefreshInterval time.Duration
)

// serveCmd is the main command of toolctl: it launches the configured tool
// servers, keeps their catalog fresh, and exposes everything through one
// aggregated MCP endpoint.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Launch configured tool servers and serve the aggregated catalog",
	Long: `Starts the orchestrator: launches every tool server enabled in the
configuration, waits for each to become ready, polls their tool lists,
and publishes the merged catalog as a single MCP endpoint over SSE.

Servers left running by a previous session are rejoined from persisted
state instead of being launched again. The process runs until
interrupted; on shutdown it terminates every server it launched and
clears the persisted state.

Configuration is read from ~/.config/toolctl/config.yaml with
./.toolctl/config.yaml layered on top.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if serveHost != "" {
		cfg.Aggregate.Host = serveHost
	}
	if servePort != 0 {
		cfg.Aggregate.Port = servePort
	}

	orch, err := orchestrator.New(orchestrator.Options{Config: cfg})
	if err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch.Start(ctx)

	agg := aggregator.New(orch, aggregator.Options{
		Host:            cfg.Aggregate.Host,
		Port:            cfg.Aggregate.Port,
		RefreshInterval: serveRefreshInterval,
	})
	if err := agg.Start(ctx); err != nil {
		orch.Shutdown()
		return fmt.Errorf("failed to start aggregator: %w", err)
	}

	<-ctx.Done()
	logging.Info("Serve", "Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := agg.Stop(shutdownCtx); err != nil {
		logging.Error("Serve", err, "Failed to stop aggregator cleanly")
	}
	orch.Shutdown()

	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host for the aggregated endpoint (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port for the aggregated endpoint (overrides config)")
	serveCmd.Flags().DurationVar(&serveRefreshInterval, "refresh-interval", 30*time.Second, "How often to re-poll server tool lists (0 disables)")
}

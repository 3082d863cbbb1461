package cmd

import (
	"os"

	"toolctl/internal/config"
	"toolctl/pkg/logging"

	"github.com/spf13/cobra"
)

// rootDebug forces debug-level logging regardless of the configured level.
var rootDebug bool

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "toolctl",
	Short: "Launch and aggregate tool servers for AI agents",
	Long: `toolctl discovers, launches, and supervises independent tool server
processes, merges the tools they expose into one namespaced catalog,
and routes tool calls to the right server over HTTP.

'toolctl serve' runs the orchestrator and publishes the merged catalog
as a single MCP endpoint; 'toolctl tool' and 'toolctl server' inspect
and exercise the same state from the command line.`,
	// SilenceUsage is set to true to prevent printing usage message on errors
	// handled by us (e.g. invalid arguments, failed launches)
	SilenceUsage: true,
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "toolctl version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		// Cobra prints the error, we just exit non-zero
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())

	rootCmd.PersistentFlags().BoolVar(&rootDebug, "debug", false, "Enable debug logging")
}

// loadConfig loads the layered configuration and initializes logging from
// it. Every subcommand goes through here first.
func loadConfig() (config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return config.Config{}, err
	}

	level := logging.ParseLevel(cfg.LogLevel)
	if rootDebug {
		level = logging.LevelDebug
	}
	logging.Init(level, os.Stderr)

	return cfg, nil
}

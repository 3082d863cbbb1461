package cmd

import (
	"fmt"
	"text/tabwriter"

	"toolctl/internal/orchestrator"
	"toolctl/pkg/logging"

	"github.com/spf13/cobra"
)

var serverForgetAll bool

// serverCmd groups the tool server inspection commands.
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Inspect configured and running tool servers",
	Long: `Inspect the tool servers toolctl knows about: the definitions in the
configuration and the servers a running 'toolctl serve' session has
recorded in its state file.`,
}

// serverListCmd lists configured and recorded servers.
var serverListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured and recorded tool servers",
	Long: `List every tool server from the configuration alongside the servers
recorded in persisted state, with their addresses where known.`,
	Args: cobra.NoArgs,
	RunE: runServerList,
}

// serverForgetCmd drops servers from persisted state.
var serverForgetCmd = &cobra.Command{
	Use:   "forget <server-name>",
	Short: "Remove a server from persisted state",
	Long: `Remove a recorded server from the persisted state file so future
sessions stop rejoining it. toolctl cannot signal processes it did not
launch; stop the server process itself separately if it is still
running.

Use --all to clear the whole state file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServerForget,
}

func runServerList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	orch, err := orchestrator.New(orchestrator.Options{Config: cfg})
	if err != nil {
		return err
	}

	recorded := make(map[string]string)
	for _, record := range orch.Registry().All() {
		recorded[record.Name] = record.Address
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tENABLED\tSTATUS\tADDRESS")
	for _, def := range cfg.Servers {
		status := "stopped"
		address := ""
		if addr, running := recorded[def.Name]; running {
			status = "recorded"
			address = addr
			delete(recorded, def.Name)
		}
		fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", def.Name, def.Enabled, status, address)
	}
	// Recorded servers with no configuration entry.
	for _, record := range orch.Registry().All() {
		if address, left := recorded[record.Name]; left {
			fmt.Fprintf(w, "%s\t-\trecorded\t%s\n", record.Name, address)
		}
	}
	return w.Flush()
}

func runServerForget(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	orch, err := orchestrator.New(orchestrator.Options{Config: cfg})
	if err != nil {
		return err
	}

	if serverForgetAll {
		if err := orch.Registry().ResetState(); err != nil {
			return fmt.Errorf("failed to clear state: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Cleared persisted server state")
		return nil
	}

	if len(args) != 1 {
		return fmt.Errorf("provide a server name or --all")
	}
	name := args[0]

	if _, found := orch.Registry().Lookup(name); !found {
		return fmt.Errorf("no recorded server named %q", name)
	}
	orch.Registry().Remove(name)
	if err := orch.Save(); err != nil {
		return fmt.Errorf("failed to persist state: %w", err)
	}

	logging.Info("Server", "Forgot server %s", name)
	fmt.Fprintf(cmd.OutOrStdout(), "Forgot server %s\n", name)
	return nil
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.AddCommand(serverListCmd)
	serverCmd.AddCommand(serverForgetCmd)

	serverForgetCmd.Flags().BoolVar(&serverForgetAll, "all", false, "Clear the whole state file")
}

package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"toolctl/internal/agentclient"
	"toolctl/internal/orchestrator"
	"toolctl/internal/router"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	toolOutputFormat string
	toolEndpoint     string
	toolCallArgs     string
	toolCallID       string
)

// toolCmd groups the catalog commands.
var toolCmd = &cobra.Command{
	Use:   "tool",
	Short: "List and call tools from recorded servers",
	Long: `Work with the merged tool catalog of the servers recorded in persisted
state. A running 'toolctl serve' session records its servers there, so
these commands see the same catalog the aggregated endpoint serves.`,
}

// toolListCmd prints the merged catalog.
var toolListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every tool in the merged catalog",
	Long: `Poll every recorded server for its tool list and print the merged,
namespaced catalog. With -o json the catalog is printed as
function-style declarations ready to hand to a model.`,
	Args: cobra.NoArgs,
	RunE: runToolList,
}

// toolCallCmd invokes one tool by qualified name.
var toolCallCmd = &cobra.Command{
	Use:   "call <server.tool>",
	Short: "Call a tool by qualified name",
	Long: `Call one tool through the invocation router. Arguments are passed as a
JSON object with --args; the result text is printed to stdout.

Example:
  toolctl tool call files.read --args '{"path":"notes.txt"}'`,
	Args: cobra.ExactArgs(1),
	RunE: runToolCall,
}

func runToolList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if toolEndpoint != "" {
		return runToolListRemote(cmd)
	}

	orch, err := orchestrator.New(orchestrator.Options{Config: cfg})
	if err != nil {
		return err
	}

	descriptors := orch.Refresh(cmd.Context())

	if toolOutputFormat == "json" {
		out, err := json.MarshalIndent(orch.Catalog().Functions(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tDESCRIPTION")
	for _, desc := range descriptors {
		fmt.Fprintf(w, "%s\t%s\n", desc.QualifiedName, desc.Description)
	}
	return w.Flush()
}

func runToolListRemote(cmd *cobra.Command) error {
	agent := agentclient.New(toolEndpoint)
	if err := agent.Connect(cmd.Context()); err != nil {
		return err
	}
	defer agent.Close()

	tools, err := agent.ListTools(cmd.Context())
	if err != nil {
		return err
	}

	if toolOutputFormat == "json" {
		out, err := json.MarshalIndent(tools, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tDESCRIPTION")
	for _, tool := range tools {
		fmt.Fprintf(w, "%s\t%s\n", tool.Name, tool.Description)
	}
	return w.Flush()
}

func runToolCallRemote(cmd *cobra.Command, qualifiedName string) error {
	var parsedArgs map[string]interface{}
	if toolCallArgs != "" {
		if err := json.Unmarshal([]byte(toolCallArgs), &parsedArgs); err != nil {
			return fmt.Errorf("arguments must be a JSON object: %w", err)
		}
	}

	agent := agentclient.New(toolEndpoint)
	if err := agent.Connect(cmd.Context()); err != nil {
		return err
	}
	defer agent.Close()

	output, err := agent.CallToolText(cmd.Context(), qualifiedName, parsedArgs)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), output)
	return nil
}

func runToolCall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if toolEndpoint != "" {
		return runToolCallRemote(cmd, args[0])
	}

	orch, err := orchestrator.New(orchestrator.Options{Config: cfg})
	if err != nil {
		return err
	}

	// Refresh first so argument validation sees the declared schemas.
	orch.Refresh(cmd.Context())

	id := toolCallID
	if id == "" {
		id = uuid.NewString()
	}

	result := orch.Invoke(cmd.Context(), router.InvocationRequest{
		ID:            id,
		QualifiedName: args[0],
		Arguments:     toolCallArgs,
	})
	if result.Failed() {
		if result.Kind != "" {
			return fmt.Errorf("%s: %s", result.Kind, result.Failure)
		}
		return fmt.Errorf("tool failed: %s", result.Failure)
	}

	fmt.Fprintln(cmd.OutOrStdout(), result.Output)
	return nil
}

func init() {
	rootCmd.AddCommand(toolCmd)

	toolCmd.AddCommand(toolListCmd)
	toolCmd.AddCommand(toolCallCmd)

	toolCmd.PersistentFlags().StringVarP(&toolOutputFormat, "output", "o", "table", "Output format (table, json)")
	toolCmd.PersistentFlags().StringVar(&toolEndpoint, "endpoint", "", "Address of a running 'toolctl serve' session (e.g. http://localhost:8080)")
	toolCallCmd.Flags().StringVar(&toolCallArgs, "args", "", "Tool arguments as a JSON object")
	toolCallCmd.Flags().StringVar(&toolCallID, "id", "", "Invocation ID (generated when empty)")
}

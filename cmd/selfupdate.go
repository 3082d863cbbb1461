package cmd

import (
	"context"
	"fmt"
	"os"

	"toolctl/pkg/logging"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/spf13/cobra"
)

const updateRepository = "toolctl/toolctl"

func newSelfUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "self-update",
		Short: "Update toolctl to the latest released version",
		Long: `Checks for the latest release of toolctl and replaces the current
binary with it when a newer version is available.`,
		RunE: runSelfUpdate,
	}
}

func runSelfUpdate(cmd *cobra.Command, args []string) error {
	version := rootCmd.Version
	if version == "" || version == "dev" {
		return fmt.Errorf("cannot self-update a development version, please download a release build")
	}

	ctx := context.Background()
	if cmd != nil && cmd.Context() != nil {
		ctx = cmd.Context()
	}

	latest, found, err := selfupdate.DetectLatest(ctx, selfupdate.ParseSlug(updateRepository))
	if err != nil {
		return fmt.Errorf("failed to detect latest version: %w", err)
	}
	if !found {
		return fmt.Errorf("no release found for repository %s", updateRepository)
	}

	if latest.LessOrEqual(version) {
		fmt.Printf("Current version %s is the latest\n", version)
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("could not locate executable: %w", err)
	}

	logging.Info("SelfUpdate", "Updating from %s to %s", version, latest.Version())
	if err := selfupdate.UpdateTo(ctx, latest.AssetURL, latest.AssetName, exe); err != nil {
		return fmt.Errorf("failed to update binary: %w", err)
	}

	fmt.Printf("Successfully updated to version %s\n", latest.Version())
	return nil
}

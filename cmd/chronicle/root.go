package main

import (
	"fmt"

	"chronicle/internal/version"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root chronicle command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "chronicle",
		Short:         "Transcript ingestion daemon and observation store",
		Long:          "chronicle tails agent transcript files, extracts structured events through\ndeclarative schemas, and stores deduplicated observations in local SQLite.",
		Version:       fmt.Sprintf("chronicle %s", version.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.AddCommand(
		newStartCmd(),
		newRunCmd(),
		newStopCmd(),
		newStatusCmd(),
		newLogsCmd(),
		newObservationsCmd(),
		newSearchCmd(),
		newSessionsCmd(),
		newForgetCmd(),
		newIngestCmd(),
		newSchemaCmd(),
		newDashCmd(),
		newHelpCmd(cmd),
	)

	return cmd
}

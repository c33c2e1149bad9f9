package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// helpText is the categorized help output for "chronicle help".
const helpText = `chronicle: transcript ingestion daemon and observation store

Daemon:
  start         Start the ingestion daemon (background)
  stop          Stop the daemon (drains in-flight sessions)
  status        Show daemon and store status

Store:
  observations  List stored observations
  search        Full-text search over observations
  sessions      List tracked sessions
  forget        Delete observations by ID

Pipeline:
  ingest        Replay a transcript file through the pipeline
  schema        Inspect and validate transcript schemas
  logs          Query and tail the pipeline event log

Monitoring:
  dash          Launch the interactive dashboard

Use "chronicle <command> --help" for detailed usage of any command.
`

// newHelpCmd creates the "chronicle help" subcommand that displays a
// categorized overview. When called with an argument (e.g. "chronicle help
// status"), it falls through to cobra's built-in per-command help.
func newHelpCmd(root *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:   "help [command]",
		Short: "Show categorized command overview",
		Long:  "Displays a categorized overview of all chronicle subcommands.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				fmt.Fprint(cmd.OutOrStdout(), helpText)
				return nil
			}

			// Fall through to cobra's per-command help.
			target, _, err := root.Find(args)
			if err != nil || target == nil || target == root {
				return fmt.Errorf("unknown command %q", args[0])
			}
			return target.Help()
		},
	}
}

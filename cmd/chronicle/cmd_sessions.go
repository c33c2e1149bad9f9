package main

import (
	"errors"
	"fmt"
	"strings"

	"chronicle/pkg/pipeline"
	"chronicle/pkg/protocol"

	"github.com/spf13/cobra"
)

// formatSessionsTable formats a slice of sessions as a tabular string.
func formatSessionsTable(sessions []protocol.Session) string {
	if len(sessions) == 0 {
		return "No sessions found.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-38s %-16s %-8s %-8s %s\n", "SESSION", "PROJECT", "PROMPTS", "STATE", "STARTED")
	for _, s := range sessions {
		state := "active"
		if s.EndedAtEpoch > 0 {
			state = "ended"
		}
		fmt.Fprintf(&b, "%-38s %-16s %-8d %-8s %s\n",
			s.MemorySessionID, s.Project, s.PromptCounter, state, formatEpochDate(s.StartedAtEpoch))
	}
	return b.String()
}

// formatSessionDetail renders one session in full.
func formatSessionDetail(s *protocol.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "session:   %s\n", s.MemorySessionID)
	fmt.Fprintf(&b, "project:   %s\n", s.Project)
	fmt.Fprintf(&b, "cwd:       %s\n", s.Cwd)
	fmt.Fprintf(&b, "prompts:   %d\n", s.PromptCounter)
	fmt.Fprintf(&b, "started:   %s\n", formatEpochDate(s.StartedAtEpoch))
	if s.EndedAtEpoch > 0 {
		fmt.Fprintf(&b, "ended:     %s\n", formatEpochDate(s.EndedAtEpoch))
	} else {
		fmt.Fprintln(&b, "ended:     (still active)")
	}
	return b.String()
}

// newSessionsCmd creates the "chronicle sessions" subcommand.
func newSessionsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions [session-id]",
		Short: "List tracked sessions",
		Long:  "List sessions observed by the daemon, newest first.\nWith a session-id argument, prints that session in full.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return err
			}
			db, err := openReadOnlyDB(paths.DBPath)
			if err != nil {
				return fmt.Errorf("sessions: %w", err)
			}
			defer db.Close()

			if len(args) == 1 {
				s, getErr := pipeline.GetSession(cmd.Context(), db, args[0])
				if getErr != nil {
					var notFound *protocol.SessionNotFoundError
					if errors.As(getErr, &notFound) {
						return fmt.Errorf("sessions: %s not found", args[0])
					}
					return fmt.Errorf("sessions: %w", getErr)
				}
				fmt.Fprint(cmd.OutOrStdout(), formatSessionDetail(s))
				return nil
			}

			results, listErr := pipeline.ListSessions(cmd.Context(), db, limit)
			if listErr != nil {
				return fmt.Errorf("sessions: %w", listErr)
			}
			fmt.Fprint(cmd.OutOrStdout(), formatSessionsTable(results))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of sessions to return")

	return cmd
}

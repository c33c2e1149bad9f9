package main

import (
	"fmt"
	"strings"
	"time"

	"chronicle/pkg/observe"
	"chronicle/pkg/protocol"

	"github.com/spf13/cobra"
)

// truncateContent truncates s to maxLen characters, appending "..." if truncated.
func truncateContent(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// formatEpochDate renders an epoch-ms timestamp as a date.
func formatEpochDate(epochMs int64) string {
	if epochMs == 0 {
		return ""
	}
	return time.UnixMilli(epochMs).Format("2006-01-02")
}

// formatObservationsTable formats a slice of observations as a tabular string.
func formatObservationsTable(obs []protocol.Observation) string {
	if len(obs) == 0 {
		return "No observations found.\n"
	}

	const maxTitle = 60

	var b strings.Builder
	fmt.Fprintf(&b, "%-6s %-12s %-16s %-62s %s\n", "ID", "TYPE", "PROJECT", "TITLE", "CREATED")
	for _, o := range obs {
		title := truncateContent(strings.ReplaceAll(o.Title, "\n", " "), maxTitle)
		fmt.Fprintf(&b, "%-6d %-12s %-16s %-62s %s\n",
			o.ID, o.Type, o.Project, title, formatEpochDate(o.CreatedAtEpoch))
	}
	return b.String()
}

// formatObservationDetail renders one observation in full.
func formatObservationDetail(o *protocol.Observation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "id:        %d\n", o.ID)
	fmt.Fprintf(&b, "session:   %s\n", o.MemorySessionID)
	fmt.Fprintf(&b, "project:   %s\n", o.Project)
	fmt.Fprintf(&b, "type:      %s\n", o.Type)
	fmt.Fprintf(&b, "title:     %s\n", o.Title)
	if o.Subtitle != "" {
		fmt.Fprintf(&b, "subtitle:  %s\n", o.Subtitle)
	}
	if o.PromptNumber > 0 {
		fmt.Fprintf(&b, "prompt:    %d\n", o.PromptNumber)
	}
	fmt.Fprintf(&b, "created:   %s\n", formatEpochDate(o.CreatedAtEpoch))
	if o.Narrative != "" {
		fmt.Fprintf(&b, "\n%s\n", o.Narrative)
	}
	writeJSONList(&b, "facts", o.Facts)
	writeJSONList(&b, "concepts", o.Concepts)
	writeJSONList(&b, "files read", o.FilesRead)
	writeJSONList(&b, "files modified", o.FilesModified)
	return b.String()
}

// writeJSONList renders a stored JSON array column as an indented list.
func writeJSONList(b *strings.Builder, label, raw string) {
	items := observe.ListFromJSON(raw)
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", label)
	for _, item := range items {
		fmt.Fprintf(b, "  - %s\n", item)
	}
}

// newObservationsCmd creates the "chronicle observations" subcommand.
func newObservationsCmd() *cobra.Command {
	var (
		sessionID  string
		project    string
		typeFilter string
		limit      int
		showID     int64
	)

	cmd := &cobra.Command{
		Use:   "observations",
		Short: "List stored observations",
		Long:  "List observations from the store with optional filtering by session,\nproject, and type. Use --id to print a single observation in full.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return err
			}
			db, err := openReadOnlyDB(paths.DBPath)
			if err != nil {
				return fmt.Errorf("observations: %w", err)
			}
			defer db.Close()

			store := observe.NewStore(db)

			if showID > 0 {
				obs, getErr := store.Get(cmd.Context(), showID)
				if getErr != nil {
					return fmt.Errorf("observations: %w", getErr)
				}
				if obs == nil {
					return fmt.Errorf("observations: id %d not found", showID)
				}
				fmt.Fprint(cmd.OutOrStdout(), formatObservationDetail(obs))
				return nil
			}

			results, listErr := store.List(cmd.Context(), observe.ListOpts{
				SessionID: sessionID,
				Project:   project,
				Type:      typeFilter,
				Limit:     limit,
			})
			if listErr != nil {
				return fmt.Errorf("observations: %w", listErr)
			}
			fmt.Fprint(cmd.OutOrStdout(), formatObservationsTable(results))
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "filter by session id")
	cmd.Flags().StringVar(&project, "project", "", "filter by project")
	cmd.Flags().StringVar(&typeFilter, "type", "", "filter by observation type (exchange|file_edit|observation)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of observations to return")
	cmd.Flags().Int64Var(&showID, "id", 0, "print a single observation in full")

	return cmd
}

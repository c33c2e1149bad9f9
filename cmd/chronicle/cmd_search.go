package main

import (
	"fmt"
	"strings"

	"chronicle/pkg/observe"

	"github.com/spf13/cobra"
)

// formatSearchResults formats scored search hits for CLI output.
func formatSearchResults(results []observe.ScoredObservation) string {
	if len(results) == 0 {
		return "No observations found.\n"
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, r.Type, r.Title)
		if r.Narrative != "" {
			fmt.Fprintf(&b, "   %s\n", truncateContent(strings.ReplaceAll(r.Narrative, "\n", " "), 120))
		}
		fmt.Fprintf(&b, "   project: %s | score: %.4f | session: %s | created: %s\n",
			r.Project, r.Score, r.MemorySessionID, formatEpochDate(r.CreatedAtEpoch))
	}
	return b.String()
}

// newSearchCmd creates the "chronicle search" subcommand.
func newSearchCmd() *cobra.Command {
	var (
		project string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over observations",
		Long:  "Search titles, narratives, facts and concepts with SQLite FTS5.\nResults are ranked by BM25 relevance.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			paths, err := ResolvePaths()
			if err != nil {
				return err
			}
			db, err := openReadOnlyDB(paths.DBPath)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer db.Close()

			store := observe.NewStore(db)
			results, searchErr := store.Search(cmd.Context(), query, observe.SearchOpts{
				Project: project,
				Limit:   limit,
			})
			if searchErr != nil {
				return fmt.Errorf("search: %w", searchErr)
			}

			fmt.Fprint(cmd.OutOrStdout(), formatSearchResults(results))
			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "restrict search to a project")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of results")

	return cmd
}

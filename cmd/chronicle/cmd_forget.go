package main

import (
	"errors"
	"fmt"
	"strconv"

	"chronicle/pkg/observe"
	"chronicle/pkg/protocol"

	"github.com/spf13/cobra"
)

// newForgetCmd creates the "chronicle forget" subcommand.
func newForgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget <id> [id...]",
		Short: "Delete one or more observations by ID",
		Long:  "Remove observations from the store by their numeric IDs.\nPrints confirmation for each deleted observation. Returns an error for nonexistent IDs.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return err
			}
			db, err := openExistingDB(paths.DBPath)
			if err != nil {
				return fmt.Errorf("forget: %w", err)
			}
			defer db.Close()

			store := observe.NewStore(db)
			for _, arg := range args {
				id, parseErr := strconv.ParseInt(arg, 10, 64)
				if parseErr != nil {
					return fmt.Errorf("forget: invalid id %q: %w", arg, parseErr)
				}
				if delErr := store.Delete(cmd.Context(), id); delErr != nil {
					var notFound *protocol.ObservationNotFoundError
					if errors.As(delErr, &notFound) {
						return fmt.Errorf("forget: id %d not found", id)
					}
					return fmt.Errorf("forget: %w", delErr)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Forgot observation %d\n", id)
			}
			return nil
		},
	}
}

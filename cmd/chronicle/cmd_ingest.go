package main

import (
	"errors"
	"fmt"
	"time"

	"chronicle/pkg/pipeline"
	"chronicle/pkg/protocol"
	"chronicle/pkg/transcript"

	"github.com/spf13/cobra"
)

// ingestIdleTimeout replaces the daemon's consumer idle timeout during
// offline replay so consumers exit shortly after their queues drain.
const ingestIdleTimeout = 2 * time.Second

// ingestDrainTimeout bounds how long ingest waits for consumers to finish.
const ingestDrainTimeout = 60 * time.Second

// newIngestCmd creates the "chronicle ingest" subcommand.
func newIngestCmd() *cobra.Command {
	var schemaName string

	cmd := &cobra.Command{
		Use:   "ingest <transcript-file>",
		Short: "Replay a transcript file through the pipeline",
		Long:  "Reads an existing transcript file line by line and routes extracted\nevents through the same pipeline the daemon runs, offline. The dedup\ngate makes re-ingesting a file already seen by the daemon harmless.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			paths, err := ResolvePaths()
			if err != nil {
				return err
			}
			if err := bootstrapChronicleDir(paths); err != nil {
				return err
			}

			schemas, err := loadSchemas(paths.SchemasDir)
			if err != nil {
				return err
			}

			db, err := openDB(paths.DBPath)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer db.Close()
			if _, err := db.ExecContext(cmd.Context(), protocol.SchemaDDL); err != nil {
				return fmt.Errorf("ingest: apply schema: %w", err)
			}

			svc, err := pipeline.New(pipeline.Config{
				DBPath:         paths.DBPath,
				WatchStatePath: paths.WatchStatePath,
				Watch:          &transcript.WatchConfig{Schemas: schemas},
				IdleTimeout:    ingestIdleTimeout,
			}, db)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			routed, err := svc.ReplayFile(cmd.Context(), path, schemaName)
			if err != nil {
				var notFound *protocol.SchemaNotFoundError
				if errors.As(err, &notFound) {
					return fmt.Errorf("ingest: unknown schema %q (try \"chronicle schema list\")", notFound.Schema)
				}
				return fmt.Errorf("ingest: %w", err)
			}

			// Consumers drain asynchronously; wait for them to finish.
			deadline := time.Now().Add(ingestDrainTimeout)
			for time.Now().Before(deadline) && svc.ActiveSessions() > 0 {
				time.Sleep(50 * time.Millisecond)
			}
			if n := svc.ActiveSessions(); n > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "warning: %d session consumer(s) still draining\n", n)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d events from %s\n", routed, path)
			return nil
		},
	}

	cmd.Flags().StringVar(&schemaName, "schema", transcript.BuiltinSchemaName, "schema to parse the transcript with")

	return cmd
}

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"chronicle/pkg/eventlog"

	"github.com/spf13/cobra"
)

// logsConfig holds flag values for the logs command.
type logsConfig struct {
	tail   int
	follow bool
	source string
	evType string
}

// newLogsCmd creates the "chronicle logs" subcommand.
func newLogsCmd() *cobra.Command {
	var cfg logsConfig

	cmd := &cobra.Command{
		Use:   "logs [session-id]",
		Short: "Query and tail the pipeline event log",
		Long:  "Displays events from the daemon's durable event log.\nOptionally filter by session-id and follow new events.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sessionID string
			if len(args) == 1 {
				sessionID = args[0]
			}

			paths, err := ResolvePaths()
			if err != nil {
				return err
			}

			reader, err := eventlog.NewReader(paths.DBPath)
			if err != nil {
				return fmt.Errorf("open event log: %w", err)
			}
			defer reader.Close()

			w := cmd.OutOrStdout()
			if cfg.follow {
				return followLogs(cmd.Context(), reader, w, cfg, sessionID)
			}
			return printLogs(cmd.Context(), reader, w, cfg, sessionID)
		},
	}

	cmd.Flags().IntVar(&cfg.tail, "tail", 20, "number of recent events to show")
	cmd.Flags().BoolVarP(&cfg.follow, "follow", "f", false, "poll for new events every 1s")
	cmd.Flags().StringVar(&cfg.source, "source", "", "filter by emitting component")
	cmd.Flags().StringVar(&cfg.evType, "type", "", "filter by event type")

	return cmd
}

// logQueryOpts builds reader options from flags plus a watermark.
func logQueryOpts(cfg logsConfig, sessionID string, limit int, afterID int64) eventlog.QueryOpts {
	return eventlog.QueryOpts{
		Type:      cfg.evType,
		Source:    cfg.source,
		SessionID: sessionID,
		AfterID:   afterID,
		Limit:     limit,
	}
}

// printLogs displays the last N matching events, oldest first.
func printLogs(ctx context.Context, reader *eventlog.Reader, w io.Writer, cfg logsConfig, sessionID string) error {
	events, err := reader.Query(ctx, logQueryOpts(cfg, sessionID, cfg.tail, 0))
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(w, "no events found")
		return nil
	}

	// Query returns newest first.
	for i := len(events) - 1; i >= 0; i-- {
		formatEvent(w, &events[i])
	}
	return nil
}

// followLogs prints the initial tail and then polls for new events every
// second until the context is cancelled.
func followLogs(ctx context.Context, reader *eventlog.Reader, w io.Writer, cfg logsConfig, sessionID string) error {
	events, err := reader.Query(ctx, logQueryOpts(cfg, sessionID, cfg.tail, 0))
	if err != nil {
		return err
	}

	var lastID int64
	for i := len(events) - 1; i >= 0; i-- {
		formatEvent(w, &events[i])
	}
	if len(events) > 0 {
		lastID = events[0].ID
	}

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// No watermark until the first event exists; re-run the tail
			// query rather than flooding with the whole backlog.
			if lastID == 0 {
				initial, err := reader.Query(ctx, logQueryOpts(cfg, sessionID, cfg.tail, 0))
				if err != nil {
					return err
				}
				for i := len(initial) - 1; i >= 0; i-- {
					formatEvent(w, &initial[i])
				}
				if len(initial) > 0 {
					lastID = initial[0].ID
				}
				continue
			}

			newEvents, err := reader.Query(ctx, logQueryOpts(cfg, sessionID, 100, lastID))
			if err != nil {
				return err
			}
			for i := range newEvents {
				formatEvent(w, &newEvents[i])
				lastID = newEvents[i].ID
			}
		}
	}
}

// formatEvent writes a single event as one pipe-separated line.
func formatEvent(w io.Writer, e *eventlog.Event) {
	ts := e.CreatedAt.Format("2006-01-02 15:04:05")
	fmt.Fprintf(w, "%s | %-10s | %-22s | %-36s | %s\n", ts, e.Source, e.Type, e.SessionID, e.Payload)
}

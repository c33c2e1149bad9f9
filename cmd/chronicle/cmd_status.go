package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"chronicle/pkg/observe"
	"chronicle/pkg/pipeline"
	"chronicle/pkg/protocol"

	"github.com/spf13/cobra"
)

// statusSocketTimeout bounds how long "chronicle status" waits on the
// control socket before falling back to offline reporting.
const statusSocketTimeout = 2 * time.Second

// newStatusCmd creates the "chronicle status" subcommand.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and store status",
		Long:  "Queries the live daemon over its control socket. Falls back to the PID\nfile and a database summary when the daemon is unreachable.",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), statusSocketTimeout)
			defer cancel()

			if st, err := pipeline.RequestStatus(ctx, paths.SocketPath); err == nil {
				printLiveStatus(cmd, st)
				return nil
			}

			return printOfflineStatus(cmd, paths)
		},
	}
}

// printLiveStatus renders the snapshot returned by the daemon.
func printLiveStatus(cmd *cobra.Command, st *protocol.PipelineStatus) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "daemon:        running (PID %d, %s)\n", st.PID, st.Version)
	fmt.Fprintf(w, "uptime:        %s\n", time.Duration(st.UptimeSeconds)*time.Second)
	if len(st.Tailing) > 0 {
		fmt.Fprintf(w, "tailing:       %s\n", strings.Join(st.Tailing, ", "))
	} else {
		fmt.Fprintln(w, "tailing:       (no transcript files yet)")
	}
	fmt.Fprintf(w, "sessions:      %d (%d active)\n", st.Sessions, st.ActiveSessions)
	fmt.Fprintf(w, "queue depth:   %d\n", st.QueueDepth)
	fmt.Fprintf(w, "observations:  %d\n", st.Observations)
}

// printOfflineStatus reports daemon liveness from the PID file and store
// counts from the database when one exists.
func printOfflineStatus(cmd *cobra.Command, paths *Paths) error {
	w := cmd.OutOrStdout()

	status, pid, err := DaemonStatus(paths.PIDPath)
	if err != nil {
		return err
	}
	switch status {
	case StatusRunning:
		fmt.Fprintf(w, "daemon:        running (PID %d) but socket unreachable\n", pid)
	case StatusStale:
		fmt.Fprintf(w, "daemon:        stale PID file (PID %d is dead)\n", pid)
	case StatusStopped:
		fmt.Fprintln(w, "daemon:        stopped")
	}

	db, err := openReadOnlyDB(paths.DBPath)
	if err != nil {
		fmt.Fprintln(w, "store:         (no database yet)")
		return nil //nolint:nilerr // a missing store is a reportable state, not a failure
	}
	defer db.Close()

	ctx := cmd.Context()
	var sessions, pending int
	_ = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&sessions)
	_ = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_messages`).Scan(&pending)
	fmt.Fprintf(w, "sessions:      %d\n", sessions)
	fmt.Fprintf(w, "queue depth:   %d\n", pending)

	counts, err := observe.NewStore(db).CountsByProject(ctx)
	if err != nil {
		return err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	fmt.Fprintf(w, "observations:  %d\n", total)

	projects := make([]string, 0, len(counts))
	for p := range counts {
		projects = append(projects, p)
	}
	sort.Strings(projects)
	for _, p := range projects {
		fmt.Fprintf(w, "  %-12s %d\n", p, counts[p])
	}
	return nil
}

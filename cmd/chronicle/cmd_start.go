package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"
)

// DaemonSpawner abstracts spawning the daemon subprocess for testability.
type DaemonSpawner interface {
	SpawnDaemon() (pid int, err error)
}

// ExecDaemonSpawner spawns a real child process running `chronicle run`.
type ExecDaemonSpawner struct{}

// SpawnDaemon forks a child process running the current binary with "run".
func (e *ExecDaemonSpawner) SpawnDaemon() (int, error) {
	child := exec.CommandContext(context.Background(), os.Args[0], "run") //nolint:gosec // intentionally re-executing self
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	if err := child.Start(); err != nil {
		return 0, fmt.Errorf("spawn daemon: %w", err)
	}
	return child.Process.Pid, nil
}

// socketPollTimeout is the maximum time to wait for the daemon socket.
const socketPollTimeout = 5 * time.Second

// socketPollInterval is how often to check for the socket file.
const socketPollInterval = 50 * time.Millisecond

// newStartCmd creates the "chronicle start" subcommand.
func newStartCmd() *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the transcript ingestion daemon",
		Long:  "Spawns the chronicle daemon in the background and waits for its control\nsocket to come up. Use --foreground to run the daemon in this process.",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return err
			}
			if err := bootstrapChronicleDir(paths); err != nil {
				return err
			}

			// Check if already running.
			status, pid, err := DaemonStatus(paths.PIDPath)
			if err != nil {
				return err
			}

			switch status {
			case StatusRunning:
				fmt.Fprintf(cmd.OutOrStdout(), "daemon already running (PID %d)\n", pid)
				return nil
			case StatusStale:
				// Clean up stale PID file before starting fresh.
				_ = RemovePIDFile(paths.PIDPath)
			case StatusStopped:
				// Good to go.
			}

			if foreground {
				return runDaemon(cmd, paths)
			}
			return runStart(cmd.OutOrStdout(), paths, &ExecDaemonSpawner{}, socketPollTimeout)
		},
	}

	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "run the daemon in this process instead of spawning")

	return cmd
}

// runStart spawns the daemon subprocess and waits for its control socket
// before reporting success.
func runStart(w io.Writer, paths *Paths, spawner DaemonSpawner, socketTimeout time.Duration) error {
	pid, err := spawner.SpawnDaemon()
	if err != nil {
		return err
	}

	deadline := time.Now().Add(socketTimeout)
	for time.Now().Before(deadline) {
		if _, statErr := os.Stat(paths.SocketPath); statErr == nil {
			break
		}
		time.Sleep(socketPollInterval)
	}
	if _, err := os.Stat(paths.SocketPath); err != nil {
		return fmt.Errorf("daemon socket not ready at %s: %w", paths.SocketPath, err)
	}

	fmt.Fprintf(w, "chronicle daemon started (PID %d)\n", pid)
	return nil
}

// bootstrapChronicleDir creates the chronicle state directory and its
// schemas subdirectory with 0700 permissions. Idempotent.
func bootstrapChronicleDir(paths *Paths) error {
	if err := os.MkdirAll(paths.Home, 0o700); err != nil {
		return fmt.Errorf("create chronicle dir %s: %w", paths.Home, err)
	}
	if err := os.MkdirAll(paths.SchemasDir, 0o700); err != nil {
		return fmt.Errorf("create schemas dir %s: %w", paths.SchemasDir, err)
	}
	return nil
}

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// newStopCmd creates the "chronicle stop" subcommand.
func newStopCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the transcript ingestion daemon",
		Long:  "Sends SIGTERM to the daemon identified by the PID file.\nThe daemon drains in-flight sessions before exiting.",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return err
			}

			status, pid, err := DaemonStatus(paths.PIDPath)
			if err != nil {
				return err
			}

			switch status {
			case StatusStopped:
				fmt.Fprintln(cmd.OutOrStdout(), "daemon is not running")
				return nil
			case StatusStale:
				fmt.Fprintln(cmd.OutOrStdout(), "removing stale PID file (process already dead)")
				return RemovePIDFile(paths.PIDPath)
			case StatusRunning:
				if !force && !confirmStop(cmd, pid) {
					fmt.Fprintln(cmd.OutOrStdout(), "aborted")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sending SIGTERM to daemon (PID %d)\n", pid)
				if err := StopDaemon(paths.PIDPath); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "stop signal sent")
				return nil
			}

			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip the confirmation prompt")

	return cmd
}

// confirmStop asks for confirmation when stdin is a terminal. Non-TTY
// callers (scripts, tests) proceed without prompting.
func confirmStop(cmd *cobra.Command, pid int) bool {
	stdin, ok := cmd.InOrStdin().(*os.File)
	if !ok || !isatty.IsTerminal(stdin.Fd()) {
		return true
	}

	fmt.Fprintf(cmd.OutOrStdout(), "stop daemon (PID %d)? [y/N] ", pid)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

package main

import (
	"fmt"
	"os"

	"chronicle/internal/logging"

	"github.com/spf13/cobra"
)

// newRunCmd creates the hidden "chronicle run" subcommand: the foreground
// daemon entry that "chronicle start" re-executes.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "run",
		Short:  "Run the daemon in the foreground",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return err
			}
			if err := bootstrapChronicleDir(paths); err != nil {
				return err
			}
			return runDaemon(cmd, paths)
		},
	}
}

// runDaemon runs the pipeline service in the foreground until SIGTERM or
// SIGINT. It owns the PID file for the lifetime of the process.
func runDaemon(cmd *cobra.Command, paths *Paths) error {
	cfg, err := loadConfig(paths.ConfigPath)
	if err != nil {
		return err
	}

	// CHRONICLE_LOG_LEVEL is applied by the logging root; the config file
	// level fills in only when the env var is unset.
	if cfg.LogLevel != "" && os.Getenv("CHRONICLE_LOG_LEVEL") == "" {
		logging.SetLevel(cfg.LogLevel)
	}
	if err := logging.EnableFileSink(paths.LogPath); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "log sink unavailable: %v\n", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "starting daemon (PID %d)\n", os.Getpid())
	if err := WritePIDFile(paths.PIDPath, os.Getpid()); err != nil {
		return err
	}

	shutdownCtx, cleanup := SetupSignalHandler(cmd.Context(), paths.PIDPath)
	defer cleanup()

	svc, db, err := buildPipeline(paths, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := svc.Run(shutdownCtx); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "daemon stopped")
	return nil
}

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"chronicle/pkg/protocol"
)

// Paths holds all resolved chronicle state file paths.
// Use ResolvePaths() to populate this struct with defaults + env overrides.
type Paths struct {
	Home           string // ~/.chronicle or CHRONICLE_HOME
	DBPath         string // chronicle.db or CHRONICLE_DB_PATH
	PIDPath        string // chronicle.pid or CHRONICLE_PID_PATH
	SocketPath     string // chronicle.sock or CHRONICLE_SOCKET_PATH
	WatchStatePath string // watch_state.json or CHRONICLE_WATCH_STATE
	ConfigPath     string // config.toml (respects CHRONICLE_HOME)
	SchemasDir     string // schemas/ (respects CHRONICLE_HOME)
	LogPath        string // chronicle.log (respects CHRONICLE_HOME)
}

// ResolvePaths returns all chronicle paths, respecting env var overrides.
// Environment variables:
//   - CHRONICLE_HOME: base directory for all chronicle state (default: ~/.chronicle)
//   - CHRONICLE_DB_PATH: pipeline database (default: $CHRONICLE_HOME/chronicle.db)
//   - CHRONICLE_PID_PATH: daemon PID file (default: $CHRONICLE_HOME/chronicle.pid)
//   - CHRONICLE_SOCKET_PATH: daemon control socket (default: $CHRONICLE_HOME/chronicle.sock)
//   - CHRONICLE_WATCH_STATE: persisted tail offsets (default: $CHRONICLE_HOME/watch_state.json)
//
// If CHRONICLE_HOME is set, it becomes the base for all default paths.
// Specific env vars (CHRONICLE_DB_PATH, etc.) override both the default and
// the CHRONICLE_HOME base.
func ResolvePaths() (*Paths, error) {
	home, err := resolveChronicleHome()
	if err != nil {
		return nil, err
	}

	paths := &Paths{
		Home:           home,
		DBPath:         resolvePathWithEnv("CHRONICLE_DB_PATH", home, protocol.DBFile),
		PIDPath:        resolvePathWithEnv("CHRONICLE_PID_PATH", home, protocol.PIDFile),
		SocketPath:     resolvePathWithEnv("CHRONICLE_SOCKET_PATH", home, protocol.SocketFile),
		WatchStatePath: resolvePathWithEnv("CHRONICLE_WATCH_STATE", home, protocol.WatchStateFile),
		ConfigPath:     filepath.Join(home, protocol.ConfigFile),
		SchemasDir:     filepath.Join(home, protocol.SchemasDir),
		LogPath:        filepath.Join(home, protocol.LogFile),
	}

	return paths, nil
}

// resolveChronicleHome returns the state directory from CHRONICLE_HOME or
// ~/.chronicle.
func resolveChronicleHome() (string, error) {
	if v := os.Getenv("CHRONICLE_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, protocol.ChronicleDir), nil
}

// resolvePathWithEnv returns the path from envKey if set, otherwise joins
// base + suffix.
func resolvePathWithEnv(envKey, base, suffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return filepath.Join(base, suffix)
}

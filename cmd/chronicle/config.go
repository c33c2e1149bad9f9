package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"chronicle/internal/logging"
	"chronicle/pkg/pipeline"
	"chronicle/pkg/transcript"
)

var log = logging.NewLogger("cli")

// fileConfig mirrors ~/.chronicle/config.toml.
type fileConfig struct {
	LogLevel string                   `toml:"log_level,omitempty"`
	Daemon   daemonConfig             `toml:"daemon,omitempty"`
	Watch    []transcript.WatchTarget `toml:"watch,omitempty"`
}

// daemonConfig holds the pipeline service tunables. Zero values fall back
// to the pipeline defaults.
type daemonConfig struct {
	IdleTimeoutSeconds     int `toml:"idle_timeout_seconds,omitempty"`
	StaleAfterSeconds      int `toml:"stale_after_seconds,omitempty"`
	ShutdownTimeoutSeconds int `toml:"shutdown_timeout_seconds,omitempty"`
}

// loadConfig reads the TOML config file. A missing file is not an error:
// the returned config watches the Claude Code transcript tree with the
// builtin schema.
func loadConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path) //nolint:gosec // config path is under the state dir
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultFileConfig(), nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg fileConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if len(cfg.Watch) == 0 {
		cfg.Watch = defaultWatchTargets()
	}
	for i := range cfg.Watch {
		cfg.Watch[i].Path = expandHome(cfg.Watch[i].Path)
	}
	return &cfg, nil
}

func defaultFileConfig() *fileConfig {
	return &fileConfig{Watch: defaultWatchTargets()}
}

// defaultWatchTargets returns the out-of-the-box target: the Claude Code
// transcript tree, parsed with the builtin schema.
func defaultWatchTargets() []transcript.WatchTarget {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []transcript.WatchTarget{{
		Name:   "claude-projects",
		Path:   filepath.Join(home, ".claude", "projects"),
		Schema: transcript.BuiltinSchemaName,
	}}
}

// expandHome replaces a leading "~" with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// loadSchemas merges the builtin schemas with operator schema files from
// dir. Invalid files are skipped with a warning; operator schemas override
// builtins with the same name.
func loadSchemas(dir string) (map[string]*transcript.Schema, error) {
	schemas, err := transcript.BuiltinSchemas()
	if err != nil {
		return nil, fmt.Errorf("builtin schemas: %w", err)
	}

	loaded, problems := transcript.LoadSchemaDir(dir)
	for _, p := range problems {
		log.WithError(p).Warn("skipping schema file")
	}
	for name, s := range loaded {
		schemas[name] = s
	}
	return schemas, nil
}

// buildPipeline constructs the daemon Service with all production
// dependencies. The caller owns the returned *sql.DB and must close it.
func buildPipeline(paths *Paths, cfg *fileConfig) (*pipeline.Service, *sql.DB, error) {
	schemas, err := loadSchemas(paths.SchemasDir)
	if err != nil {
		return nil, nil, err
	}

	db, err := openDB(paths.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open pipeline db: %w", err)
	}

	svc, err := pipeline.New(pipeline.Config{
		DBPath:          paths.DBPath,
		SocketPath:      paths.SocketPath,
		WatchStatePath:  paths.WatchStatePath,
		Watch:           &transcript.WatchConfig{Schemas: schemas, Targets: cfg.Watch},
		IdleTimeout:     time.Duration(cfg.Daemon.IdleTimeoutSeconds) * time.Second,
		StaleAfter:      time.Duration(cfg.Daemon.StaleAfterSeconds) * time.Second,
		ShutdownTimeout: time.Duration(cfg.Daemon.ShutdownTimeoutSeconds) * time.Second,
	}, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return svc, db, nil
}

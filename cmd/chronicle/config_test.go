package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chronicle/pkg/transcript"
)

func TestLoadConfig_MissingFile(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if len(cfg.Watch) != 1 {
		t.Fatalf("expected one default watch target, got %d", len(cfg.Watch))
	}
	target := cfg.Watch[0]
	if target.Name != "claude-projects" {
		t.Errorf("target name = %q, want claude-projects", target.Name)
	}
	if target.Schema != transcript.BuiltinSchemaName {
		t.Errorf("target schema = %q, want %q", target.Schema, transcript.BuiltinSchemaName)
	}
	if !strings.HasSuffix(target.Path, filepath.Join(".claude", "projects")) {
		t.Errorf("target path = %q, want the Claude Code projects dir", target.Path)
	}
}

func TestLoadConfig_ParsesTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	doc := `
log_level = "debug"

[daemon]
idle_timeout_seconds = 60
stale_after_seconds = 120
shutdown_timeout_seconds = 5

[[watch]]
name = "agent-logs"
path = "/var/log/agent"
schema = "claude-code"
start_at_end = true

[[watch]]
name = "scratch"
path = "~/scratch/transcripts"
schema = "custom"
project = "scratch"
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q, want debug", cfg.LogLevel)
	}
	if cfg.Daemon.IdleTimeoutSeconds != 60 || cfg.Daemon.StaleAfterSeconds != 120 || cfg.Daemon.ShutdownTimeoutSeconds != 5 {
		t.Errorf("daemon tunables = %+v, want 60/120/5", cfg.Daemon)
	}
	if len(cfg.Watch) != 2 {
		t.Fatalf("expected 2 watch targets, got %d", len(cfg.Watch))
	}
	if cfg.Watch[0].Name != "agent-logs" || cfg.Watch[0].Path != "/var/log/agent" || !cfg.Watch[0].StartAtEnd {
		t.Errorf("first target = %+v", cfg.Watch[0])
	}
	// Tilde paths are expanded on load.
	if strings.HasPrefix(cfg.Watch[1].Path, "~") {
		t.Errorf("expected ~ expansion, got %q", cfg.Watch[1].Path)
	}
	if !strings.HasSuffix(cfg.Watch[1].Path, filepath.Join("scratch", "transcripts")) {
		t.Errorf("second target path = %q", cfg.Watch[1].Path)
	}
	if cfg.Watch[1].Project != "scratch" {
		t.Errorf("second target project = %q, want scratch", cfg.Watch[1].Project)
	}
}

func TestLoadConfig_BadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("log_level = [unclosed"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := loadConfig(path); err == nil {
		t.Fatal("expected error for malformed TOML")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("get home dir: %v", err)
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"tilde slash", "~/transcripts", filepath.Join(home, "transcripts")},
		{"bare tilde", "~", home},
		{"absolute untouched", "/var/log/agent", "/var/log/agent"},
		{"embedded tilde untouched", "/data/~backup", "/data/~backup"},
		{"tilde user untouched", "~other/x", "~other/x"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := expandHome(tc.in); got != tc.want {
				t.Errorf("expandHome(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestLoadSchemas_BuiltinOnly(t *testing.T) {
	schemas, err := loadSchemas(filepath.Join(t.TempDir(), "schemas"))
	if err != nil {
		t.Fatalf("loadSchemas: %v", err)
	}

	if _, ok := schemas[transcript.BuiltinSchemaName]; !ok {
		t.Errorf("expected builtin schema %q present", transcript.BuiltinSchemaName)
	}
}

func TestLoadSchemas_MergesDirAndSkipsInvalid(t *testing.T) {
	dir := t.TempDir()
	valid := `
name: minimal
events:
  - name: everything
    action: observation
`
	if err := os.WriteFile(filepath.Join(dir, "minimal.yaml"), []byte(valid), 0o600); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: broken\n"), 0o600); err != nil {
		t.Fatalf("write schema: %v", err)
	}

	schemas, err := loadSchemas(dir)
	if err != nil {
		t.Fatalf("loadSchemas: %v", err)
	}

	if _, ok := schemas["minimal"]; !ok {
		t.Error("expected operator schema loaded from dir")
	}
	if _, ok := schemas["broken"]; ok {
		t.Error("expected invalid schema file skipped")
	}
	if _, ok := schemas[transcript.BuiltinSchemaName]; !ok {
		t.Error("expected builtin schema still present")
	}
}

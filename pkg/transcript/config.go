package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultRescanIntervalMs is how often a watch target re-resolves its file
// set when no interval is configured.
const DefaultRescanIntervalMs = 5000

// ContextConfig shapes the session-start context built from a target's
// stored observations.
type ContextConfig struct {
	MaxObservations int `toml:"max_observations" yaml:"max_observations"`
	MaxAgeDays      int `toml:"max_age_days" yaml:"max_age_days"`
}

// WatchTarget identifies one thing to watch. Path may be a literal file, a
// directory (recursively globbed for *.jsonl), or a glob pattern. Targets
// are immutable once loaded.
type WatchTarget struct {
	Name             string         `toml:"name"`
	Path             string         `toml:"path"`
	Schema           string         `toml:"schema"`
	Workspace        string         `toml:"workspace,omitempty"`
	Project          string         `toml:"project,omitempty"`
	Context          *ContextConfig `toml:"context,omitempty"`
	RescanIntervalMs int            `toml:"rescan_interval_ms,omitempty"`
	StartAtEnd       bool           `toml:"start_at_end,omitempty"`
}

// WithDefaults returns a copy of t with zero values replaced by defaults.
func (t WatchTarget) WithDefaults() WatchTarget {
	if t.RescanIntervalMs <= 0 {
		t.RescanIntervalMs = DefaultRescanIntervalMs
	}
	if t.Name == "" {
		t.Name = t.Path
	}
	return t
}

// WatchConfig is the resolved configuration document the watcher consumes:
// named schemas plus the targets that reference them. Loaded once at
// startup; reconfiguration requires a restart.
type WatchConfig struct {
	Schemas map[string]*Schema
	Targets []WatchTarget
}

// ResolveSchema looks up a target's schema by name. The boolean is false
// when the schema is missing, which callers treat as a non-fatal warning
// and skip the target.
func (c *WatchConfig) ResolveSchema(target WatchTarget) (*Schema, bool) {
	if c.Schemas == nil {
		return nil, false
	}
	s, ok := c.Schemas[target.Schema]
	return s, ok
}

// ParseSchema decodes, validates, and compiles a single YAML schema
// document.
func ParseSchema(data []byte) (*Schema, error) {
	if err := ValidateSchemaDoc(data); err != nil {
		return nil, err
	}
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	if err := s.Compile(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadSchemaFile reads and parses one schema file.
func LoadSchemaFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied schema path
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	s, err := ParseSchema(data)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", path, err)
	}
	return s, nil
}

// LoadSchemaDir loads every *.yaml and *.yml file in dir into a schema map
// keyed by schema name. Invalid files are reported in the returned problem
// list and skipped; a missing directory yields an empty map. Later files
// override earlier ones with the same schema name.
func LoadSchemaDir(dir string) (map[string]*Schema, []error) {
	schemas := make(map[string]*Schema)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return schemas, nil
		}
		return schemas, []error{fmt.Errorf("read schema dir %s: %w", dir, err)}
	}

	var problems []error
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		s, err := LoadSchemaFile(filepath.Join(dir, name))
		if err != nil {
			problems = append(problems, err)
			continue
		}
		schemas[s.Name] = s
	}
	return schemas, problems
}

// Package transcript defines the declarative schema model for agent
// transcript lines and the extractor that matches and projects parsed JSON
// lines into typed events.
package transcript

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Action tags an extracted event with one of the fixed kinds the pipeline
// routes on. The set is closed: schemas declaring anything else fail to
// compile.
type Action string

// The fixed event kinds.
const (
	ActionSessionInit      Action = "session_init"
	ActionSessionContext   Action = "session_context"
	ActionUserMessage      Action = "user_message"
	ActionAssistantMessage Action = "assistant_message"
	ActionToolUse          Action = "tool_use"
	ActionToolResult       Action = "tool_result"
	ActionObservation      Action = "observation"
	ActionFileEdit         Action = "file_edit"
	ActionSessionEnd       Action = "session_end"
)

// Valid reports whether a is one of the fixed event kinds.
func (a Action) Valid() bool {
	switch a {
	case ActionSessionInit, ActionSessionContext, ActionUserMessage,
		ActionAssistantMessage, ActionToolUse, ActionToolResult,
		ActionObservation, ActionFileEdit, ActionSessionEnd:
		return true
	}
	return false
}

// Schema declares how to interpret lines from transcript files assigned to
// it. Events are evaluated in declared order; the first match wins.
type Schema struct {
	Name          string        `yaml:"name"`
	Version       string        `yaml:"version,omitempty"`
	EventTypePath string        `yaml:"event_type_path,omitempty"`
	SessionIDPath string        `yaml:"session_id_path,omitempty"`
	CwdPath       string        `yaml:"cwd_path,omitempty"`
	ProjectPath   string        `yaml:"project_path,omitempty"`
	Events        []SchemaEvent `yaml:"events"`
}

// SchemaEvent pairs a match rule with an action and a field projection.
// A nil Match matches every line.
type SchemaEvent struct {
	Name   string               `yaml:"name"`
	Match  *MatchRule           `yaml:"match,omitempty"`
	Action Action               `yaml:"action"`
	Fields map[string]FieldSpec `yaml:"fields,omitempty"`
}

// MatchRule is a predicate over a parsed JSON line. Path selects the value
// under test (the whole line when empty); every present constraint must hold.
type MatchRule struct {
	Path     string
	Equals   any
	In       []any
	Contains any
	Exists   *bool
	Regex    string

	equalsSet   bool
	containsSet bool
	compiled    *regexp.Regexp
}

// UnmarshalYAML decodes a match rule from a mapping node, tracking which
// constraints are present so explicit nulls stay distinguishable from
// absent keys.
func (m *MatchRule) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("match: expected mapping, got %s", nodeKind(node))
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]
		switch key {
		case "path":
			if err := val.Decode(&m.Path); err != nil {
				return fmt.Errorf("match.path: %w", err)
			}
		case "equals":
			if err := val.Decode(&m.Equals); err != nil {
				return fmt.Errorf("match.equals: %w", err)
			}
			m.equalsSet = true
		case "in":
			if err := val.Decode(&m.In); err != nil {
				return fmt.Errorf("match.in: %w", err)
			}
		case "contains":
			if err := val.Decode(&m.Contains); err != nil {
				return fmt.Errorf("match.contains: %w", err)
			}
			m.containsSet = true
		case "exists":
			var b bool
			if err := val.Decode(&b); err != nil {
				return fmt.Errorf("match.exists: %w", err)
			}
			m.Exists = &b
		case "regex":
			if err := val.Decode(&m.Regex); err != nil {
				return fmt.Errorf("match.regex: %w", err)
			}
		default:
			return fmt.Errorf("match: unknown constraint %q", key)
		}
	}
	return nil
}

// FieldSpec resolves one projected field. A bare string in the schema is
// shorthand for {path}. Resolution order: literal value, then path, then
// coalesce entries left to right, then default; otherwise the field is
// omitted.
type FieldSpec struct {
	Path     string
	Value    any
	Coalesce []FieldSpec
	Default  any

	valueSet   bool
	defaultSet bool
}

// UnmarshalYAML accepts either the bare-string shorthand or the full mapping
// form, tracking value/default presence so explicit nulls resolve.
func (f *FieldSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&f.Path)
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("field: expected string or mapping, got %s", nodeKind(node))
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]
		switch key {
		case "path":
			if err := val.Decode(&f.Path); err != nil {
				return fmt.Errorf("field.path: %w", err)
			}
		case "value":
			if err := val.Decode(&f.Value); err != nil {
				return fmt.Errorf("field.value: %w", err)
			}
			f.valueSet = true
		case "coalesce":
			if err := val.Decode(&f.Coalesce); err != nil {
				return fmt.Errorf("field.coalesce: %w", err)
			}
		case "default":
			if err := val.Decode(&f.Default); err != nil {
				return fmt.Errorf("field.default: %w", err)
			}
			f.defaultSet = true
		default:
			return fmt.Errorf("field: unknown key %q", key)
		}
	}
	return nil
}

// Compile validates actions and compiles every regex constraint once.
// Loaded schemas are compiled before use so per-line matching never pays
// for regexp.Compile.
func (s *Schema) Compile() error {
	if s.Name == "" {
		return fmt.Errorf("schema: missing name")
	}
	for i := range s.Events {
		ev := &s.Events[i]
		if !ev.Action.Valid() {
			return fmt.Errorf("schema %s: event %q has unknown action %q", s.Name, ev.Name, ev.Action)
		}
		if ev.Match == nil || ev.Match.Regex == "" {
			continue
		}
		re, err := regexp.Compile(ev.Match.Regex)
		if err != nil {
			return fmt.Errorf("schema %s: event %q regex: %w", s.Name, ev.Name, err)
		}
		ev.Match.compiled = re
	}
	return nil
}

func nodeKind(n *yaml.Node) string {
	switch n.Kind {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}

package transcript

import (
	"regexp"
	"strings"
)

// Event is the typed result of extracting one transcript line. Fields holds
// the projected payload; the envelope values come from the schema-level
// paths. SessionID may later be overridden by file-path identity, which is
// considered more reliable than in-content fields.
type Event struct {
	Schema    string
	Name      string
	Action    Action
	EventType string
	SessionID string
	Cwd       string
	Project   string
	Fields    map[string]any
}

// Match reports whether a parsed line satisfies a schema event's rule.
// A nil rule matches unconditionally. All present constraints must hold;
// evaluation short-circuits on the first failure.
func Match(rule *MatchRule, line any) bool {
	if rule == nil {
		return true
	}

	val, found := GetPath(line, rule.Path)

	if rule.Exists != nil && *rule.Exists != found {
		return false
	}
	if (rule.equalsSet || rule.Equals != nil) && (!found || !ValueEquals(val, rule.Equals)) {
		return false
	}
	if len(rule.In) > 0 {
		if !found {
			return false
		}
		member := false
		for _, candidate := range rule.In {
			if ValueEquals(val, candidate) {
				member = true
				break
			}
		}
		if !member {
			return false
		}
	}
	if rule.containsSet || rule.Contains != nil {
		if !found || !strings.Contains(Stringify(val), Stringify(rule.Contains)) {
			return false
		}
	}
	if rule.Regex != "" {
		if !found {
			return false
		}
		re := rule.compiled
		if re == nil {
			// Hand-built rules that skipped Compile pay the compile here.
			var err error
			re, err = regexp.Compile(rule.Regex)
			if err != nil {
				return false
			}
		}
		if !re.MatchString(Stringify(val)) {
			return false
		}
	}
	return true
}

// Resolve evaluates one field spec against a parsed line. The second return
// is false when nothing resolved and the field should be omitted.
func Resolve(spec FieldSpec, line any) (any, bool) {
	if spec.valueSet || spec.Value != nil {
		return spec.Value, true
	}
	if spec.Path != "" {
		if v, found := GetPath(line, spec.Path); found {
			return v, true
		}
	}
	for _, alt := range spec.Coalesce {
		if v, ok := Resolve(alt, line); ok {
			return v, true
		}
	}
	if spec.defaultSet || spec.Default != nil {
		return spec.Default, true
	}
	return nil, false
}

// Project resolves every configured field independently. Unresolved fields
// are absent from the result, never an error.
func Project(fields map[string]FieldSpec, line any) map[string]any {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]any, len(fields))
	for name, spec := range fields {
		if v, ok := Resolve(spec, line); ok {
			out[name] = v
		}
	}
	return out
}

// Extract applies a schema to a parsed line. The first schema event in
// declared order that matches wins; a line matching none returns ok=false,
// which callers treat as a silent drop.
func Extract(s *Schema, line any) (ev Event, ok bool) {
	for i := range s.Events {
		se := &s.Events[i]
		if !Match(se.Match, line) {
			continue
		}
		ev = Event{
			Schema: s.Name,
			Name:   se.Name,
			Action: se.Action,
			Fields: Project(se.Fields, line),
		}
		if s.EventTypePath != "" {
			if v, found := GetPath(line, s.EventTypePath); found {
				ev.EventType = Stringify(v)
			}
		}
		if s.SessionIDPath != "" {
			if v, found := GetPath(line, s.SessionIDPath); found {
				ev.SessionID = Stringify(v)
			}
		}
		if s.CwdPath != "" {
			if v, found := GetPath(line, s.CwdPath); found {
				ev.Cwd = Stringify(v)
			}
		}
		if s.ProjectPath != "" {
			if v, found := GetPath(line, s.ProjectPath); found {
				ev.Project = Stringify(v)
			}
		}
		return ev, true
	}
	return Event{}, false
}

// Binary chronicle-hook is an agent SessionStart hook that injects recent
// project observations as session context, so a fresh session starts with
// what previous sessions learned about the codebase.
//
// Protocol: reads JSON from stdin, writes JSON to stdout.
//   - Nothing to inject (no database, no observations, any error): {}
//   - Context: {"hookSpecificOutput":{"hookEventName":"SessionStart","additionalContext":"..."}}
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chronicle/pkg/observe"
	"chronicle/pkg/protocol"

	_ "modernc.org/sqlite"
)

// hookInput represents the JSON payload the agent sends on stdin when a
// session starts.
type hookInput struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	Cwd            string `json:"cwd"`
	HookEventName  string `json:"hook_event_name"`
	Source         string `json:"source"`
}

// hookOutput is the JSON shape for injecting context into the new session.
type hookOutput struct {
	HookSpecificOutput hookSpecificOutput `json:"hookSpecificOutput"`
}

type hookSpecificOutput struct {
	HookEventName     string `json:"hookEventName"`
	AdditionalContext string `json:"additionalContext"`
}

// emptyJSON is the pre-encoded no-op response (empty JSON object).
var emptyJSON = []byte("{}")

// contextObservationLimit caps how many observations one session inherits.
const contextObservationLimit = 10

// contextMaxAgeDays bounds how far back injected context reaches.
const contextMaxAgeDays = 30

// HandleHook processes a SessionStart hook event and returns the JSON
// response. This is the core logic, extracted from main() for testability.
//
// Design: fail-open. Every error path returns emptyJSON so the hook never
// blocks a session from starting. A broken hook should degrade to a session
// without inherited context, not prevent the session.
func HandleHook(input []byte) []byte {
	var hook hookInput
	if err := json.Unmarshal(input, &hook); err != nil {
		return emptyJSON
	}

	// Only SessionStart events carry context.
	if hook.HookEventName != "SessionStart" {
		return emptyJSON
	}

	// The project label is the working directory basename, matching how the
	// pipeline labels observations when the transcript carries no project.
	if hook.Cwd == "" {
		return emptyJSON
	}
	project := filepath.Base(hook.Cwd)

	db, err := openReadOnly(defaultDBPath())
	if err != nil {
		// No pipeline database yet: nothing to inject.
		return emptyJSON
	}
	defer db.Close() //nolint:errcheck // best-effort close on read-only query path

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	obs, err := observe.NewStore(db).List(ctx, observe.ListOpts{
		Project:    project,
		MaxAgeDays: contextMaxAgeDays,
		Limit:      contextObservationLimit,
	})
	if err != nil || len(obs) == 0 {
		return emptyJSON
	}

	out, err := json.Marshal(hookOutput{
		HookSpecificOutput: hookSpecificOutput{
			HookEventName:     "SessionStart",
			AdditionalContext: buildContext(project, obs),
		},
	})
	if err != nil {
		return emptyJSON
	}

	return out
}

// buildContext formats observations as a compact context block, newest first.
func buildContext(project string, obs []protocol.Observation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Recent observations from earlier sessions in %s:\n", project)

	now := time.Now()
	for _, o := range obs {
		fmt.Fprintf(&b, "\n- [%s] %s (%s)", o.Type, o.Title, formatAge(o.CreatedAtEpoch, now))
		if s := snippet(o.Narrative); s != "" {
			fmt.Fprintf(&b, "\n  %s", s)
		}
	}

	return b.String()
}

// snippet truncates a narrative to one compact line.
func snippet(s string) string {
	const maxLen = 240
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// formatAge renders an epoch-ms timestamp as a coarse age.
func formatAge(epochMs int64, now time.Time) string {
	d := now.Sub(time.UnixMilli(epochMs))
	switch {
	case d < time.Hour:
		return "today"
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// openReadOnly opens the pipeline database read-only with WAL so the hook
// never contends with the daemon's writes.
func openReadOnly(dbPath string) (*sql.DB, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open pipeline db %s: %w", dbPath, err)
	}

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping pipeline db %s: %w", dbPath, err)
	}

	return db, nil
}

// defaultDBPath returns the pipeline database path from env or default.
func defaultDBPath() string {
	if v := os.Getenv("CHRONICLE_DB_PATH"); v != "" {
		return v
	}
	base := os.Getenv("CHRONICLE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		base = filepath.Join(home, protocol.ChronicleDir)
	}
	return filepath.Join(base, protocol.DBFile)
}

func main() {
	input, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chronicle-hook: failed to read stdin: %v\n", err)
		// On stdin read error, output the no-op so the session starts.
		writeOut(emptyJSON)
		return
	}

	writeOut(HandleHook(input))
}

// writeOut writes data to stdout, logging any write error to stderr.
func writeOut(data []byte) {
	if _, err := os.Stdout.Write(data); err != nil {
		fmt.Fprintf(os.Stderr, "chronicle-hook: stdout write error: %v\n", err)
	}
}

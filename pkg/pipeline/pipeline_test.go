package pipeline //nolint:testpackage // internal white-box tests need access to unexported fields

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"chronicle/pkg/protocol"
	"chronicle/pkg/transcript"
	"chronicle/pkg/watcher"

	_ "modernc.org/sqlite"
)

// newTestDB opens a file-backed SQLite database with the schema applied.
// A single pooled connection mirrors the daemon's serialized writes.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "pipeline.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		t.Fatalf("set WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		t.Fatalf("set busy_timeout: %v", err)
	}
	if _, err := db.Exec(protocol.SchemaDDL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return db
}

// newTestService builds a Service over db with the builtin schemas, no
// watch targets, and no control socket.
func newTestService(t *testing.T, db *sql.DB) *Service {
	t.Helper()

	schemas, err := transcript.BuiltinSchemas()
	if err != nil {
		t.Fatalf("builtin schemas: %v", err)
	}
	s, err := New(Config{
		WatchStatePath: filepath.Join(t.TempDir(), "watch-state.json"),
		Watch:          &transcript.WatchConfig{Schemas: schemas},
	}, db)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return s
}

// waitFor polls condition until it returns true or the timeout elapses.
func waitFor(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// testCtx returns a context cancelled at test cleanup, so consumers spawned
// during routing unwind with the test.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

var testTarget = transcript.WatchTarget{
	Name:   "claude-projects",
	Path:   "/tmp/transcripts",
	Schema: transcript.BuiltinSchemaName,
}

// routeEvent pushes one synthetic extracted event through the router.
func routeEvent(ctx context.Context, s *Service, ev transcript.Event) {
	s.route(ctx, watcher.Event{Event: ev, Target: testTarget.WithDefaults(), Path: "/tmp/transcripts/t.jsonl"})
}

func countRows(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count query %q: %v", query, err)
	}
	return n
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	if _, err := New(Config{}, db); err == nil {
		t.Error("expected error for missing watch config")
	}
	if _, err := New(Config{Watch: &transcript.WatchConfig{}}, nil); err == nil {
		t.Error("expected error for missing database")
	}
}

func TestRouteCreatesSessionOnce(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	s := newTestService(t, db)
	ctx := testCtx(t)

	init := transcript.Event{
		Action:    transcript.ActionSessionInit,
		Name:      "session-start",
		SessionID: "sess-init",
		Cwd:       "/home/dev/webapp",
		Fields:    map[string]any{"model": "claude-sonnet-4-5"},
	}
	routeEvent(ctx, s, init)
	routeEvent(ctx, s, init)

	if got := countRows(t, db, `SELECT COUNT(*) FROM sessions WHERE memory_session_id = ?`, "sess-init"); got != 1 {
		t.Fatalf("session rows = %d, want 1", got)
	}

	var project, cwd string
	var counter int
	err := db.QueryRow(
		`SELECT project, cwd, prompt_counter FROM sessions WHERE memory_session_id = ?`,
		"sess-init",
	).Scan(&project, &cwd, &counter)
	if err != nil {
		t.Fatalf("read session: %v", err)
	}
	if project != "webapp" {
		t.Errorf("project = %q, want %q", project, "webapp")
	}
	if cwd != "/home/dev/webapp" {
		t.Errorf("cwd = %q", cwd)
	}
	if counter != 0 {
		t.Errorf("prompt_counter = %d before any prompt, want 0", counter)
	}

	// Exactly one session_started event despite the repeated init.
	if got := countRows(t, db, `SELECT COUNT(*) FROM events WHERE type = 'session_started'`); got != 1 {
		t.Errorf("session_started events = %d, want 1", got)
	}
}

func TestRouteContextRefreshUpdatesCwd(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	s := newTestService(t, db)
	ctx := testCtx(t)

	routeEvent(ctx, s, transcript.Event{
		Action:    transcript.ActionSessionInit,
		SessionID: "sess-ctx",
		Cwd:       "/home/dev/alpha",
	})
	routeEvent(ctx, s, transcript.Event{
		Action:    transcript.ActionSessionContext,
		SessionID: "sess-ctx",
		Cwd:       "/home/dev/beta",
	})
	// A context line with no cwd must not blank the stored one.
	routeEvent(ctx, s, transcript.Event{
		Action:    transcript.ActionSessionContext,
		SessionID: "sess-ctx",
		Fields:    map[string]any{"summary": "continued from earlier"},
	})

	var cwd string
	if err := db.QueryRow(
		`SELECT cwd FROM sessions WHERE memory_session_id = ?`, "sess-ctx",
	).Scan(&cwd); err != nil {
		t.Fatalf("read session: %v", err)
	}
	if cwd != "/home/dev/beta" {
		t.Errorf("cwd = %q, want %q", cwd, "/home/dev/beta")
	}
}

// TestRouteExchangeDerivation drives a full prompt/answer turn through the
// queue and checks the derived observation: prompt excerpt as title, answer
// as narrative, file touches folded in, token count carried over.
func TestRouteExchangeDerivation(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	s := newTestService(t, db)
	ctx := testCtx(t)

	const sid = "sess-exchange"
	routeEvent(ctx, s, transcript.Event{
		Action:    transcript.ActionUserMessage,
		SessionID: sid,
		Cwd:       "/home/dev/webapp",
		Fields:    map[string]any{"text": "Fix the tailer race on rotation\nIt loses lines."},
	})
	routeEvent(ctx, s, transcript.Event{
		Action:    transcript.ActionToolUse,
		SessionID: sid,
		Fields: map[string]any{
			"tool":  "Read",
			"input": map[string]any{"file_path": "/home/dev/webapp/tailer.go"},
		},
	})
	routeEvent(ctx, s, transcript.Event{
		Action:    transcript.ActionFileEdit,
		SessionID: sid,
		Fields:    map[string]any{"file_path": "/home/dev/webapp/tailer.go", "tool": "Edit"},
	})
	routeEvent(ctx, s, transcript.Event{
		Action:    transcript.ActionAssistantMessage,
		SessionID: sid,
		Fields: map[string]any{
			"text":          "Guarded the rotation check with the tailer mutex.",
			"output_tokens": float64(220),
		},
	})

	waitFor(t, func() bool {
		return countRows(t, db, `SELECT COUNT(*) FROM observations WHERE type = 'exchange'`) == 1
	}, 2*time.Second)

	var title, narrative, filesRead, filesModified string
	var promptNumber sql.NullInt64
	var tokens int
	err := db.QueryRow(
		`SELECT title, narrative, files_read, files_modified, prompt_number, discovery_tokens
		 FROM observations WHERE type = 'exchange'`,
	).Scan(&title, &narrative, &filesRead, &filesModified, &promptNumber, &tokens)
	if err != nil {
		t.Fatalf("read exchange observation: %v", err)
	}
	if title != "Fix the tailer race on rotation" {
		t.Errorf("title = %q, want the first prompt line", title)
	}
	if narrative != "Guarded the rotation check with the tailer mutex." {
		t.Errorf("narrative = %q", narrative)
	}
	if !promptNumber.Valid || promptNumber.Int64 != 1 {
		t.Errorf("prompt_number = %+v, want 1", promptNumber)
	}
	if tokens != 220 {
		t.Errorf("discovery_tokens = %d, want 220", tokens)
	}

	var read, modified []string
	if err := json.Unmarshal([]byte(filesRead), &read); err != nil {
		t.Fatalf("files_read json: %v", err)
	}
	if err := json.Unmarshal([]byte(filesModified), &modified); err != nil {
		t.Fatalf("files_modified json: %v", err)
	}
	if len(read) != 1 || read[0] != "/home/dev/webapp/tailer.go" {
		t.Errorf("files_read = %v", read)
	}
	if len(modified) != 1 || modified[0] != "/home/dev/webapp/tailer.go" {
		t.Errorf("files_modified = %v", modified)
	}

	// The edit also went straight through the gate as its own observation.
	if got := countRows(t, db, `SELECT COUNT(*) FROM observations WHERE type = 'file_edit'`); got != 1 {
		t.Errorf("file_edit observations = %d, want 1", got)
	}

	// Everything the consumer claimed was confirmed away.
	waitFor(t, func() bool {
		return countRows(t, db, `SELECT COUNT(*) FROM pending_messages`) == 0
	}, 2*time.Second)
}

func TestRouteSessionEndStopsConsumer(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	s := newTestService(t, db)
	ctx := testCtx(t)

	const sid = "sess-end"
	routeEvent(ctx, s, transcript.Event{
		Action:    transcript.ActionUserMessage,
		SessionID: sid,
		Fields:    map[string]any{"text": "wrap it up"},
	})
	routeEvent(ctx, s, transcript.Event{
		Action:    transcript.ActionSessionEnd,
		SessionID: sid,
	})

	waitFor(t, func() bool {
		return countRows(t, db,
			`SELECT COUNT(*) FROM sessions WHERE memory_session_id = ? AND ended_at_epoch IS NOT NULL`,
			sid) == 1
	}, 2*time.Second)
	waitFor(t, func() bool { return s.ActiveSessions() == 0 }, 2*time.Second)

	if got := countRows(t, db, `SELECT COUNT(*) FROM events WHERE type = 'session_ended'`); got != 1 {
		t.Errorf("session_ended events = %d, want 1", got)
	}

	var first int64
	if err := db.QueryRow(
		`SELECT ended_at_epoch FROM sessions WHERE memory_session_id = ?`, sid,
	).Scan(&first); err != nil {
		t.Fatalf("read ended_at: %v", err)
	}

	// A replayed session_end spawns a fresh consumer but cannot move the
	// recorded end time.
	routeEvent(ctx, s, transcript.Event{
		Action:    transcript.ActionSessionEnd,
		SessionID: sid,
	})
	waitFor(t, func() bool { return s.ActiveSessions() == 0 }, 2*time.Second)

	var second int64
	if err := db.QueryRow(
		`SELECT ended_at_epoch FROM sessions WHERE memory_session_id = ?`, sid,
	).Scan(&second); err != nil {
		t.Fatalf("re-read ended_at: %v", err)
	}
	if first != second {
		t.Errorf("ended_at moved from %d to %d on replay", first, second)
	}
}

// TestRouteObservationBypassesQueue checks the direct path: observation
// events hit the store synchronously, start no consumer, and dedup on
// replay.
func TestRouteObservationBypassesQueue(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	s := newTestService(t, db)
	ctx := testCtx(t)

	obsEvent := func(epoch int64) transcript.Event {
		return transcript.Event{
			Action:    transcript.ActionObservation,
			SessionID: "sess-obs",
			Cwd:       "/home/dev/webapp",
			Fields: map[string]any{
				"type":            "decision",
				"title":           "Use WAL mode",
				"narrative":       "Readers must not block the writer.",
				"facts":           []any{"WAL enabled", "busy_timeout 5s"},
				"timestamp_epoch": float64(epoch),
			},
		}
	}
	routeEvent(ctx, s, obsEvent(1_700_000_001_000))

	if got := countRows(t, db, `SELECT COUNT(*) FROM observations`); got != 1 {
		t.Fatalf("observations = %d immediately after route, want 1", got)
	}
	if got := s.ActiveSessions(); got != 0 {
		t.Errorf("active sessions = %d, want 0 for the direct path", got)
	}
	if got := countRows(t, db, `SELECT COUNT(*) FROM pending_messages`); got != 0 {
		t.Errorf("pending_messages = %d, want 0", got)
	}

	var typ, title, facts string
	err := db.QueryRow(`SELECT type, title, facts FROM observations`).Scan(&typ, &title, &facts)
	if err != nil {
		t.Fatalf("read observation: %v", err)
	}
	if typ != "decision" || title != "Use WAL mode" {
		t.Errorf("stored type=%q title=%q", typ, title)
	}
	var gotFacts []string
	if err := json.Unmarshal([]byte(facts), &gotFacts); err != nil {
		t.Fatalf("facts json: %v", err)
	}
	if len(gotFacts) != 2 || gotFacts[0] != "WAL enabled" {
		t.Errorf("facts = %v", gotFacts)
	}

	// The same content replayed inside the dedup window is absorbed.
	routeEvent(ctx, s, obsEvent(1_700_000_002_000))
	if got := countRows(t, db, `SELECT COUNT(*) FROM observations`); got != 1 {
		t.Errorf("observations = %d after replay, want 1", got)
	}
}

func TestSessionIdentitySynthesis(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	s := newTestService(t, db)

	withID := watcher.Event{
		Event: transcript.Event{SessionID: "explicit"},
		Path:  "/tmp/a.jsonl",
	}
	if got := s.sessionIdentity(withID); got != "explicit" {
		t.Errorf("sessionIdentity = %q, want the event's own id", got)
	}

	anonA := watcher.Event{Path: "/tmp/a.jsonl"}
	anonB := watcher.Event{Path: "/tmp/b.jsonl"}
	first := s.sessionIdentity(anonA)
	if first == "" {
		t.Fatal("expected a synthesized id")
	}
	if again := s.sessionIdentity(anonA); again != first {
		t.Errorf("same path synthesized %q then %q", first, again)
	}
	if other := s.sessionIdentity(anonB); other == first {
		t.Error("distinct paths shared a synthesized id")
	}
}

func TestProjectName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		ev   watcher.Event
		want string
	}{
		{
			"extracted project wins",
			watcher.Event{
				Event:  transcript.Event{Project: "from-line", Cwd: "/x/cwdproj"},
				Target: transcript.WatchTarget{Project: "from-target"},
			},
			"from-line",
		},
		{
			"target project next",
			watcher.Event{
				Event:  transcript.Event{Cwd: "/x/cwdproj"},
				Target: transcript.WatchTarget{Project: "from-target"},
			},
			"from-target",
		},
		{
			"cwd basename fallback",
			watcher.Event{Event: transcript.Event{Cwd: "/home/dev/webapp"}},
			"webapp",
		},
		{"nothing known", watcher.Event{}, ""},
	}
	for _, tc := range cases {
		if got := projectName(tc.ev); got != tc.want {
			t.Errorf("%s: projectName = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestDrained(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	s := newTestService(t, db)
	ctx := context.Background()

	ok, err := s.Drained(ctx)
	if err != nil {
		t.Fatalf("drained: %v", err)
	}
	if !ok {
		t.Error("fresh pipeline not drained")
	}

	res, err := db.Exec(
		`INSERT INTO sessions (memory_session_id, started_at_epoch) VALUES ('sess-drain', 1)`)
	if err != nil {
		t.Fatalf("insert session: %v", err)
	}
	sid, _ := res.LastInsertId()
	if _, err := db.Exec(
		`INSERT INTO pending_messages (session_db_id, created_at_epoch, payload) VALUES (?, 1, '{}')`,
		sid); err != nil {
		t.Fatalf("insert pending: %v", err)
	}

	ok, err = s.Drained(ctx)
	if err != nil {
		t.Fatalf("drained: %v", err)
	}
	if ok {
		t.Error("drained with a pending item")
	}
}

package pipeline //nolint:testpackage // internal white-box tests need access to unexported fields

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chronicle/pkg/protocol"
	"chronicle/pkg/transcript"
)

func TestReplayFileUnknownSchema(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	s := newTestService(t, db)

	_, err := s.ReplayFile(context.Background(), "/tmp/whatever.jsonl", "no-such-schema")
	var snf *protocol.SchemaNotFoundError
	if !errors.As(err, &snf) {
		t.Fatalf("error = %v, want SchemaNotFoundError", err)
	}
	if snf.Schema != "no-such-schema" {
		t.Errorf("schema = %q", snf.Schema)
	}
}

func TestReplayFileMissing(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	s := newTestService(t, db)

	_, err := s.ReplayFile(context.Background(), filepath.Join(t.TempDir(), "gone.jsonl"), transcript.BuiltinSchemaName)
	if err == nil || !strings.Contains(err.Error(), "open transcript") {
		t.Fatalf("error = %v, want open failure", err)
	}
}

func TestReplayFileCancelled(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	s := newTestService(t, db)

	path := filepath.Join(t.TempDir(), "c.jsonl")
	if err := os.WriteFile(path, []byte(`{"type":"user"}`+"\n"), 0o600); err != nil {
		t.Fatalf("write transcript: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	routed, err := s.ReplayFile(ctx, path, transcript.BuiltinSchemaName)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if routed != 0 {
		t.Errorf("routed = %d after upfront cancel", routed)
	}
}

// TestReplayFileEndToEnd replays a realistic transcript and checks the full
// chain: path identity wins over in-content session ids, the exchange is
// derived with its file touches, the edit lands as its own observation, and
// the stop line closes out the session.
func TestReplayFileEndToEnd(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	s := newTestService(t, db)

	const pathID = "3f2d8c1a-4b6e-4f0a-9c3d-1e5a7b9d2f40"
	lines := []string{
		`{"type":"system","subtype":"init","sessionId":"in-content","cwd":"/home/dev/webapp","model":"claude-sonnet-4-5","permissionMode":"default"}`,
		`{"type":"summary","summary":"Picked the retry strategy","leafUuid":"l-1"}`,
		`{"type":"user","sessionId":"in-content","cwd":"/home/dev/webapp","uuid":"u-1","timestamp":"2026-02-10T12:00:00Z","message":{"content":[{"type":"text","text":"Add retry to the fetcher"}]}}`,
		`{"type":"assistant","uuid":"u-2","message":{"content":[{"type":"tool_use","name":"Read","input":{"file_path":"/home/dev/webapp/fetch.go"}}]}}`,
		`{"type":"assistant","uuid":"u-3","message":{"content":[{"type":"tool_use","name":"Edit","input":{"file_path":"/home/dev/webapp/fetch.go"}}]}}`,
		`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"u-3","content":[{"type":"text","text":"ok"}]}]}}`,
		`{"type":"assistant","uuid":"u-4","message":{"model":"claude-sonnet-4-5","usage":{"output_tokens":180},"content":[{"type":"text","text":"Added exponential backoff with three attempts."}]}}`,
		`this line is not JSON`,
		`{"type":"system","subtype":"stop","sessionId":"in-content"}`,
	}
	path := filepath.Join(t.TempDir(), pathID+".jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatalf("write transcript: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	routed, err := s.ReplayFile(ctx, path, transcript.BuiltinSchemaName)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if routed != 8 {
		t.Errorf("routed = %d, want 8 (garbage line skipped)", routed)
	}

	waitFor(t, func() bool { return s.ActiveSessions() == 0 }, 2*time.Second)
	waitFor(t, func() bool {
		return countRows(t, db, `SELECT COUNT(*) FROM pending_messages`) == 0
	}, 2*time.Second)

	// Path identity: the UUID in the filename names the session, not the
	// sessionId fields inside the lines.
	if got := countRows(t, db, `SELECT COUNT(*) FROM sessions WHERE memory_session_id = ?`, pathID); got != 1 {
		t.Fatalf("sessions under path id = %d, want 1", got)
	}
	if got := countRows(t, db, `SELECT COUNT(*) FROM sessions WHERE memory_session_id = 'in-content'`); got != 0 {
		t.Errorf("sessions under in-content id = %d, want 0", got)
	}

	var project string
	var ended sql.NullInt64
	err = db.QueryRow(
		`SELECT project, ended_at_epoch FROM sessions WHERE memory_session_id = ?`, pathID,
	).Scan(&project, &ended)
	if err != nil {
		t.Fatalf("read session: %v", err)
	}
	if project != "webapp" {
		t.Errorf("project = %q, want webapp", project)
	}
	if !ended.Valid {
		t.Error("ended_at_epoch unset after stop line")
	}

	if got := countRows(t, db, `SELECT COUNT(*) FROM observations`); got != 2 {
		t.Fatalf("observations = %d, want exchange + file_edit", got)
	}

	var title, narrative, filesRead, filesModified, obsSession string
	var tokens int
	err = db.QueryRow(
		`SELECT memory_session_id, title, narrative, files_read, files_modified, discovery_tokens
		 FROM observations WHERE type = 'exchange'`,
	).Scan(&obsSession, &title, &narrative, &filesRead, &filesModified, &tokens)
	if err != nil {
		t.Fatalf("read exchange: %v", err)
	}
	if obsSession != pathID {
		t.Errorf("observation session = %q, want %q", obsSession, pathID)
	}
	if title != "Add retry to the fetcher" {
		t.Errorf("title = %q", title)
	}
	if narrative != "Added exponential backoff with three attempts." {
		t.Errorf("narrative = %q", narrative)
	}
	if tokens != 180 {
		t.Errorf("discovery_tokens = %d, want 180", tokens)
	}
	var read, modified []string
	if err := json.Unmarshal([]byte(filesRead), &read); err != nil {
		t.Fatalf("files_read json: %v", err)
	}
	if err := json.Unmarshal([]byte(filesModified), &modified); err != nil {
		t.Fatalf("files_modified json: %v", err)
	}
	if len(read) != 1 || read[0] != "/home/dev/webapp/fetch.go" {
		t.Errorf("files_read = %v", read)
	}
	if len(modified) != 1 || modified[0] != "/home/dev/webapp/fetch.go" {
		t.Errorf("files_modified = %v", modified)
	}

	var editTitle string
	err = db.QueryRow(`SELECT title FROM observations WHERE type = 'file_edit'`).Scan(&editTitle)
	if err != nil {
		t.Fatalf("read file_edit: %v", err)
	}
	if editTitle != "/home/dev/webapp/fetch.go" {
		t.Errorf("file_edit title = %q", editTitle)
	}
}

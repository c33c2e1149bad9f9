package main

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"chronicle/pkg/observe"
	"chronicle/pkg/protocol"

	_ "modernc.org/sqlite"
)

// newSeededDB creates a file-backed pipeline database the datasource
// functions can open by path.
func newSeededDB(t *testing.T) (string, *sql.DB) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "chronicle.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Exec(protocol.SchemaDDL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return dbPath, db
}

func seedSession(t *testing.T, db *sql.DB, sessionID, project string, startedAt int64) {
	t.Helper()
	_, err := db.Exec(
		"INSERT INTO sessions (memory_session_id, project, started_at_epoch) VALUES (?, ?, ?)",
		sessionID, project, startedAt)
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func seedObservation(t *testing.T, db *sql.DB, sessionID, title, narrative string, ts int64) {
	t.Helper()
	store := observe.NewStore(db)
	_, err := store.Store(context.Background(), sessionID, "webapp", observe.Payload{
		Type:      "discovery",
		Title:     title,
		Narrative: narrative,
	}, observe.StoreOptions{OverrideTimestamp: ts})
	if err != nil {
		t.Fatalf("seed observation: %v", err)
	}
}

func TestFetchSessionsNewestFirst(t *testing.T) {
	t.Parallel()

	dbPath, db := newSeededDB(t)
	seedSession(t, db, "sess-old", "webapp", 1_000)
	seedSession(t, db, "sess-new", "webapp", 2_000)

	sessions, err := fetchSessions(dbPath, 10)
	if err != nil {
		t.Fatalf("fetchSessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	if sessions[0].MemorySessionID != "sess-new" {
		t.Errorf("first session = %q, want sess-new", sessions[0].MemorySessionID)
	}
}

func TestFetchObservationsSessionScope(t *testing.T) {
	t.Parallel()

	dbPath, db := newSeededDB(t)
	seedObservation(t, db, "sess-a", "title a", "narrative a", 1_000)
	seedObservation(t, db, "sess-b", "title b", "narrative b", 2_000)

	all, err := fetchObservations(dbPath, "", 10)
	if err != nil {
		t.Fatalf("fetchObservations all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d observations, want 2", len(all))
	}

	scoped, err := fetchObservations(dbPath, "sess-a", 10)
	if err != nil {
		t.Fatalf("fetchObservations scoped: %v", err)
	}
	if len(scoped) != 1 || scoped[0].MemorySessionID != "sess-a" {
		t.Errorf("scoped fetch = %+v, want only sess-a", scoped)
	}
}

func TestSearchObservations(t *testing.T) {
	t.Parallel()

	dbPath, db := newSeededDB(t)
	seedObservation(t, db, "sess-a", "websocket reconnect fix", "the reconnect loop leaked goroutines", 1_000)
	seedObservation(t, db, "sess-a", "config parsing", "TOML tables were shadowed", 2_000)

	results, err := searchObservations(dbPath, "goroutines", 10)
	if err != nil {
		t.Fatalf("searchObservations: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Title != "websocket reconnect fix" {
		t.Errorf("result title = %q", results[0].Title)
	}

	empty, err := searchObservations(dbPath, "", 10)
	if err != nil {
		t.Fatalf("empty query: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("empty query returned %d results, want 0", len(empty))
	}
}

func TestOpenReadOnlyMissingDB(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "nope.db")
	if _, err := openReadOnly(missing); err == nil {
		t.Error("expected error for missing database")
	}
}

func TestFetchDaemonStatusOffline(t *testing.T) {
	t.Parallel()

	socketPath := filepath.Join(t.TempDir(), "chronicle.sock")
	if _, err := fetchDaemonStatus(socketPath); err == nil {
		t.Error("expected error when no daemon is listening")
	}
}

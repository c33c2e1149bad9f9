package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"chronicle/pkg/observe"
	"chronicle/pkg/pipeline"
	"chronicle/pkg/protocol"

	_ "modernc.org/sqlite"
)

// fetchTimeout bounds every read the dashboard makes so a wedged daemon or
// locked database never freezes the UI.
const fetchTimeout = 2 * time.Second

// openReadOnly opens the pipeline database read-only with WAL so dashboard
// queries never block the daemon's writes. Callers must Close the handle.
//
// Error cases:
//   - dbPath does not exist → returns error (dashboard shows empty state)
//   - not a valid sqlite DB → returns error
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

// fetchSessions reads the most recent sessions from the pipeline database.
func fetchSessions(dbPath string, limit int) ([]protocol.Session, error) {
	db, err := openReadOnly(dbPath)
	if err != nil {
		return nil, err
	}
	defer db.Close() //nolint:errcheck // best-effort close on read-only query path

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	return pipeline.ListSessions(ctx, db, limit)
}

// fetchObservations reads recent observations, optionally scoped to one
// session. An empty sessionID returns observations across all sessions.
func fetchObservations(dbPath, sessionID string, limit int) ([]protocol.Observation, error) {
	db, err := openReadOnly(dbPath)
	if err != nil {
		return nil, err
	}
	defer db.Close() //nolint:errcheck // best-effort close on read-only query path

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	return observe.NewStore(db).List(ctx, observe.ListOpts{
		SessionID: sessionID,
		Limit:     limit,
	})
}

// searchObservations runs a BM25-ranked full-text search over observations.
// An empty query returns no results.
func searchObservations(dbPath, query string, limit int) ([]observe.ScoredObservation, error) {
	db, err := openReadOnly(dbPath)
	if err != nil {
		return nil, err
	}
	defer db.Close() //nolint:errcheck // best-effort close on read-only query path

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	return observe.NewStore(db).Search(ctx, query, observe.SearchOpts{Limit: limit})
}

// fetchDaemonStatus asks the daemon for a status snapshot over the control
// socket. Returns an error when the daemon is not running.
func fetchDaemonStatus(socketPath string) (*protocol.PipelineStatus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	return pipeline.RequestStatus(ctx, socketPath)
}

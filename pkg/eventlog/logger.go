package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Logger records pipeline lifecycle events on the daemon's database
// handle. Inserts are cheap and callers on hot paths discard the error:
// a failed event write must never stall ingestion.
type Logger struct {
	db *sql.DB
}

// NewLogger creates a Logger writing to the given database.
func NewLogger(db *sql.DB) *Logger {
	return &Logger{db: db}
}

// Log records one event. payload may be nil or any JSON-marshalable
// value; it is stored as JSON text.
func (l *Logger) Log(ctx context.Context, evType, source, sessionID string, payload any) error {
	var payloadText string
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("event payload: %w", err)
		}
		payloadText = string(b)
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO events (type, source, session_id, payload) VALUES (?, ?, ?, ?)`,
		evType, source, sessionID, payloadText)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

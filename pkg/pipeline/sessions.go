package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"chronicle/pkg/protocol"
)

// ensureSession returns the sessions row id for a memory session, creating
// the row if absent. The boolean reports whether this call created it.
// Project and cwd seed a freshly created row only; existing rows are left
// alone here (refreshSessionContext owns updates).
func (s *Service) ensureSession(ctx context.Context, sessionID, project, cwd string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM sessions WHERE memory_session_id = ?`, sessionID).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("session lookup: %w", err)
	}

	// Two targets resolving the same transcript can race to create the
	// row; DO NOTHING plus a re-read keeps the loser on the winner's id.
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (memory_session_id, project, cwd, started_at_epoch)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(memory_session_id) DO NOTHING`,
		sessionID, project, cwd, s.nowFunc().UnixMilli(),
	)
	if err != nil {
		return 0, false, fmt.Errorf("session insert: %w", err)
	}
	created := false
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		created = true
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM sessions WHERE memory_session_id = ?`, sessionID).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("session re-read: %w", err)
	}
	return id, created, nil
}

// refreshSessionContext updates a session's project and cwd from a
// session_init or session_context event. Empty values leave the stored
// columns untouched.
func (s *Service) refreshSessionContext(ctx context.Context, dbID int64, project, cwd string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET
		     project = CASE WHEN ? != '' THEN ? ELSE project END,
		     cwd     = CASE WHEN ? != '' THEN ? ELSE cwd END
		 WHERE id = ?`,
		project, project, cwd, cwd, dbID,
	)
	if err != nil {
		return fmt.Errorf("session context update: %w", err)
	}
	return nil
}

// bumpPromptCounter increments the session's prompt counter and returns the
// new value, numbering the user prompt that triggered it.
func (s *Service) bumpPromptCounter(ctx context.Context, dbID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`UPDATE sessions SET prompt_counter = prompt_counter + 1
		 WHERE id = ?
		 RETURNING prompt_counter`, dbID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("prompt counter bump: %w", err)
	}
	return n, nil
}

// promptCounter reads the session's current prompt counter.
func (s *Service) promptCounter(ctx context.Context, dbID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT prompt_counter FROM sessions WHERE id = ?`, dbID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("prompt counter read: %w", err)
	}
	return n, nil
}

// sessionProject reads the session's project column.
func (s *Service) sessionProject(ctx context.Context, dbID int64) (string, error) {
	var project string
	err := s.db.QueryRowContext(ctx,
		`SELECT project FROM sessions WHERE id = ?`, dbID).Scan(&project)
	if err != nil {
		return "", fmt.Errorf("session project read: %w", err)
	}
	return project, nil
}

// endSession stamps ended_at_epoch. Stamping an already-ended session is a
// no-op so replayed session_end events cannot move the end time.
func (s *Service) endSession(ctx context.Context, dbID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at_epoch = ?
		 WHERE id = ? AND ended_at_epoch IS NULL`,
		s.nowFunc().UnixMilli(), dbID,
	)
	if err != nil {
		return fmt.Errorf("session end: %w", err)
	}
	return nil
}

// ListSessions returns session rows newest first. It is package-level so
// the CLI and dashboard can share it with a plain read handle.
func ListSessions(ctx context.Context, db *sql.DB, limit int) ([]protocol.Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, memory_session_id, project, cwd, started_at_epoch, ended_at_epoch, prompt_counter
		 FROM sessions
		 ORDER BY started_at_epoch DESC, id DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []protocol.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("list sessions scan: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// GetSession returns one session row by its memory session ID.
func GetSession(ctx context.Context, db *sql.DB, memorySessionID string) (*protocol.Session, error) {
	row := db.QueryRowContext(ctx,
		`SELECT id, memory_session_id, project, cwd, started_at_epoch, ended_at_epoch, prompt_counter
		 FROM sessions
		 WHERE memory_session_id = ?`, memorySessionID)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &protocol.SessionNotFoundError{SessionID: memorySessionID}
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (protocol.Session, error) {
	var sess protocol.Session
	var endedAt sql.NullInt64
	err := row.Scan(&sess.ID, &sess.MemorySessionID, &sess.Project, &sess.Cwd,
		&sess.StartedAtEpoch, &endedAt, &sess.PromptCounter)
	if err != nil {
		return protocol.Session{}, err
	}
	sess.EndedAtEpoch = endedAt.Int64
	return sess, nil
}

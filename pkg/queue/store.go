// Package queue implements the durable per-session work queue: a SQLite
// claim/confirm store plus the session consumer loop that drains it.
// Producers insert with Enqueue and signal the session's wake channel
// after the write commits; consumers claim with ClaimNext and remove
// items with Confirm once handled. Items claimed by a consumer that died
// before confirming revert to pending after a staleness threshold.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"chronicle/pkg/protocol"
)

// DefaultStaleAfter is how long a claimed item may sit unconfirmed before
// ClaimNext reverts it to pending.
const DefaultStaleAfter = 5 * time.Minute

// Message is a claimed pending_messages row.
type Message struct {
	ID             int64
	SessionDBID    int64
	Status         string
	CreatedAtEpoch int64
	ClaimedAtEpoch int64
	Payload        string
}

// Item unmarshals the payload column into the public queue item shape.
func (m *Message) Item() (protocol.QueueItem, error) {
	var item protocol.QueueItem
	if err := json.Unmarshal([]byte(m.Payload), &item); err != nil {
		return protocol.QueueItem{}, fmt.Errorf("queue payload: %w", err)
	}
	return item, nil
}

// Store manages the pending_messages table. All timestamps are epoch
// milliseconds.
type Store struct {
	db         *sql.DB
	staleAfter time.Duration
	nowFunc    func() time.Time
}

// NewStore creates a Store backed by the given SQLite database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, staleAfter: DefaultStaleAfter, nowFunc: time.Now}
}

// SetStaleAfter overrides the staleness threshold. Zero or negative
// restores the default.
func (s *Store) SetStaleAfter(d time.Duration) {
	if d <= 0 {
		d = DefaultStaleAfter
	}
	s.staleAfter = d
}

// SetNowFunc overrides the clock.
//
//chronicle:testonly
func (s *Store) SetNowFunc(f func() time.Time) {
	if f != nil {
		s.nowFunc = f
	}
}

// Enqueue durably inserts a pending item for a session and returns its ID.
// Callers that hold the session's wake channel must signal it only after
// Enqueue returns, so a woken consumer always finds the row.
func (s *Store) Enqueue(ctx context.Context, sessionDBID int64, item protocol.QueueItem) (int64, error) {
	payload, err := json.Marshal(item)
	if err != nil {
		return 0, fmt.Errorf("queue enqueue marshal: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_messages (session_db_id, status, created_at_epoch, payload)
		 VALUES (?, ?, ?, ?)`,
		sessionDBID, protocol.StatusPending, s.nowFunc().UnixMilli(), string(payload),
	)
	if err != nil {
		return 0, fmt.Errorf("queue enqueue: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("queue enqueue id: %w", err)
	}
	return id, nil
}

// ClaimNext atomically claims the oldest pending item for a session,
// returning nil with no error when the queue is empty. Before claiming it
// reverts any item stuck in processing past the staleness threshold, which
// recovers work claimed by a consumer that crashed before confirming.
func (s *Store) ClaimNext(ctx context.Context, sessionDBID int64) (*Message, error) {
	now := s.nowFunc().UnixMilli()
	if err := s.healStale(ctx, sessionDBID, now); err != nil {
		return nil, err
	}

	// Single-statement claim: the subquery and the status flip execute
	// atomically, so two racing consumers cannot claim the same row.
	row := s.db.QueryRowContext(ctx,
		`UPDATE pending_messages SET status = ?, claimed_at_epoch = ?
		 WHERE id = (
		     SELECT id FROM pending_messages
		     WHERE session_db_id = ? AND status = ?
		     ORDER BY created_at_epoch, id
		     LIMIT 1
		 )
		 RETURNING id, session_db_id, status, created_at_epoch, claimed_at_epoch, payload`,
		protocol.StatusProcessing, now, sessionDBID, protocol.StatusPending,
	)

	var m Message
	err := row.Scan(&m.ID, &m.SessionDBID, &m.Status, &m.CreatedAtEpoch, &m.ClaimedAtEpoch, &m.Payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue claim: %w", err)
	}
	return &m, nil
}

// healStale reverts processing items claimed before the staleness cutoff
// back to pending.
func (s *Store) healStale(ctx context.Context, sessionDBID int64, now int64) error {
	cutoff := now - s.staleAfter.Milliseconds()
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_messages SET status = ?, claimed_at_epoch = NULL
		 WHERE session_db_id = ? AND status = ? AND claimed_at_epoch < ?`,
		protocol.StatusPending, sessionDBID, protocol.StatusProcessing, cutoff,
	)
	if err != nil {
		return fmt.Errorf("queue self-heal: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.WithFields(logrus.Fields{
			"session_db_id": sessionDBID,
			"requeued":      n,
		}).Warn("requeued stale processing items")
	}
	return nil
}

// Confirm removes a handled item from the queue.
func (s *Store) Confirm(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("queue confirm: %w", err)
	}
	return nil
}

// Depth returns the number of pending items for a session.
func (s *Store) Depth(ctx context.Context, sessionDBID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_messages WHERE session_db_id = ? AND status = ?`,
		sessionDBID, protocol.StatusPending,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

// TotalDepth returns the number of pending items across all sessions.
func (s *Store) TotalDepth(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_messages WHERE status = ?`,
		protocol.StatusPending,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue total depth: %w", err)
	}
	return n, nil
}

// Backlog returns the number of unconfirmed items across all sessions,
// counting both pending and claimed rows.
func (s *Store) Backlog(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_messages`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue backlog: %w", err)
	}
	return n, nil
}

// Package observe stores deduplicated observations derived from session
// activity. The write path is a dedup gate: a content hash over the
// identity-bearing fields is checked against recent rows before anything
// is inserted, so replayed or double-processed events collapse into one
// record. Reads serve the CLI, dashboard and context hook.
package observe

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"chronicle/internal/logging"
	"chronicle/pkg/protocol"
)

var log = logging.NewLogger("observe")

// DedupWindow is how far back the gate looks for an identical observation.
// The window is anchored at the incoming record's timestamp, not the wall
// clock, so backlog replay with historical timestamps dedups correctly.
const DedupWindow = 30 * time.Second

// Payload is the content of one observation.
type Payload struct {
	Type          string
	Title         string
	Subtitle      string
	Narrative     string
	Facts         []string
	Concepts      []string
	FilesRead     []string
	FilesModified []string
}

// StoreOptions carries the optional inputs to Store.
type StoreOptions struct {
	// PromptNumber links the observation to a numbered user prompt.
	// Zero stores NULL.
	PromptNumber int
	// DiscoveryTokens counts tokens spent producing the observation.
	DiscoveryTokens int
	// OverrideTimestamp backdates the observation (epoch ms). Zero means
	// the current time.
	OverrideTimestamp int64
}

// Identity names a stored observation.
type Identity struct {
	ID             int64
	CreatedAtEpoch int64
}

// Store manages the observations table.
type Store struct {
	db      *sql.DB
	nowFunc func() time.Time
}

// NewStore creates a Store backed by the given SQLite database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, nowFunc: time.Now}
}

// SetNowFunc overrides the clock.
//
//chronicle:testonly
func (s *Store) SetNowFunc(f func() time.Time) {
	if f != nil {
		s.nowFunc = f
	}
}

// contentHash digests the fields that carry an observation's identity.
// It is a dedup key, not an integrity check.
func contentHash(sessionID, title, narrative string) string {
	h := sha256.Sum256([]byte(sessionID + "|" + title + "|" + narrative))
	return hex.EncodeToString(h[:])
}

// Store inserts an observation unless an identical one (same session,
// title and narrative) already exists with a timestamp strictly inside
// the dedup window ending at the new record's timestamp. On a duplicate
// it returns the existing row's identity unchanged.
func (s *Store) Store(ctx context.Context, sessionID, project string, p Payload, opts StoreOptions) (Identity, error) {
	ts := opts.OverrideTimestamp
	if ts == 0 {
		ts = s.nowFunc().UnixMilli()
	}
	hash := contentHash(sessionID, p.Title, p.Narrative)

	var existing Identity
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at_epoch FROM observations
		 WHERE content_hash = ? AND created_at_epoch > ? AND created_at_epoch < ?
		 ORDER BY created_at_epoch DESC
		 LIMIT 1`,
		hash, ts-DedupWindow.Milliseconds(), ts,
	).Scan(&existing.ID, &existing.CreatedAtEpoch)
	if err == nil {
		log.WithFields(logrus.Fields{
			"session_id": sessionID,
			"id":         existing.ID,
		}).Debug("duplicate observation suppressed")
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Identity{}, fmt.Errorf("observation dedup lookup: %w", err)
	}

	typ := p.Type
	if typ == "" {
		typ = "observation"
	}
	var promptNumber any
	if opts.PromptNumber > 0 {
		promptNumber = opts.PromptNumber
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO observations (
		     memory_session_id, project, type, title, subtitle,
		     facts, narrative, concepts, files_read, files_modified,
		     prompt_number, discovery_tokens, content_hash, created_at_epoch
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, project, typ, p.Title, p.Subtitle,
		listToJSON(p.Facts), p.Narrative, listToJSON(p.Concepts),
		listToJSON(p.FilesRead), listToJSON(p.FilesModified),
		promptNumber, opts.DiscoveryTokens, hash, ts,
	)
	if err != nil {
		return Identity{}, fmt.Errorf("observation insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Identity{}, fmt.Errorf("observation insert id: %w", err)
	}
	return Identity{ID: id, CreatedAtEpoch: ts}, nil
}

// ListOpts configures a list query. Zero values mean no filter.
type ListOpts struct {
	SessionID  string
	Project    string
	Type       string
	MaxAgeDays int
	Limit      int // default 20
	Offset     int
}

// List returns observations newest first.
func (s *Store) List(ctx context.Context, opts ListOpts) ([]protocol.Observation, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	conditions := []string{"1=1"}
	var args []any
	if opts.SessionID != "" {
		conditions = append(conditions, "memory_session_id = ?")
		args = append(args, opts.SessionID)
	}
	if opts.Project != "" {
		conditions = append(conditions, "project = ?")
		args = append(args, opts.Project)
	}
	if opts.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, opts.Type)
	}
	if opts.MaxAgeDays > 0 {
		cutoff := s.nowFunc().AddDate(0, 0, -opts.MaxAgeDays).UnixMilli()
		conditions = append(conditions, "created_at_epoch >= ?")
		args = append(args, cutoff)
	}
	args = append(args, limit, opts.Offset)

	q := fmt.Sprintf(`
		SELECT id, memory_session_id, project, type, title, subtitle,
		       facts, narrative, concepts, files_read, files_modified,
		       prompt_number, discovery_tokens, content_hash, created_at_epoch
		FROM observations
		WHERE %s
		ORDER BY created_at_epoch DESC, id DESC
		LIMIT ? OFFSET ?
	`, strings.Join(conditions, " AND "))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observation list: %w", err)
	}
	defer rows.Close()

	var out []protocol.Observation
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("observation list scan: %w", err)
		}
		out = append(out, obs)
	}
	return out, rows.Err()
}

// SearchOpts configures an FTS5 search.
type SearchOpts struct {
	Project string
	Limit   int // default 10
}

// ScoredObservation pairs a row with its BM25 relevance.
type ScoredObservation struct {
	protocol.Observation
	Score float64
}

// Search performs FTS5 BM25-ranked search over titles, subtitles,
// narratives, facts and concepts.
func (s *Store) Search(ctx context.Context, query string, opts SearchOpts) ([]ScoredObservation, error) {
	if query == "" {
		return nil, nil
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	conditions := []string{"observations_fts MATCH ?"}
	args := []any{protocol.SanitizeFTS5Query(query)}
	if opts.Project != "" {
		conditions = append(conditions, "o.project = ?")
		args = append(args, opts.Project)
	}
	args = append(args, limit)

	q := fmt.Sprintf(`
		SELECT o.id, o.memory_session_id, o.project, o.type, o.title, o.subtitle,
		       o.facts, o.narrative, o.concepts, o.files_read, o.files_modified,
		       o.prompt_number, o.discovery_tokens, o.content_hash, o.created_at_epoch,
		       -bm25(observations_fts) AS score
		FROM observations_fts
		JOIN observations o ON observations_fts.rowid = o.id
		WHERE %s
		ORDER BY score DESC
		LIMIT ?
	`, strings.Join(conditions, " AND "))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observation search: %w", err)
	}
	defer rows.Close()

	var out []ScoredObservation
	for rows.Next() {
		var so ScoredObservation
		var promptNumber sql.NullInt64
		if err := rows.Scan(
			&so.ID, &so.MemorySessionID, &so.Project, &so.Type, &so.Title, &so.Subtitle,
			&so.Facts, &so.Narrative, &so.Concepts, &so.FilesRead, &so.FilesModified,
			&promptNumber, &so.DiscoveryTokens, &so.ContentHash, &so.CreatedAtEpoch,
			&so.Score,
		); err != nil {
			return nil, fmt.Errorf("observation search scan: %w", err)
		}
		so.PromptNumber = promptNumber.Int64
		out = append(out, so)
	}
	return out, rows.Err()
}

// Get returns one observation by ID, or nil if it does not exist.
func (s *Store) Get(ctx context.Context, id int64) (*protocol.Observation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, memory_session_id, project, type, title, subtitle,
		       facts, narrative, concepts, files_read, files_modified,
		       prompt_number, discovery_tokens, content_hash, created_at_epoch
		FROM observations
		WHERE id = ?`, id)

	obs, err := scanObservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("observation get: %w", err)
	}
	return &obs, nil
}

// Delete removes one observation. Deleting an unknown ID is an error.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM observations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("observation delete: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &protocol.ObservationNotFoundError{ID: id}
	}
	return nil
}

// CountsByProject returns the number of observations per project.
func (s *Store) CountsByProject(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project, COUNT(*) FROM observations GROUP BY project`)
	if err != nil {
		return nil, fmt.Errorf("observation counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var project string
		var n int
		if err := rows.Scan(&project, &n); err != nil {
			return nil, fmt.Errorf("observation counts scan: %w", err)
		}
		counts[project] = n
	}
	return counts, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanObservation(row rowScanner) (protocol.Observation, error) {
	var obs protocol.Observation
	var promptNumber sql.NullInt64
	err := row.Scan(
		&obs.ID, &obs.MemorySessionID, &obs.Project, &obs.Type, &obs.Title, &obs.Subtitle,
		&obs.Facts, &obs.Narrative, &obs.Concepts, &obs.FilesRead, &obs.FilesModified,
		&promptNumber, &obs.DiscoveryTokens, &obs.ContentHash, &obs.CreatedAtEpoch,
	)
	if err != nil {
		return protocol.Observation{}, err
	}
	obs.PromptNumber = promptNumber.Int64
	return obs, nil
}

// listToJSON converts a string slice to a JSON array string.
func listToJSON(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// ListFromJSON parses a JSON array string into a string slice.
func ListFromJSON(s string) []string {
	if s == "" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil
	}
	return items
}

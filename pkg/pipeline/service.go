// Package pipeline composes the chronicle daemon: it opens the pipeline
// database, starts the transcript watcher, routes extracted events into the
// durable queue and the observation store, runs one queue consumer per
// session, and serves a control socket for the CLI. Every routing failure
// is contained to the event that caused it; nothing propagates out of the
// watcher or the consumer loops.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"chronicle/internal/logging"
	"chronicle/pkg/eventlog"
	"chronicle/pkg/observe"
	"chronicle/pkg/protocol"
	"chronicle/pkg/queue"
	"chronicle/pkg/tailer"
	"chronicle/pkg/transcript"
	"chronicle/pkg/watcher"
)

var log = logging.NewLogger("pipeline")

// Config holds Service configuration.
type Config struct {
	DBPath          string                  // SQLite pipeline database path.
	SocketPath      string                  // Control socket path; empty disables the control server.
	WatchStatePath  string                  // Persisted tail-offset file.
	Watch           *transcript.WatchConfig // Schemas and watch targets. Required.
	IdleTimeout     time.Duration           // Session consumer idle timeout (default 3m).
	StaleAfter      time.Duration           // Queue claim staleness threshold (default 5m).
	ShutdownTimeout time.Duration           // Graceful drain deadline (default 10s).
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.IdleTimeout == 0 {
		out.IdleTimeout = queue.DefaultIdleTimeout
	}
	if out.StaleAfter == 0 {
		out.StaleAfter = queue.DefaultStaleAfter
	}
	if out.ShutdownTimeout == 0 {
		out.ShutdownTimeout = 10 * time.Second
	}
	return out
}

// Service is the daemon orchestrator.
type Service struct {
	cfg    Config
	db     *sql.DB
	queue  *queue.Store
	obs    *observe.Store
	events *eventlog.Logger
	state  *tailer.WatchState

	mu        sync.Mutex
	consumers map[int64]*sessionConsumer
	synth     map[string]string // transcript path -> synthesized session id
	watcher   *watcher.TranscriptWatcher
	listener  net.Listener
	startedAt time.Time

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// New creates a Service. It does NOT start watching or listening — call Run().
// The caller owns db and must close it after Run returns.
func New(cfg Config, db *sql.DB) (*Service, error) {
	if cfg.Watch == nil {
		return nil, errors.New("pipeline: watch config is required")
	}
	if db == nil {
		return nil, errors.New("pipeline: database is required")
	}
	resolved := cfg.withDefaults()

	qs := queue.NewStore(db)
	qs.SetStaleAfter(resolved.StaleAfter)

	return &Service{
		cfg:       resolved,
		db:        db,
		queue:     qs,
		obs:       observe.NewStore(db),
		events:    eventlog.NewLogger(db),
		state:     tailer.LoadWatchState(resolved.WatchStatePath),
		consumers: make(map[int64]*sessionConsumer),
		synth:     make(map[string]string),
		nowFunc:   time.Now,
	}, nil
}

// Run starts the pipeline. It:
//  1. Applies the SQLite schema and additive migrations
//  2. Resumes consumers for any queue backlog left by a previous run
//  3. Starts the transcript watcher, routing events as they are extracted
//  4. Serves the control socket
//
// Run blocks until ctx is cancelled, then stops the watcher and waits up to
// ShutdownTimeout for session consumers to drain.
func (s *Service) Run(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, protocol.SchemaDDL); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	s.migrate(ctx)

	s.mu.Lock()
	s.startedAt = s.nowFunc()
	s.mu.Unlock()

	s.resumeBacklog(ctx)

	w, err := watcher.New(watcher.Config{
		Watch: s.cfg.Watch,
		State: s.state,
		Emit:  func(ev watcher.Event) { s.route(ctx, ev) },
	})
	if err != nil {
		return fmt.Errorf("build watcher: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()

	if s.cfg.SocketPath != "" {
		// A socket file left behind by a crashed daemon would block the bind.
		_ = os.Remove(s.cfg.SocketPath)
		ln, err := net.Listen("unix", s.cfg.SocketPath) //nolint:noctx // UDS bind is instant
		if err != nil {
			w.Stop()
			return fmt.Errorf("listen unix %s: %w", s.cfg.SocketPath, err)
		}
		s.mu.Lock()
		s.listener = ln
		s.mu.Unlock()
		go s.acceptLoop(ctx, ln)
	}

	log.WithFields(logrus.Fields{
		"targets": len(s.cfg.Watch.Targets),
		"db":      s.cfg.DBPath,
	}).Info("pipeline started")
	_ = s.events.Log(ctx, "watcher_started", "pipeline", "",
		map[string]any{"targets": len(s.cfg.Watch.Targets)})

	<-ctx.Done()

	// --- Graceful shutdown ---
	w.Stop()

	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
		_ = os.Remove(s.cfg.SocketPath)
	}

	// Consumers inherit ctx, so they are already unwinding; wait for
	// in-flight handlers up to the drain deadline.
	drainDeadline := time.NewTimer(s.cfg.ShutdownTimeout)
	defer drainDeadline.Stop()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-drainDeadline.C:
			log.WithField("remaining", s.ActiveSessions()).
				Warn("shutdown deadline reached with consumers still draining")
			return nil
		case <-ticker.C:
			if s.ActiveSessions() == 0 {
				log.Info("pipeline stopped")
				return nil
			}
		}
	}
}

// migrate applies additive column migrations, ignoring the duplicate-column
// errors raised when the columns already exist.
func (s *Service) migrate(ctx context.Context) {
	for _, ddl := range []string{protocol.MigrateDiscoveryTokens, protocol.MigrateSessionEnd} {
		_, _ = s.db.ExecContext(ctx, ddl)
	}
}

// resumeBacklog starts consumers for sessions that still hold queue items
// from a previous run. Consumers are otherwise created lazily on arrival,
// which would leave a crashed daemon's backlog sitting until the session
// spoke again.
func (s *Service) resumeBacklog(ctx context.Context) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT s.id, s.memory_session_id
		 FROM pending_messages p
		 JOIN sessions s ON s.id = p.session_db_id`)
	if err != nil {
		log.WithError(err).Warn("scan queue backlog")
		return
	}
	defer rows.Close()

	type backlogged struct {
		dbID int64
		sid  string
	}
	var resume []backlogged
	for rows.Next() {
		var b backlogged
		if err := rows.Scan(&b.dbID, &b.sid); err != nil {
			log.WithError(err).Warn("scan backlog row")
			return
		}
		resume = append(resume, b)
	}
	if err := rows.Err(); err != nil {
		log.WithError(err).Warn("scan queue backlog")
		return
	}

	// Consumers start claiming immediately; spawn them only after the
	// cursor above is closed.
	for _, b := range resume {
		if c := s.ensureConsumer(ctx, b.dbID, b.sid); c != nil {
			queue.Wake(c.wake)
		}
	}
	if len(resume) > 0 {
		log.WithField("sessions", len(resume)).Info("resuming queued backlog")
	}
}

// route dispatches one extracted event by its action tag. Failures are
// logged and swallowed; a bad event must never stall the watcher.
func (s *Service) route(ctx context.Context, ev watcher.Event) {
	sessionID := s.sessionIdentity(ev)
	project := projectName(ev)

	dbID, created, err := s.ensureSession(ctx, sessionID, project, ev.Cwd)
	if err != nil {
		log.WithError(err).WithField("session_id", sessionID).Warn("ensure session")
		return
	}
	if created {
		log.WithFields(logrus.Fields{
			"session_id": sessionID,
			"project":    project,
			"target":     ev.Target.Name,
		}).Info("session started")
		_ = s.events.Log(ctx, "session_started", "pipeline", sessionID,
			map[string]any{"project": project, "target": ev.Target.Name})
	}

	switch ev.Action {
	case transcript.ActionSessionInit, transcript.ActionSessionContext:
		if err := s.refreshSessionContext(ctx, dbID, project, ev.Cwd); err != nil {
			log.WithError(err).WithField("session_id", sessionID).Warn("refresh session context")
		}
	case transcript.ActionUserMessage:
		n, err := s.bumpPromptCounter(ctx, dbID)
		if err != nil {
			log.WithError(err).WithField("session_id", sessionID).Warn("bump prompt counter")
		}
		s.enqueue(ctx, dbID, sessionID, ev, n)
	case transcript.ActionAssistantMessage, transcript.ActionToolUse, transcript.ActionToolResult:
		s.enqueue(ctx, dbID, sessionID, ev, 0)
	case transcript.ActionObservation:
		s.storeDirect(ctx, dbID, sessionID, project, ev)
	case transcript.ActionFileEdit:
		// The edit is an observation in its own right and queue input for
		// the session's file accounting.
		s.storeDirect(ctx, dbID, sessionID, project, ev)
		s.enqueue(ctx, dbID, sessionID, ev, 0)
	case transcript.ActionSessionEnd:
		s.enqueue(ctx, dbID, sessionID, ev, 0)
	}
}

// enqueue durably inserts the event for the session's consumer and wakes it.
// The wake is raised only after Enqueue returns, so a woken consumer always
// finds the row.
func (s *Service) enqueue(ctx context.Context, dbID int64, sessionID string, ev watcher.Event, promptNumber int) {
	item := protocol.QueueItem{
		Action:          string(ev.Action),
		Name:            ev.Name,
		SessionID:       sessionID,
		Target:          ev.Target.Name,
		PromptNumber:    promptNumber,
		Fields:          ev.Fields,
		ReceivedAtEpoch: s.nowFunc().UnixMilli(),
	}
	if _, err := s.queue.Enqueue(ctx, dbID, item); err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"session_id": sessionID,
			"action":     item.Action,
		}).Warn("enqueue")
		return
	}
	_ = s.events.Log(ctx, "enqueued", "router", sessionID, map[string]any{"action": item.Action})

	if c := s.ensureConsumer(ctx, dbID, sessionID); c != nil {
		queue.Wake(c.wake)
	}
}

// storeDirect pushes an observation or file edit straight through the dedup
// gate, bypassing the queue.
func (s *Service) storeDirect(ctx context.Context, dbID int64, sessionID, project string, ev watcher.Event) {
	p := payloadFromFields(ev.Action, ev.Fields)
	n, err := s.promptCounter(ctx, dbID)
	if err != nil {
		n = 0
	}
	ident, err := s.obs.Store(ctx, sessionID, project, p, observe.StoreOptions{
		PromptNumber:      n,
		DiscoveryTokens:   intField(ev.Fields, "tokens", "discovery_tokens"),
		OverrideTimestamp: int64Field(ev.Fields, "timestamp_epoch"),
	})
	if err != nil {
		log.WithError(err).WithField("session_id", sessionID).Warn("store observation")
		return
	}
	_ = s.events.Log(ctx, "observation_stored", "router", sessionID,
		map[string]any{"id": ident.ID, "type": p.Type})
}

// sessionIdentity returns the event's session ID, synthesizing a stable
// per-file identifier when neither the path nor the content carried one.
func (s *Service) sessionIdentity(ev watcher.Event) string {
	if ev.SessionID != "" {
		return ev.SessionID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.synth[ev.Path]
	if !ok {
		id = transcript.NewSessionID()
		s.synth[ev.Path] = id
	}
	return id
}

// projectName picks the project label for an event: the schema-extracted
// project wins, then the target's configured project, then the basename of
// the session's working directory.
func projectName(ev watcher.Event) string {
	if ev.Project != "" {
		return ev.Project
	}
	if ev.Target.Project != "" {
		return ev.Target.Project
	}
	if ev.Cwd != "" {
		return filepath.Base(ev.Cwd)
	}
	return ""
}

// ActiveSessions returns the number of live session consumers.
func (s *Service) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.consumers)
}

// Drained reports whether the queue holds no pending or claimed items.
func (s *Service) Drained(ctx context.Context) (bool, error) {
	n, err := s.queue.Backlog(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

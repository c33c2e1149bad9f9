// Package watcher orchestrates transcript ingestion: it resolves watch
// targets into concrete files, runs one tailer per file, extracts typed
// events from each JSON line, and hands them to the caller.
package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"chronicle/internal/logging"
	"chronicle/pkg/tailer"
	"chronicle/pkg/transcript"
)

var log = logging.NewLogger("watcher")

// Event is one extracted transcript event plus its source context.
type Event struct {
	transcript.Event
	Target transcript.WatchTarget
	Path   string
}

// EmitFunc receives extracted events. Calls arrive in file order per path;
// no ordering holds across paths.
type EmitFunc func(ev Event)

// Config configures a TranscriptWatcher.
type Config struct {
	// Watch holds the named schemas and the targets that reference them.
	// Required.
	Watch *transcript.WatchConfig
	// State is the persisted offset map tailers resume from. Required.
	State *tailer.WatchState
	// Emit receives extracted events. Required.
	Emit EmitFunc
}

// TranscriptWatcher runs the configured watch targets. A file is tailed by
// at most one tailer at a time no matter how many targets resolve to it.
// Tailers are never detached for files that disappear; a vanished file
// simply stops producing notifications until process teardown.
type TranscriptWatcher struct {
	cfg Config

	mu      sync.Mutex
	tailers map[string]*tailer.FileTailer
	stopped bool

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New validates cfg and returns an unstarted watcher.
func New(cfg Config) (*TranscriptWatcher, error) {
	if cfg.Watch == nil {
		return nil, errors.New("watcher: watch config is required")
	}
	if cfg.State == nil {
		return nil, errors.New("watcher: watch state is required")
	}
	if cfg.Emit == nil {
		return nil, errors.New("watcher: emit func is required")
	}
	return &TranscriptWatcher{
		cfg:     cfg,
		tailers: make(map[string]*tailer.FileTailer),
	}, nil
}

// Start attaches tailers for every target's current file set and begins the
// per-target rescan loops. A target whose schema cannot be resolved is
// skipped with a warning; that is the only per-target failure mode and it
// is never fatal.
func (w *TranscriptWatcher) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	for _, raw := range w.cfg.Watch.Targets {
		target := raw.WithDefaults()
		schema, ok := w.cfg.Watch.ResolveSchema(target)
		if !ok {
			log.WithFields(logrus.Fields{"target": target.Name, "schema": target.Schema}).
				Warn("schema not found, skipping target")
			continue
		}
		w.attachAll(ctx, target, schema)

		w.wg.Add(1)
		go w.rescanLoop(ctx, target, schema)
	}
	return nil
}

// rescanLoop periodically re-resolves the target's file set and attaches
// tailers for files that appeared since the last pass.
func (w *TranscriptWatcher) rescanLoop(ctx context.Context, target transcript.WatchTarget, schema *transcript.Schema) {
	defer w.wg.Done()

	ticker := time.NewTicker(time.Duration(target.RescanIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.attachAll(ctx, target, schema)
		}
	}
}

func (w *TranscriptWatcher) attachAll(ctx context.Context, target transcript.WatchTarget, schema *transcript.Schema) {
	for _, path := range resolveFiles(target.Path) {
		w.attach(ctx, target, schema, path)
	}
}

// attach starts a tailer for path unless one is already running. The tailer
// resumes from the persisted offset; with no prior offset, startAtEnd seeds
// it at the file's current size so a long-lived log is not replayed on
// first attach.
func (w *TranscriptWatcher) attach(ctx context.Context, target transcript.WatchTarget, schema *transcript.Schema, path string) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	if _, ok := w.tailers[path]; ok {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	offset := int64(0)
	if off, ok := w.cfg.State.Offset(path); ok {
		offset = off
	} else if target.StartAtEnd {
		if info, err := os.Stat(path); err == nil {
			offset = info.Size()
		}
	}

	tl, err := tailer.New(tailer.Config{
		Path:   path,
		Offset: offset,
		State:  w.cfg.State,
		Emit: func(line string) {
			w.handleLine(target, schema, path, line)
		},
	})
	if err != nil {
		log.WithError(err).WithField("path", path).Warn("create tailer")
		return
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	if _, ok := w.tailers[path]; ok {
		w.mu.Unlock()
		return
	}
	w.tailers[path] = tl
	w.mu.Unlock()

	if err := tl.Start(ctx); err != nil {
		log.WithError(err).WithField("path", path).Warn("start tailer")
		w.mu.Lock()
		delete(w.tailers, path)
		w.mu.Unlock()
		return
	}

	// Stop may have run between the map insert and Start; its Close on the
	// entry already happened, so close again to stop the fresh goroutine.
	w.mu.Lock()
	if w.stopped {
		tl.Close()
	}
	w.mu.Unlock()

	log.WithFields(logrus.Fields{"target": target.Name, "path": path, "offset": offset}).
		Info("tailing transcript")
}

// handleLine parses one tailed line and emits the extracted event. A
// malformed line or a line matching no schema event is dropped; neither may
// ever halt the watcher.
func (w *TranscriptWatcher) handleLine(target transcript.WatchTarget, schema *transcript.Schema, path, line string) {
	var parsed any
	if err := json.Unmarshal([]byte(line), &parsed); err != nil {
		log.WithError(err).WithField("path", path).Debug("dropping malformed line")
		return
	}

	ev, ok := transcript.Extract(schema, parsed)
	if !ok {
		return
	}

	// A UUID-shaped segment in the file path is a more reliable session
	// identity than anything inside the line.
	if id := transcript.SessionIDFromPath(path); id != "" {
		ev.SessionID = id
	}

	w.cfg.Emit(Event{Event: ev, Target: target, Path: path})
}

// Tailing returns the sorted set of file paths currently being tailed.
func (w *TranscriptWatcher) Tailing() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.tailers))
	for p := range w.tailers {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Stop closes every tailer and cancels every rescan loop. Idempotent.
func (w *TranscriptWatcher) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		tailers := w.tailers
		w.tailers = make(map[string]*tailer.FileTailer)
		w.mu.Unlock()

		if w.cancel != nil {
			w.cancel()
		}
		for _, tl := range tailers {
			tl.Close()
		}
		w.wg.Wait()
	})
}

// resolveFiles expands a target path into concrete files: a literal file
// maps to itself, a directory is walked recursively for *.jsonl, and
// anything else is treated as a glob pattern. A path that matches nothing
// resolves to an empty set; the rescan loop retries it later.
func resolveFiles(pattern string) []string {
	info, err := os.Stat(pattern)
	if err == nil && !info.IsDir() {
		return []string{filepath.Clean(pattern)}
	}
	if err == nil && info.IsDir() {
		var files []string
		_ = filepath.WalkDir(pattern, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return nil //nolint:nilerr // unreadable subtree: skip it, keep walking
			}
			if !d.IsDir() && strings.HasSuffix(d.Name(), ".jsonl") {
				files = append(files, filepath.Clean(p))
			}
			return nil
		})
		return files
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		log.WithError(err).WithField("pattern", pattern).Warn("bad watch pattern")
		return nil
	}
	var files []string
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && !info.IsDir() {
			files = append(files, filepath.Clean(m))
		}
	}
	return files
}

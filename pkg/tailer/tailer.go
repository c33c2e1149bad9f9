// Package tailer turns growing line-delimited files into streams of whole
// trimmed lines, resuming from persisted byte offsets across restarts. It
// survives truncation, rotation, and lines split across writes.
package tailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"chronicle/internal/logging"
)

var log = logging.NewLogger("tailer")

// LineFunc receives each complete, trimmed, non-empty line in file order.
type LineFunc func(line string)

// Config configures a FileTailer.
type Config struct {
	// Path is the file to tail. Required.
	Path string
	// Offset is the byte position to resume reading from.
	Offset int64
	// State receives best-effort offset persistence after each read batch.
	// May be nil, in which case offsets are not persisted.
	State *WatchState
	// Emit receives complete lines. Required.
	Emit LineFunc
}

// FileTailer incrementally reads one growing file, reassembling lines split
// across writes and persisting its offset after each batch. Reads are
// serialized by an internal guard, so overlapping notification-triggered
// reads cannot corrupt the partial-line bookkeeping.
type FileTailer struct {
	path  string
	state *WatchState
	emit  LineFunc
	log   *logrus.Entry

	mu      sync.Mutex
	offset  int64
	partial string

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a tailer positioned at cfg.Offset. Call Start to follow
// filesystem changes, or ReadNewData directly for a one-shot incremental
// read.
func New(cfg Config) (*FileTailer, error) {
	if cfg.Path == "" {
		return nil, errors.New("tailer: path is required")
	}
	if cfg.Emit == nil {
		return nil, errors.New("tailer: emit func is required")
	}
	path := filepath.Clean(cfg.Path)
	return &FileTailer{
		path:   path,
		state:  cfg.State,
		emit:   cfg.Emit,
		log:    log.WithField("path", path),
		offset: cfg.Offset,
		done:   make(chan struct{}),
	}, nil
}

// Start performs an immediate catch-up read, then follows filesystem
// notifications for the path until ctx is cancelled or Close is called.
// The parent directory is watched rather than the file itself so rotation
// and recreation still produce events.
func (t *FileTailer) Start(ctx context.Context) error {
	t.ReadNewData()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(t.path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	go t.follow(ctx, w)
	return nil
}

// follow owns the fsnotify watcher and closes it on exit, so a Close racing
// Start never leaks the watch.
func (t *FileTailer) follow(ctx context.Context, w *fsnotify.Watcher) {
	defer w.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != t.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			t.ReadNewData()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			t.log.WithError(err).Debug("watch error")
		}
	}
}

// ReadNewData reads any bytes appended since the last read and emits the
// complete lines they contain. It is idempotent and safe to invoke from
// multiple goroutines; overlapping calls run one at a time. Stat and open
// errors are swallowed so races with deletion or rotation resolve on a
// later trigger.
func (t *FileTailer) ReadNewData() {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, err := os.Stat(t.path)
	if err != nil {
		return
	}
	size := info.Size()
	if size < t.offset {
		t.log.WithFields(logrus.Fields{"offset": t.offset, "size": size}).
			Debug("file truncated, re-reading from start")
		t.offset = 0
		t.partial = ""
	}
	if size == t.offset {
		return
	}

	buf, n := t.readRange(size)
	if n == 0 {
		return
	}

	chunk := t.partial + string(buf[:n])
	lines := strings.Split(chunk, "\n")
	t.partial = lines[len(lines)-1]
	for _, raw := range lines[:len(lines)-1] {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		t.emit(line)
	}

	t.offset += int64(n)
	if t.state != nil {
		if err := t.state.SetOffset(t.path, t.offset); err != nil {
			t.log.WithError(err).Warn("persist offset failed")
		}
	}
}

// readRange reads [offset, size) from the file. Short reads are fine; the
// unread remainder is picked up on the next trigger.
func (t *FileTailer) readRange(size int64) ([]byte, int) {
	f, err := os.Open(t.path) //nolint:gosec // path comes from watcher config
	if err != nil {
		return nil, 0
	}
	defer f.Close()

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return nil, 0
	}
	buf := make([]byte, size-t.offset)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		t.log.WithError(err).Debug("read new bytes")
		return nil, 0
	}
	return buf, n
}

// Offset reports the byte position the tailer has consumed through.
func (t *FileTailer) Offset() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offset
}

// Close stops following and releases the filesystem watch. Safe to call
// more than once. Any buffered partial line is dropped.
func (t *FileTailer) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
	})
}

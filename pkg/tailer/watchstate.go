package tailer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// watchStateDoc is the on-disk shape of the offset map.
type watchStateDoc struct {
	Offsets map[string]int64 `json:"offsets"`
}

// WatchState persists the byte offset reached in each watched file so
// tailing resumes where it left off after a restart. A missing, unreadable,
// or malformed state file degrades to an empty offset map rather than
// failing startup.
type WatchState struct {
	path string

	mu      sync.Mutex
	offsets map[string]int64
}

// LoadWatchState reads the offset map at path. Corruption is not fatal: the
// returned state starts empty and the file is rewritten on the next save.
func LoadWatchState(path string) *WatchState {
	ws := &WatchState{path: path, offsets: make(map[string]int64)}

	data, err := os.ReadFile(path) //nolint:gosec // operator-owned state file
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).WithField("path", path).Debug("read watch state")
		}
		return ws
	}
	var doc watchStateDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		log.WithError(err).WithField("path", path).Warn("watch state corrupt, starting from empty offsets")
		return ws
	}
	if doc.Offsets != nil {
		ws.offsets = doc.Offsets
	}
	return ws
}

// Offset returns the persisted offset for a file path.
func (s *WatchState) Offset(path string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	off, ok := s.offsets[path]
	return off, ok
}

// Offsets returns a copy of the current offset map.
func (s *WatchState) Offsets() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.offsets))
	for k, v := range s.offsets {
		out[k] = v
	}
	return out
}

// SetOffset records a new offset for a file path and rewrites the state
// file. The parent directory is created on first save.
func (s *WatchState) SetOffset(path string, offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets[path] = offset
	return s.save()
}

func (s *WatchState) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.Marshal(watchStateDoc{Offsets: s.offsets})
	if err != nil {
		return fmt.Errorf("encode watch state: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write watch state: %w", err)
	}
	return nil
}

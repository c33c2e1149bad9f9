package main

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"
)

// dbChangeMsg is sent when the pipeline database changes on disk.
type dbChangeMsg struct{}

// initWatcher creates a file system watcher on the database's parent
// directory. The daemon writes through WAL, so changes land in the -wal
// sidecar as often as the main file; watching the directory catches both.
// Returns nil if the directory doesn't exist or watcher creation fails
// (dashboard falls back to polling-only mode).
func initWatcher(dbPath string) *fsnotify.Watcher {
	dir := filepath.Dir(dbPath)
	if _, err := os.Stat(dir); err != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("fsnotify: failed to create watcher: %v (falling back to polling)", err)
		return nil
	}

	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		log.Printf("fsnotify: failed to watch %s: %v (falling back to polling)", dir, err)
		return nil
	}

	return watcher
}

// runWatcher returns a tea.Cmd that blocks until the database (or its WAL
// sidecar) changes, debouncing bursts of events into a single dbChangeMsg.
// The command returns after one message; the update loop re-arms it.
func runWatcher(watcher *fsnotify.Watcher, dbPath string) tea.Cmd {
	if watcher == nil {
		return nil
	}
	base := filepath.Base(dbPath)

	return func() tea.Msg {
		debounceTimer := newDebounceTimer()
		defer debounceTimer.Stop()

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				// Only the database and its sidecars matter; the state
				// directory also holds logs and the control socket.
				if !strings.HasPrefix(filepath.Base(event.Name), base) {
					continue
				}
				resetDebounceTimer(debounceTimer)

			case <-debounceTimer.C:
				return dbChangeMsg{}

			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				log.Printf("fsnotify: watcher error: %v", err)
				return nil
			}
		}
	}
}

// newDebounceTimer creates a stopped timer for debouncing file system events.
func newDebounceTimer() *time.Timer {
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	return timer
}

// resetDebounceTimer resets the debounce timer so rapid-fire events collapse
// into one refresh.
func resetDebounceTimer(timer *time.Timer) {
	const debounceDuration = 100 * time.Millisecond
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(debounceDuration)
}

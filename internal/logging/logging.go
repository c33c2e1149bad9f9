// Package logging provides per-component structured loggers for chronicle.
// All components share one logrus root so level and sink changes apply
// process-wide; entries are singletons keyed by component name.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	root     = newRoot() //nolint:gochecknoglobals // shared process-wide logger root
	entries  = make(map[string]*logrus.Entry)
	entryMu  sync.Mutex
	sinkFile *os.File
)

func newRoot() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	level := logrus.InfoLevel
	if v := os.Getenv("CHRONICLE_LOG_LEVEL"); v != "" {
		if parsed, err := logrus.ParseLevel(v); err == nil {
			level = parsed
		}
	}
	l.SetLevel(level)
	return l
}

// NewLogger returns the logger entry for a component, creating it on first
// use. The same entry is returned for repeated calls with the same name.
func NewLogger(component string) *logrus.Entry {
	entryMu.Lock()
	defer entryMu.Unlock()

	if e, ok := entries[component]; ok {
		return e
	}
	e := root.WithField("component", component)
	entries[component] = e
	return e
}

// SetLevel changes the process-wide log level. Unparseable levels are
// ignored and the current level is kept.
func SetLevel(level string) {
	if level == "" {
		return
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return
	}
	root.SetLevel(parsed)
}

// SetOutput redirects all component loggers to w. Tests use this to capture
// log output.
func SetOutput(w io.Writer) {
	root.SetOutput(w)
}

// EnableFileSink appends all log output to the file at path in addition to
// stderr, creating parent directories as needed. Calling it again replaces
// the previous sink.
func EnableFileSink(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // path is under the state dir
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	entryMu.Lock()
	defer entryMu.Unlock()
	if sinkFile != nil {
		_ = sinkFile.Close()
	}
	sinkFile = f
	root.SetOutput(io.MultiWriter(os.Stderr, f))
	return nil
}

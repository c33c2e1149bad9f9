package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"chronicle/pkg/protocol"
	"chronicle/pkg/transcript"
	"chronicle/pkg/watcher"
)

// maxLineBytes bounds a single transcript line during replay. Assistant
// turns with large tool results routinely exceed bufio's 64KB default.
const maxLineBytes = 1 << 20

// ReplayFile routes every extractable line of one transcript file through
// the pipeline, as if the watcher had tailed it live. It returns the number
// of events routed. Lines that fail to parse or match no schema event are
// skipped silently, matching the watcher's behavior.
func (s *Service) ReplayFile(ctx context.Context, path, schemaName string) (int, error) {
	schema, ok := s.cfg.Watch.Schemas[schemaName]
	if !ok {
		return 0, &protocol.SchemaNotFoundError{Target: path, Schema: schemaName}
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	target := transcript.WatchTarget{
		Name:   "replay",
		Path:   path,
		Schema: schemaName,
	}.WithDefaults()

	routed := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return routed, err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var parsed any
		if err := json.Unmarshal(line, &parsed); err != nil {
			log.WithError(err).WithField("path", path).Debug("skipping unparseable line")
			continue
		}
		ev, ok := transcript.Extract(schema, parsed)
		if !ok {
			continue
		}
		if id := transcript.SessionIDFromPath(path); id != "" {
			ev.SessionID = id
		}
		s.route(ctx, watcher.Event{Event: ev, Target: target, Path: path})
		routed++
	}
	if err := scanner.Err(); err != nil {
		return routed, fmt.Errorf("read transcript: %w", err)
	}
	return routed, nil
}

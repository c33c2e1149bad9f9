package pipeline

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"chronicle/pkg/observe"
	"chronicle/pkg/protocol"
	"chronicle/pkg/queue"
	"chronicle/pkg/transcript"
)

// titleLimit caps the prompt excerpt used as a derived observation's title.
const titleLimit = 80

// sessionConsumer tracks one session's queue processor and the aggregation
// state its handler builds up between claims. The aggregation fields are
// touched only by the processor goroutine, which runs handlers serially.
type sessionConsumer struct {
	sessionDBID int64
	sessionID   string
	wake        chan struct{}
	cancel      context.CancelFunc

	prompt        *pendingPrompt
	filesRead     []string
	filesModified []string
	seenRead      map[string]bool
	seenModified  map[string]bool
}

// pendingPrompt is a user prompt awaiting its answer.
type pendingPrompt struct {
	number int
	text   string
}

func (c *sessionConsumer) addFileRead(path string) {
	if c.seenRead[path] {
		return
	}
	c.seenRead[path] = true
	c.filesRead = append(c.filesRead, path)
}

// addFileModified records an edit. A file both read and edited lands in
// both lists.
func (c *sessionConsumer) addFileModified(path string) {
	if c.seenModified[path] {
		return
	}
	c.seenModified[path] = true
	c.filesModified = append(c.filesModified, path)
}

// resetExchange clears the per-exchange aggregation after an observation is
// stored.
func (c *sessionConsumer) resetExchange() {
	c.prompt = nil
	c.filesRead = nil
	c.filesModified = nil
	c.seenRead = make(map[string]bool)
	c.seenModified = make(map[string]bool)
}

// ensureConsumer returns the session's live consumer, starting one when the
// session has none. Consumers remove themselves from the map when their
// processor terminates, so a session that went idle gets a fresh consumer
// on its next message.
func (s *Service) ensureConsumer(ctx context.Context, dbID int64, sessionID string) *sessionConsumer {
	s.mu.Lock()
	if c, ok := s.consumers[dbID]; ok {
		s.mu.Unlock()
		return c
	}
	cctx, cancel := context.WithCancel(ctx)
	c := &sessionConsumer{
		sessionDBID:  dbID,
		sessionID:    sessionID,
		wake:         make(chan struct{}, 1),
		cancel:       cancel,
		seenRead:     make(map[string]bool),
		seenModified: make(map[string]bool),
	}
	s.consumers[dbID] = c
	s.mu.Unlock()

	p, err := queue.NewProcessor(queue.ProcessorConfig{
		Store:       s.queue,
		SessionDBID: dbID,
		Wake:        c.wake,
		Handle: func(hctx context.Context, msg *queue.Message) {
			s.consume(hctx, c, msg)
		},
		OnIdleTimeout: func() {
			_ = s.events.Log(context.Background(), "session_idle_timeout", "queue", sessionID, nil)
		},
		IdleTimeout: s.cfg.IdleTimeout,
	})
	if err != nil {
		s.mu.Lock()
		delete(s.consumers, dbID)
		s.mu.Unlock()
		cancel()
		log.WithError(err).WithField("session_id", sessionID).Warn("build session consumer")
		return nil
	}

	log.WithFields(logrus.Fields{
		"session_id":    sessionID,
		"session_db_id": dbID,
	}).Info("session consumer started")

	go func() {
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.consumers, dbID)
			s.mu.Unlock()
		}()
		p.Run(cctx)
	}()
	return c
}

// consume handles one claimed queue item. Every path confirms the item;
// an unconfirmable item reverts to pending after the staleness threshold
// and the dedup gate absorbs the re-processing.
func (s *Service) consume(ctx context.Context, c *sessionConsumer, msg *queue.Message) {
	item, err := msg.Item()
	if err != nil {
		log.WithError(err).WithField("message_id", msg.ID).Warn("dropping corrupt queue payload")
		s.confirm(ctx, msg.ID)
		return
	}

	switch transcript.Action(item.Action) {
	case transcript.ActionUserMessage:
		c.prompt = &pendingPrompt{
			number: item.PromptNumber,
			text:   stringField(item.Fields, "text"),
		}
	case transcript.ActionToolUse:
		if path := toolPath(item.Fields); path != "" {
			c.addFileRead(path)
		}
	case transcript.ActionToolResult:
		// Results carry no file identity; the tool_use line already did.
	case transcript.ActionFileEdit:
		if path := stringField(item.Fields, "file_path", "path"); path != "" {
			c.addFileModified(path)
		}
	case transcript.ActionAssistantMessage:
		s.recordExchange(ctx, c, item)
	case transcript.ActionSessionEnd:
		s.finishSession(ctx, c)
		s.confirm(ctx, msg.ID)
		c.cancel()
		return
	}

	s.confirm(ctx, msg.ID)
}

// recordExchange stores one derived observation for a completed
// prompt/answer pair, folding in the file touches accumulated since the
// prompt. Assistant lines with no prompt on record are skipped; the first
// answer wins and later chunks of the same turn fall through here.
func (s *Service) recordExchange(ctx context.Context, c *sessionConsumer, item protocol.QueueItem) {
	if c.prompt == nil {
		return
	}

	project, err := s.sessionProject(ctx, c.sessionDBID)
	if err != nil {
		log.WithError(err).WithField("session_id", c.sessionID).Warn("session project lookup")
	}

	p := observe.Payload{
		Type:          "exchange",
		Title:         excerpt(c.prompt.text, titleLimit),
		Narrative:     stringField(item.Fields, "text"),
		FilesRead:     c.filesRead,
		FilesModified: c.filesModified,
	}
	ident, err := s.obs.Store(ctx, c.sessionID, project, p, observe.StoreOptions{
		PromptNumber:    c.prompt.number,
		DiscoveryTokens: intField(item.Fields, "output_tokens"),
	})
	if err != nil {
		log.WithError(err).WithField("session_id", c.sessionID).Warn("store derived observation")
		return
	}
	_ = s.events.Log(ctx, "observation_stored", "consumer", c.sessionID,
		map[string]any{"id": ident.ID, "prompt_number": c.prompt.number})

	c.resetExchange()
}

// finishSession stamps the session's end time. Aggregation state left on
// the consumer (an unanswered prompt, stray file touches) is dropped with
// the consumer itself.
func (s *Service) finishSession(ctx context.Context, c *sessionConsumer) {
	if err := s.endSession(ctx, c.sessionDBID); err != nil {
		log.WithError(err).WithField("session_id", c.sessionID).Warn("end session")
	}
	log.WithField("session_id", c.sessionID).Info("session ended")
	_ = s.events.Log(ctx, "session_ended", "consumer", c.sessionID, nil)
}

func (s *Service) confirm(ctx context.Context, id int64) {
	if err := s.queue.Confirm(ctx, id); err != nil {
		log.WithError(err).WithField("message_id", id).
			Warn("confirm failed, item re-processes after the staleness threshold")
	}
}

// stringField returns the first key that resolves to a non-empty scalar.
func stringField(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := fields[k]
		if !ok {
			continue
		}
		switch v.(type) {
		case map[string]any, []any:
			continue
		}
		if str := transcript.Stringify(v); str != "" {
			return str
		}
	}
	return ""
}

// intField returns the first key that resolves to an integral value.
func intField(fields map[string]any, keys ...string) int {
	return int(int64Field(fields, keys...))
}

func int64Field(fields map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := fields[k].(type) {
		case float64:
			return int64(v)
		case int:
			return int64(v)
		case int64:
			return v
		}
	}
	return 0
}

// listField reads a projected array of strings; a bare string counts as a
// one-element list.
func listField(fields map[string]any, key string) []string {
	switch v := fields[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str := transcript.Stringify(item); str != "" {
				out = append(out, str)
			}
		}
		return out
	case []string:
		return v
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}

// toolPath digs the touched file out of a tool_use projection: either a
// flat field or inside the tool's input object.
func toolPath(fields map[string]any) string {
	if path := stringField(fields, "file_path", "path"); path != "" {
		return path
	}
	if input, ok := fields["input"].(map[string]any); ok {
		return stringField(input, "file_path", "path")
	}
	return ""
}

// payloadFromFields maps a schema projection onto the observation shape.
// file_edit events become file_edit-typed observations titled by the path.
func payloadFromFields(action transcript.Action, fields map[string]any) observe.Payload {
	if action == transcript.ActionFileEdit {
		path := stringField(fields, "file_path", "path")
		return observe.Payload{
			Type:          "file_edit",
			Title:         path,
			Subtitle:      stringField(fields, "tool"),
			FilesModified: listField(fields, "file_path"),
		}
	}
	typ := stringField(fields, "type")
	if typ == "" {
		typ = "observation"
	}
	return observe.Payload{
		Type:          typ,
		Title:         stringField(fields, "title"),
		Subtitle:      stringField(fields, "subtitle"),
		Narrative:     stringField(fields, "narrative", "text", "content", "summary"),
		Facts:         listField(fields, "facts"),
		Concepts:      listField(fields, "concepts"),
		FilesRead:     listField(fields, "files_read"),
		FilesModified: listField(fields, "files_modified"),
	}
}

// excerpt returns the first line of text, truncated to limit runes.
func excerpt(text string, limit int) string {
	line := text
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	runes := []rune(line)
	if len(runes) <= limit {
		return line
	}
	return string(runes[:limit])
}

package protocol

// Event represents a row in the events SQLite table.
// Tracks watcher, queue, and session lifecycle events.
type Event struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Source    string `json:"source"`
	SessionID string `json:"session_id"`
	Payload   string `json:"payload"`
	CreatedAt string `json:"created_at"`
}

// Session represents a row in the sessions SQLite table.
// One row per observed agent session; PromptCounter numbers user prompts.
type Session struct {
	ID              int64  `json:"id"`
	MemorySessionID string `json:"memory_session_id"`
	Project         string `json:"project"`
	Cwd             string `json:"cwd"`
	StartedAtEpoch  int64  `json:"started_at_epoch"`
	EndedAtEpoch    int64  `json:"ended_at_epoch"`
	PromptCounter   int    `json:"prompt_counter"`
}

// Observation represents a row in the observations SQLite table.
// Facts, Concepts, FilesRead and FilesModified hold raw JSON array text.
type Observation struct {
	ID              int64  `json:"id"`
	MemorySessionID string `json:"memory_session_id"`
	Project         string `json:"project"`
	Type            string `json:"type"`
	Title           string `json:"title"`
	Subtitle        string `json:"subtitle"`
	Facts           string `json:"facts"`
	Narrative       string `json:"narrative"`
	Concepts        string `json:"concepts"`
	FilesRead       string `json:"files_read"`
	FilesModified   string `json:"files_modified"`
	PromptNumber    int64  `json:"prompt_number,omitempty"`
	DiscoveryTokens int64  `json:"discovery_tokens"`
	ContentHash     string `json:"content_hash"`
	CreatedAtEpoch  int64  `json:"created_at_epoch"`
}

// QueueItem is the public payload shape carried by pending_messages rows.
// Producers marshal it into the payload column; consumers unmarshal claimed
// rows back into it. Fields carries the projected schema fields verbatim.
// PromptNumber is set only on user_message items, stamped at enqueue time.
type QueueItem struct {
	Action          string         `json:"action"`
	Name            string         `json:"name,omitempty"`
	SessionID       string         `json:"session_id"`
	Target          string         `json:"target,omitempty"`
	PromptNumber    int            `json:"prompt_number,omitempty"`
	Fields          map[string]any `json:"fields,omitempty"`
	ReceivedAtEpoch int64          `json:"received_at_epoch"`
}

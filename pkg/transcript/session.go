package transcript

import (
	"regexp"

	"github.com/google/uuid"
)

// uuidPattern matches a UUID-shaped segment anywhere in a file path.
// Transcript files are conventionally named <session-uuid>.jsonl, and the
// path-embedded identity is more reliable than in-content fields.
var uuidPattern = regexp.MustCompile(
	`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// SessionIDFromPath returns the first UUID-shaped segment of a file path,
// or "" when the path carries none.
func SessionIDFromPath(path string) string {
	return uuidPattern.FindString(path)
}

// NewSessionID synthesizes a session identifier for transcripts that carry
// none, neither in the path nor in content.
func NewSessionID() string {
	return uuid.NewString()
}

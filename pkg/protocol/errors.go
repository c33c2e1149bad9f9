package protocol

import "fmt"

// SchemaNotFoundError reports a watch target referencing a schema that is not
// present in the loaded schema set. It enables typed discrimination via
// errors.As so callers can skip the target instead of failing startup.
type SchemaNotFoundError struct {
	Target string
	Schema string
}

func (e *SchemaNotFoundError) Error() string {
	return fmt.Sprintf("target %s references unknown schema %q", e.Target, e.Schema)
}

// SessionNotFoundError reports a lookup for a session row that does not exist.
type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session %s not found", e.SessionID)
}

// ObservationNotFoundError reports a lookup for an observation row that does
// not exist.
type ObservationNotFoundError struct {
	ID int64
}

func (e *ObservationNotFoundError) Error() string {
	return fmt.Sprintf("observation %d not found", e.ID)
}

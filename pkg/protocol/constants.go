package protocol

// Directory and file name constants used throughout chronicle.
const (
	// ChronicleDir is the user-level state directory (e.g., ~/.chronicle).
	ChronicleDir = ".chronicle"

	// DBFile is the SQLite database file name inside ChronicleDir.
	DBFile = "chronicle.db"

	// PIDFile is the daemon PID file name inside ChronicleDir.
	PIDFile = "chronicle.pid"

	// SocketFile is the daemon control socket name inside ChronicleDir.
	SocketFile = "chronicle.sock"

	// WatchStateFile is the persisted tail-offset file name inside ChronicleDir.
	WatchStateFile = "watch_state.json"

	// ConfigFile is the daemon configuration file name inside ChronicleDir.
	ConfigFile = "config.toml"

	// SchemasDir is the directory of transcript schema files inside ChronicleDir.
	SchemasDir = "schemas"

	// LogFile is the daemon log file name inside ChronicleDir.
	LogFile = "chronicle.log"
)

// Queue item status values for pending_messages rows.
const (
	// StatusPending marks a queued item available for claiming.
	StatusPending = "pending"

	// StatusProcessing marks a claimed item awaiting confirmation.
	StatusProcessing = "processing"
)

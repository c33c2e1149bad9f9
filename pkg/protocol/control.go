package protocol

// ControlOp is an operation accepted on the daemon control socket.
type ControlOp string

const (
	// OpPing checks daemon liveness.
	OpPing ControlOp = "ping"

	// OpStatus requests a pipeline status snapshot.
	OpStatus ControlOp = "status"
)

// Valid reports whether op is one of the known control operations.
func (op ControlOp) Valid() bool {
	switch op {
	case OpPing, OpStatus:
		return true
	default:
		return false
	}
}

// ControlRequest is one line-delimited JSON request sent to the control
// socket. Connections are short-lived: one request, one reply.
type ControlRequest struct {
	Op   string `json:"op"`
	Args string `json:"args,omitempty"`
}

// ControlReply is the line-delimited JSON response to a ControlRequest.
// Status is populated only for the status op.
type ControlReply struct {
	OK     bool            `json:"ok"`
	Detail string          `json:"detail,omitempty"`
	Status *PipelineStatus `json:"status,omitempty"`
}

// PipelineStatus is the live daemon snapshot served over the control socket.
type PipelineStatus struct {
	PID            int      `json:"pid"`
	Version        string   `json:"version"`
	StartedAtEpoch int64    `json:"started_at_epoch"`
	UptimeSeconds  int64    `json:"uptime_seconds"`
	Tailing        []string `json:"tailing"`
	ActiveSessions int      `json:"active_sessions"`
	QueueDepth     int      `json:"queue_depth"`
	Sessions       int      `json:"sessions"`
	Observations   int      `json:"observations"`
}

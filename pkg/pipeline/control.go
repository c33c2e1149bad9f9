package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"

	"chronicle/internal/version"
	"chronicle/pkg/protocol"
)

// acceptLoop serves control connections until the listener closes or ctx
// is cancelled.
func (s *Service) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			log.WithError(err).Warn("control accept")
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

// handleConn reads newline-delimited JSON requests and answers each with
// one reply line. Connections are short-lived; the CLI sends a single
// request and hangs up.
func (s *Service) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var req protocol.ControlRequest
		if err := json.Unmarshal(line, &req); err != nil {
			writeReply(conn, protocol.ControlReply{OK: false, Detail: "bad request"})
			continue
		}
		writeReply(conn, s.handleRequest(ctx, req))
	}
}

func (s *Service) handleRequest(ctx context.Context, req protocol.ControlRequest) protocol.ControlReply {
	switch protocol.ControlOp(req.Op) {
	case protocol.OpPing:
		return protocol.ControlReply{OK: true, Detail: "pong"}
	case protocol.OpStatus:
		return protocol.ControlReply{OK: true, Status: s.Status(ctx)}
	default:
		return protocol.ControlReply{OK: false, Detail: fmt.Sprintf("unknown op %q", req.Op)}
	}
}

func writeReply(conn net.Conn, reply protocol.ControlReply) {
	data, err := json.Marshal(reply)
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = conn.Write(data)
}

// Status snapshots the running pipeline. Count queries that fail leave
// their fields zero; status must answer even when the database is wedged.
func (s *Service) Status(ctx context.Context) *protocol.PipelineStatus {
	s.mu.Lock()
	startedAt := s.startedAt
	active := len(s.consumers)
	w := s.watcher
	s.mu.Unlock()

	st := &protocol.PipelineStatus{
		PID:            os.Getpid(),
		Version:        version.String(),
		ActiveSessions: active,
	}
	if !startedAt.IsZero() {
		st.StartedAtEpoch = startedAt.UnixMilli()
		st.UptimeSeconds = int64(s.nowFunc().Sub(startedAt).Seconds())
	}
	if w != nil {
		st.Tailing = w.Tailing()
	}
	if n, err := s.queue.TotalDepth(ctx); err == nil {
		st.QueueDepth = n
	}
	var sessions int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&sessions); err == nil {
		st.Sessions = sessions
	}
	var observations int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM observations`).Scan(&observations); err == nil {
		st.Observations = observations
	}
	return st
}

// RequestStatus asks a running daemon for its status over the control
// socket.
func RequestStatus(ctx context.Context, socketPath string) (*protocol.PipelineStatus, error) {
	reply, err := roundTrip(ctx, socketPath, protocol.ControlRequest{Op: string(protocol.OpStatus)})
	if err != nil {
		return nil, err
	}
	if reply.Status == nil {
		return nil, errors.New("daemon returned no status")
	}
	return reply.Status, nil
}

// Ping checks that a daemon is answering on the control socket.
func Ping(ctx context.Context, socketPath string) error {
	_, err := roundTrip(ctx, socketPath, protocol.ControlRequest{Op: string(protocol.OpPing)})
	return err
}

// roundTrip sends one control request and reads one reply line.
func roundTrip(ctx context.Context, socketPath string, req protocol.ControlRequest) (*protocol.ControlReply, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	defer conn.Close()

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode control request: %w", err)
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return nil, fmt.Errorf("send control request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read control reply: %w", err)
		}
		return nil, errors.New("no reply from daemon")
	}
	var reply protocol.ControlReply
	if err := json.Unmarshal(scanner.Bytes(), &reply); err != nil {
		return nil, fmt.Errorf("decode control reply: %w", err)
	}
	if !reply.OK {
		return nil, fmt.Errorf("control request failed: %s", reply.Detail)
	}
	return &reply, nil
}

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPIDFileRoundTrip(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "chronicle.pid")

	if err := WritePIDFile(pidPath, 12345); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}

	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		t.Fatalf("ReadPIDFile: %v", err)
	}
	if pid != 12345 {
		t.Errorf("pid = %d, want 12345", pid)
	}

	info, err := os.Stat(pidPath)
	if err != nil {
		t.Fatalf("stat PID file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("PID file mode = %o, want 600", perm)
	}
}

func TestReadPIDFile_Garbage(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "chronicle.pid")
	if err := os.WriteFile(pidPath, []byte("not a number\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := ReadPIDFile(pidPath); err == nil {
		t.Fatal("expected error for non-numeric PID file")
	}
}

func TestReadPIDFile_TrimsWhitespace(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "chronicle.pid")
	if err := os.WriteFile(pidPath, []byte("  4242\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		t.Fatalf("ReadPIDFile: %v", err)
	}
	if pid != 4242 {
		t.Errorf("pid = %d, want 4242", pid)
	}
}

func TestRemovePIDFile_Idempotent(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "chronicle.pid")

	if err := WritePIDFile(pidPath, 1); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}
	if err := RemovePIDFile(pidPath); err != nil {
		t.Fatalf("first remove: %v", err)
	}
	if err := RemovePIDFile(pidPath); err != nil {
		t.Fatalf("second remove should be a no-op: %v", err)
	}
}

func TestIsProcessAlive(t *testing.T) {
	if !IsProcessAlive(os.Getpid()) {
		t.Error("expected current process to be alive")
	}
	// PID beyond the default pid_max is never allocated.
	if IsProcessAlive(1 << 22) {
		t.Error("expected absurd PID to be dead")
	}
}

func TestDaemonStatus(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "chronicle.pid")

	status, pid, err := DaemonStatus(pidPath)
	if err != nil {
		t.Fatalf("DaemonStatus: %v", err)
	}
	if status != StatusStopped || pid != 0 {
		t.Errorf("status = %s pid = %d, want stopped/0", status, pid)
	}

	// Current process: running.
	if err := WritePIDFile(pidPath, os.Getpid()); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}
	status, pid, err = DaemonStatus(pidPath)
	if err != nil {
		t.Fatalf("DaemonStatus: %v", err)
	}
	if status != StatusRunning || pid != os.Getpid() {
		t.Errorf("status = %s pid = %d, want running/%d", status, pid, os.Getpid())
	}

	// Dead process: stale.
	if err := WritePIDFile(pidPath, 1<<22); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}
	status, _, err = DaemonStatus(pidPath)
	if err != nil {
		t.Fatalf("DaemonStatus: %v", err)
	}
	if status != StatusStale {
		t.Errorf("status = %s, want stale", status)
	}
}

func TestSetupSignalHandler_CleanupRemovesPIDFile(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "chronicle.pid")
	if err := WritePIDFile(pidPath, os.Getpid()); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}

	ctx, cleanup := SetupSignalHandler(context.Background(), pidPath)
	cleanup()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("expected context cancelled after cleanup")
	}

	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Errorf("expected PID file removed, stat err = %v", err)
	}
}

func TestSetupSignalHandler_ParentCancelPropagates(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "chronicle.pid")
	parent, cancel := context.WithCancel(context.Background())

	ctx, cleanup := SetupSignalHandler(parent, pidPath)
	defer cleanup()

	cancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("expected shutdown context to follow parent cancellation")
	}
}

package queue_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chronicle/pkg/protocol"
	"chronicle/pkg/queue"
)

// waitFor polls condition until it returns true or the timeout elapses.
func waitFor(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// stubStore scripts ClaimNext responses: the first errs calls fail, then
// messages drain in order, then nil.
type stubStore struct {
	mu    sync.Mutex
	calls []time.Time
	queue []*queue.Message
	errs  int
}

func (s *stubStore) ClaimNext(ctx context.Context, sessionDBID int64) (*queue.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, time.Now())
	if s.errs > 0 {
		s.errs--
		return nil, errors.New("database is sulking")
	}
	if len(s.queue) == 0 {
		return nil, nil
	}
	msg := s.queue[0]
	s.queue = s.queue[1:]
	return msg, nil
}

func (s *stubStore) callTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Time, len(s.calls))
	copy(out, s.calls)
	return out
}

func TestNewProcessorValidates(t *testing.T) {
	t.Parallel()

	wake := make(chan struct{}, 1)
	handle := func(context.Context, *queue.Message) {}

	cases := []struct {
		name    string
		cfg     queue.ProcessorConfig
		wantErr bool
	}{
		{"missing store", queue.ProcessorConfig{Wake: wake, Handle: handle}, true},
		{"missing wake", queue.ProcessorConfig{Store: &stubStore{}, Handle: handle}, true},
		{"missing handler", queue.ProcessorConfig{Store: &stubStore{}, Wake: wake}, true},
		{"complete", queue.ProcessorConfig{Store: &stubStore{}, Wake: wake, Handle: handle}, false},
	}
	for _, tc := range cases {
		_, err := queue.NewProcessor(tc.cfg)
		if tc.wantErr && err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
		}
	}
}

// TestProcessorDrainsInOrder wires the processor to the real SQLite store:
// pre-enqueued items drain immediately, a later enqueue is picked up on the
// wake signal, and every handled item is confirmed away.
func TestProcessorDrainsInOrder(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	store := queue.NewStore(db)
	sid := newTestSession(t, db, "s-drain")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	for _, action := range []string{"user_message", "tool_use", "assistant_message"} {
		if _, err := store.Enqueue(ctx, sid, protocol.QueueItem{Action: action, SessionID: "s-drain"}); err != nil {
			t.Fatalf("enqueue %s: %v", action, err)
		}
	}

	var (
		mu      sync.Mutex
		handled []string
	)
	wake := make(chan struct{}, 1)
	p, err := queue.NewProcessor(queue.ProcessorConfig{
		Store:       store,
		SessionDBID: sid,
		Wake:        wake,
		Handle: func(ctx context.Context, msg *queue.Message) {
			item, err := msg.Item()
			if err != nil {
				t.Errorf("item: %v", err)
				return
			}
			mu.Lock()
			handled = append(handled, item.Action)
			mu.Unlock()
			if err := store.Confirm(ctx, msg.ID); err != nil {
				t.Errorf("confirm: %v", err)
			}
		},
	})
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 3
	}, 2*time.Second)

	// A post-drain enqueue reaches the sleeping consumer via the wake.
	if _, err := store.Enqueue(ctx, sid, protocol.QueueItem{Action: "session_end", SessionID: "s-drain"}); err != nil {
		t.Fatalf("enqueue after drain: %v", err)
	}
	queue.Wake(wake)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 4
	}, 2*time.Second)

	mu.Lock()
	got := append([]string(nil), handled...)
	mu.Unlock()
	want := []string{"user_message", "tool_use", "assistant_message", "session_end"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("handled order = %v, want %v", got, want)
		}
	}

	depth, err := store.TotalDepth(ctx)
	if err != nil {
		t.Fatalf("total depth: %v", err)
	}
	if depth != 0 {
		t.Errorf("total depth = %d after drain, want 0", depth)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not stop on cancellation")
	}
}

// TestProcessorIdleTimeoutFiresExactlyOnce starves the consumer: the idle
// callback must run once and the loop must terminate.
func TestProcessorIdleTimeoutFiresExactlyOnce(t *testing.T) {
	t.Parallel()

	var idleCalls atomic.Int32
	wake := make(chan struct{}, 1)
	p, err := queue.NewProcessor(queue.ProcessorConfig{
		Store:         &stubStore{},
		Wake:          wake,
		Handle:        func(context.Context, *queue.Message) {},
		OnIdleTimeout: func() { idleCalls.Add(1) },
		IdleTimeout:   100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	start := time.Now()
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not terminate on idle timeout")
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("terminated after %v, want at least the 100ms idle timeout", elapsed)
	}

	time.Sleep(50 * time.Millisecond)
	if n := idleCalls.Load(); n != 1 {
		t.Errorf("idle callback ran %d times, want exactly 1", n)
	}
}

// TestProcessorLateActivityResetsIdleWindow claims an item partway through
// the idle window. The timer fire that follows is spurious (idle time
// restarted at the claim), so the consumer survives one extra window and
// the callback still runs exactly once.
func TestProcessorLateActivityResetsIdleWindow(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	store := queue.NewStore(db)
	sid := newTestSession(t, db, "s-revive")
	ctx := context.Background()

	var (
		idleCalls atomic.Int32
		handled   atomic.Int32
	)
	wake := make(chan struct{}, 1)
	p, err := queue.NewProcessor(queue.ProcessorConfig{
		Store:       store,
		SessionDBID: sid,
		Wake:        wake,
		Handle: func(ctx context.Context, msg *queue.Message) {
			handled.Add(1)
			if err := store.Confirm(ctx, msg.ID); err != nil {
				t.Errorf("confirm: %v", err)
			}
		},
		OnIdleTimeout: func() { idleCalls.Add(1) },
		IdleTimeout:   500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	start := time.Now()
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	// Activity lands at 150ms, well inside the 500ms window.
	time.Sleep(150 * time.Millisecond)
	if _, err := store.Enqueue(ctx, sid, protocol.QueueItem{Action: "user_message", SessionID: "s-revive"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	queue.Wake(wake)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("processor did not terminate")
	}

	// Without the spurious-fire reset the loop would die at ~500ms. The
	// claim at 150ms pushes the real deadline to the second fire.
	if elapsed := time.Since(start); elapsed < 700*time.Millisecond {
		t.Errorf("terminated after %v, want the reset to carry past 700ms", elapsed)
	}
	if n := handled.Load(); n != 1 {
		t.Errorf("handled %d items, want 1", n)
	}
	if n := idleCalls.Load(); n != 1 {
		t.Errorf("idle callback ran %d times, want exactly 1", n)
	}
}

// TestProcessorClaimErrorBacksOff verifies the fixed 1-second pause after
// a store error, and that the loop keeps going afterwards.
func TestProcessorClaimErrorBacksOff(t *testing.T) {
	t.Parallel()

	stub := &stubStore{
		errs: 1,
		queue: []*queue.Message{
			{ID: 7, Status: protocol.StatusProcessing, Payload: `{"action":"user_message","session_id":"s-err"}`},
		},
	}

	var handled atomic.Int32
	wake := make(chan struct{}, 1)
	p, err := queue.NewProcessor(queue.ProcessorConfig{
		Store:       stub,
		Wake:        wake,
		Handle:      func(context.Context, *queue.Message) { handled.Add(1) },
		IdleTimeout: time.Minute,
	})
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	waitFor(t, func() bool { return handled.Load() == 1 }, 5*time.Second)

	calls := stub.callTimes()
	if len(calls) < 2 {
		t.Fatalf("store called %d times, want at least 2", len(calls))
	}
	if gap := calls[1].Sub(calls[0]); gap < 900*time.Millisecond {
		t.Errorf("retry after %v, want ~1s backoff", gap)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not stop on cancellation")
	}
}

// TestProcessorCancelInterruptsBackoff cancels while the loop sleeps off a
// store error: Run must return well before the backoff elapses.
func TestProcessorCancelInterruptsBackoff(t *testing.T) {
	t.Parallel()

	var idleCalls atomic.Int32
	stub := &stubStore{errs: 1 << 20}
	wake := make(chan struct{}, 1)
	p, err := queue.NewProcessor(queue.ProcessorConfig{
		Store:         stub,
		Wake:          wake,
		Handle:        func(context.Context, *queue.Message) {},
		OnIdleTimeout: func() { idleCalls.Add(1) },
	})
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	waitFor(t, func() bool { return len(stub.callTimes()) >= 1 }, 2*time.Second)
	cancelled := time.Now()
	cancel()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("cancellation did not interrupt the error backoff")
	}
	if wait := time.Since(cancelled); wait > 400*time.Millisecond {
		t.Errorf("returned %v after cancel, want prompt exit", wait)
	}
	if idleCalls.Load() != 0 {
		t.Error("idle callback ran on cancellation")
	}
}

// TestProcessorCancelWhileWaitingIsSilent cancels a consumer sleeping on
// its wake channel: it exits without invoking the idle callback.
func TestProcessorCancelWhileWaitingIsSilent(t *testing.T) {
	t.Parallel()

	var idleCalls atomic.Int32
	stub := &stubStore{}
	wake := make(chan struct{}, 1)
	p, err := queue.NewProcessor(queue.ProcessorConfig{
		Store:         stub,
		Wake:          wake,
		Handle:        func(context.Context, *queue.Message) {},
		OnIdleTimeout: func() { idleCalls.Add(1) },
		IdleTimeout:   time.Hour,
	})
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	// One nil claim means the loop has reached its wait.
	waitFor(t, func() bool { return len(stub.callTimes()) >= 1 }, time.Second)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not stop on cancellation")
	}
	if idleCalls.Load() != 0 {
		t.Error("idle callback ran on cancellation")
	}
}

func TestWakeNeverBlocks(t *testing.T) {
	t.Parallel()

	ch := make(chan struct{}, 1)
	queue.Wake(ch)
	queue.Wake(ch)
	queue.Wake(ch)
	if len(ch) != 1 {
		t.Errorf("wake channel holds %d signals, want 1", len(ch))
	}
}

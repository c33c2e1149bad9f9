package queue

import (
	"context"
	"errors"
	"time"

	"chronicle/internal/logging"
)

var log = logging.NewLogger("queue")

const (
	// DefaultIdleTimeout terminates a session consumer after this long
	// without a successful claim.
	DefaultIdleTimeout = 3 * time.Minute

	// claimBackoff spaces retries after a store error so a persistently
	// failing store is not hammered in a tight loop.
	claimBackoff = 1 * time.Second
)

// MessageStore is the claim contract the processor drains from.
type MessageStore interface {
	ClaimNext(ctx context.Context, sessionDBID int64) (*Message, error)
}

// HandlerFunc receives each claimed message. The handler owns
// confirmation: an item it never confirms stays processing until the
// staleness threshold reverts it to pending.
type HandlerFunc func(ctx context.Context, msg *Message)

// ProcessorConfig configures a session queue processor.
type ProcessorConfig struct {
	Store       MessageStore
	SessionDBID int64

	// Wake is signalled by producers after a durable enqueue. Allocate it
	// buffered (capacity 1 is enough) and raise it with Wake so producers
	// never block.
	Wake <-chan struct{}

	// Handle is invoked for every claimed item, in claim order.
	Handle HandlerFunc

	// OnIdleTimeout runs exactly once if the consumer goes IdleTimeout
	// without a successful claim; the processor terminates right after.
	OnIdleTimeout func()

	// IdleTimeout overrides DefaultIdleTimeout when positive.
	IdleTimeout time.Duration
}

// Processor drains one session's queue: it claims pending items and yields
// them to the configured handler, sleeping on the wake channel between
// bursts. Run terminates on context cancellation or after the idle
// timeout elapses with nothing claimed.
type Processor struct {
	store       MessageStore
	sessionDBID int64
	wake        <-chan struct{}
	handle      HandlerFunc
	onIdle      func()
	idleTimeout time.Duration
	nowFunc     func() time.Time
}

// NewProcessor validates cfg and creates a Processor.
func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.Store == nil {
		return nil, errors.New("queue: processor requires a store")
	}
	if cfg.Wake == nil {
		return nil, errors.New("queue: processor requires a wake channel")
	}
	if cfg.Handle == nil {
		return nil, errors.New("queue: processor requires a handler")
	}
	timeout := cfg.IdleTimeout
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	return &Processor{
		store:       cfg.Store,
		sessionDBID: cfg.SessionDBID,
		wake:        cfg.Wake,
		handle:      cfg.Handle,
		onIdle:      cfg.OnIdleTimeout,
		idleTimeout: timeout,
		nowFunc:     time.Now,
	}, nil
}

// Run drains the session queue until ctx is cancelled or the idle timeout
// fires. Cancellation is silent. The idle timer is armed once and checked
// against the time of the last successful claim when it fires: a fire
// before the threshold has truly elapsed re-arms instead of terminating,
// so a burst of claims just before the deadline never kills the consumer.
func (p *Processor) Run(ctx context.Context) {
	lastClaim := p.nowFunc()
	timer := time.NewTimer(p.idleTimeout)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		msg, err := p.store.ClaimNext(ctx, p.sessionDBID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).WithField("session_db_id", p.sessionDBID).Warn("claim failed, backing off")
			if !sleepCtx(ctx, claimBackoff) {
				return
			}
			continue
		}

		if msg != nil {
			lastClaim = p.nowFunc()
			p.handle(ctx, msg)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-p.wake:
			// Something was enqueued after our last claim attempt.
		case <-timer.C:
			idle := p.nowFunc().Sub(lastClaim)
			if idle >= p.idleTimeout {
				log.WithField("session_db_id", p.sessionDBID).Info("session idle timeout")
				if p.onIdle != nil {
					p.onIdle()
				}
				return
			}
			lastClaim = p.nowFunc()
			timer.Reset(p.idleTimeout)
		}
	}
}

// Wake raises a message-available signal without blocking. A buffered
// channel holds at most one pending signal; that is enough because the
// consumer re-checks the store after every wake.
func Wake(ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// sleepCtx sleeps for d unless ctx is cancelled first. It reports whether
// the full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

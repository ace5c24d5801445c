package connector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/HerbHall/tvremote/pkg/models"
	"go.uber.org/zap"
)

const outboxSize = 32

// outcome is the resolved result of one handshake.
type outcome struct {
	ok     bool
	reason string
	err    error
}

func cancelled() outcome { return outcome{reason: "Cancelled", err: ErrCancelled} }

func failure(reason string) outcome { return outcome{reason: reason} }

// command is one queued outbound send.
type command struct {
	name string
	send func(ctx context.Context) error
}

// transportError marks a send failure that ends the session.
type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func fatal(err error) error {
	if err == nil {
		return nil
	}
	return &transportError{err: err}
}

// attempt is one connect cycle: its context, result cell, outbound queue
// and the transports to release when it ends.
type attempt struct {
	ctx    context.Context
	cancel context.CancelFunc
	result *Cell[outcome]
	out    chan command

	settled    chan struct{}
	settleOnce sync.Once

	mu        sync.Mutex
	closers   []func()
	closeOnce sync.Once
}

func newAttempt() *attempt {
	ctx, cancel := context.WithCancel(context.Background())
	return &attempt{
		ctx:     ctx,
		cancel:  cancel,
		result:  NewCell[outcome](),
		out:     make(chan command, outboxSize),
		settled: make(chan struct{}),
	}
}

// onClose registers fn to run when the attempt ends. If it already ended,
// fn runs immediately.
func (a *attempt) onClose(fn func()) {
	a.mu.Lock()
	if a.ctx.Err() == nil {
		a.closers = append(a.closers, fn)
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()
	fn()
}

func (a *attempt) close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.cancel()
		fns := a.closers
		a.closers = nil
		a.mu.Unlock()

		a.result.Resolve(cancelled())
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
		a.settle()
	})
}

func (a *attempt) settle() {
	a.settleOnce.Do(func() { close(a.settled) })
}

// base carries the state machine shared by every brand connector.
type base struct {
	platform models.Platform
	cfg      Config
	logger   *zap.Logger

	notifyMu sync.Mutex // serializes transitions with their delivery
	mu       sync.Mutex
	state    models.ConnectorState
	listener func(models.ConnectorState)
	cur      *attempt
}

func (b *base) init(p models.Platform, cfg Config, logger *zap.Logger) {
	b.platform = p
	b.cfg = cfg
	b.logger = logger.Named("connector").With(zap.String("platform", string(p)))
	b.state = models.Idle()
}

func (b *base) Platform() models.Platform { return b.platform }

func (b *base) State() models.ConnectorState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *base) OnStateChange(fn func(models.ConnectorState)) {
	b.mu.Lock()
	b.listener = fn
	b.mu.Unlock()
}

func (b *base) SupportsPIN() bool { return false }

func (b *base) SubmitPIN(context.Context, string) bool { return false }

// begin abandons any previous attempt and starts a new one in connecting(step).
func (b *base) begin(step string) *attempt {
	a := newAttempt()

	b.notifyMu.Lock()
	b.mu.Lock()
	prev := b.cur
	b.cur = a
	b.state = models.Connecting(step)
	l := b.listener
	b.mu.Unlock()
	if l != nil {
		l(models.Connecting(step))
	}
	b.notifyMu.Unlock()

	if prev != nil {
		prev.close()
	}
	return a
}

// current returns the live attempt, or nil.
func (b *base) current() *attempt {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cur
}

// transition moves to s if a is still the live attempt and has not ended.
func (b *base) transition(a *attempt, s models.ConnectorState) bool {
	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()

	b.mu.Lock()
	if b.cur != a || a.ctx.Err() != nil {
		b.mu.Unlock()
		return false
	}
	b.state = s
	l := b.listener
	b.mu.Unlock()

	b.logger.Debug("connector state", zap.Stringer("state", s))
	if l != nil {
		l(s)
	}
	return true
}

// reset returns to idle and releases a. With a == nil it resets whatever
// attempt is live. Resetting an idle connector emits nothing.
func (b *base) reset(a *attempt) {
	b.notifyMu.Lock()
	b.mu.Lock()
	if a != nil && b.cur != a {
		b.mu.Unlock()
		b.notifyMu.Unlock()
		return
	}
	live := b.cur
	b.cur = nil
	changed := b.state.Kind != models.StateIdle
	b.state = models.Idle()
	l := b.listener
	b.mu.Unlock()
	if changed && l != nil {
		l(models.Idle())
	}
	b.notifyMu.Unlock()

	if live != nil {
		live.close()
	}
}

func (b *base) Disconnect() {
	b.reset(nil)
}

func (b *base) CancelPairing() {
	s := b.State()
	if s.IsPending() || s.IsConnecting() {
		b.logger.Info("pairing cancelled")
		b.reset(nil)
	}
}

// await blocks until a resolves, timeout elapses or ctx ends. A timeout
// resolves a with timeoutReason; ctx ending resets the connector.
func (b *base) await(ctx context.Context, a *attempt, timeout time.Duration, timeoutReason string) outcome {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-a.result.Done():
	case <-timer.C:
		a.result.Resolve(failure(timeoutReason))
	case <-ctx.Done():
		b.reset(a)
	}
	o, _ := a.result.Value()
	return o
}

// finish applies a handshake outcome: connected plus the outbound sender on
// success, failed(reason) otherwise. Cancellation leaves the state to
// whoever cancelled.
func (b *base) finish(a *attempt, o outcome) bool {
	defer a.settle()

	if !o.ok {
		if !errors.Is(o.err, ErrCancelled) {
			b.transition(a, models.Failed(o.reason))
			b.logger.Info("connect failed", zap.String("reason", o.reason))
			a.close()
		}
		return false
	}
	if !b.transition(a, models.Connected()) {
		return false
	}
	b.logger.Info("connected")
	go b.runOutbox(a)
	return true
}

// lost marks an established session as failed.
func (b *base) lost(a *attempt, reason string) {
	if b.transition(a, models.Failed(reason)) {
		b.logger.Warn("connection lost", zap.String("reason", reason))
	}
	a.close()
}

// enqueue queues a send if connected. It never blocks.
func (b *base) enqueue(name string, send func(ctx context.Context) error) bool {
	b.mu.Lock()
	a := b.cur
	connected := b.state.Kind == models.StateConnected
	b.mu.Unlock()
	if a == nil || !connected {
		return false
	}

	select {
	case a.out <- command{name: name, send: send}:
		return true
	default:
		b.logger.Warn("command dropped, outbox full", zap.String("command", name))
		return false
	}
}

func (b *base) runOutbox(a *attempt) {
	for {
		select {
		case <-a.ctx.Done():
			return
		case c := <-a.out:
			ctx, cancel := context.WithTimeout(a.ctx, b.cfg.DialTimeout)
			err := c.send(ctx)
			cancel()
			if err == nil {
				continue
			}
			var te *transportError
			if errors.As(err, &te) && a.ctx.Err() == nil {
				b.lost(a, "Connection lost")
				return
			}
			b.logger.Debug("command failed", zap.String("command", c.name), zap.Error(err))
		}
	}
}

// keepAlive pings on PingInterval until a ends; a failed ping loses the session.
func (b *base) keepAlive(a *attempt, ping func(ctx context.Context) error) {
	if b.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(b.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(a.ctx, b.cfg.DialTimeout)
			err := ping(ctx)
			cancel()
			if err != nil && a.ctx.Err() == nil {
				b.lost(a, "Connection lost")
				return
			}
		}
	}
}

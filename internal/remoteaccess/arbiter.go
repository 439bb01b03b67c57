package remoteaccess

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/tankwatch/internal/bridges/opcua"
	"github.com/nerrad567/tankwatch/internal/infrastructure/metrics"
)

// defaultAckTimeout bounds the acknowledgement write issued from a status
// notification, which has no caller context.
const defaultAckTimeout = 15 * time.Second

// Logger is the logging interface used by the arbiter.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// SessionRunner lends a tank's session. supervisor.Supervisor satisfies it.
type SessionRunner interface {
	WithSession(ctx context.Context, tankID string, fn func(opcua.Session) error) error
}

// Notifier receives the outcome of remote-access requests.
type Notifier interface {
	RemoteAccessGranted(tankID string, granted bool)
	RemoteAccessFinished(tankID string)
}

// entry is the arbitration state of one tank. sub is non-nil only while
// state is Requested or Granted. resetPending records that the controller
// may still be latched because no reset reached it.
type entry struct {
	mu           sync.Mutex
	state        State
	sub          opcua.Subscription
	token        uint64
	settling     bool
	resetPending bool
}

// Arbiter runs the remote-access state machine of every tank.
type Arbiter struct {
	sessions   SessionRunner
	notifier   Notifier
	metrics    *metrics.Metrics
	logger     Logger
	ackTimeout time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	pending sync.WaitGroup
}

// New creates an arbiter borrowing sessions from sessions.
func New(sessions SessionRunner) *Arbiter {
	return &Arbiter{
		sessions:   sessions,
		logger:     noopLogger{},
		ackTimeout: defaultAckTimeout,
		entries:    make(map[string]*entry),
	}
}

// SetNotifier sets the receiver of grant and finish events.
func (a *Arbiter) SetNotifier(n Notifier) { a.notifier = n }

// SetMetrics sets the metrics sink.
func (a *Arbiter) SetMetrics(m *metrics.Metrics) { a.metrics = m }

// SetLogger sets the logger.
func (a *Arbiter) SetLogger(logger Logger) { a.logger = logger }

func (a *Arbiter) entry(tankID string) *entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[tankID]
	if !ok {
		e = &entry{}
		a.entries[tankID] = e
	}
	return e
}

// State returns the arbitration state of a tank. Unknown tanks are Idle.
func (a *Arbiter) State(tankID string) State {
	a.mu.Lock()
	e, ok := a.entries[tankID]
	a.mu.Unlock()
	if !ok {
		return StateIdle
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Request asks the controller for remote access and starts monitoring its
// status point.
func (a *Arbiter) Request(ctx context.Context, tankID string) error {
	e := a.entry(tankID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sub != nil {
		return fmt.Errorf("%w: %s is %s", ErrSessionActive, tankID, e.state)
	}

	e.token++
	token := e.token
	handler := func(v opcua.Variant) { a.onStatus(tankID, e, token, v) }

	var sub opcua.Subscription
	released := false
	err := a.sessions.WithSession(ctx, tankID, func(s opcua.Session) error {
		if e.resetPending {
			if err := s.Write(ctx, opcua.RemoteAccessStatusNode, opcua.SByte(statusReset)); err != nil {
				return fmt.Errorf("releasing previous session: %w", err)
			}
			released = true
		}
		if err := s.Write(ctx, opcua.RemoteAccessRequestNode, opcua.Bool(true)); err != nil {
			return fmt.Errorf("%w: %w", ErrRequestRejected, err)
		}
		var err error
		sub, err = s.Subscribe(ctx, opcua.RemoteAccessStatusNode, opcua.DefaultSubscriptionParams, handler)
		if err != nil {
			// Release the request latch; nobody will acknowledge it.
			if werr := s.Write(ctx, opcua.RemoteAccessStatusNode, opcua.SByte(statusReset)); werr != nil {
				a.logger.Warn("resetting unmonitored request", "tank_id", tankID, "error", werr)
			}
			return fmt.Errorf("subscribing to access status: %w", err)
		}
		return nil
	})
	if released {
		e.resetPending = false
	}
	if err != nil {
		if sub != nil {
			sub.Cancel(context.Background()) //nolint:errcheck // session already gone
		}
		e.token++
		a.logger.Warn("remote access request failed", "tank_id", tankID, "error", err)
		return err
	}

	e.sub = sub
	a.transition(tankID, e, StateRequested)
	return nil
}

// onStatus handles one status notification. Notifications from a
// subscription that has since been replaced are dropped.
func (a *Arbiter) onStatus(tankID string, e *entry, token uint64, v opcua.Variant) {
	code, err := v.Int()
	if err != nil {
		a.logger.Warn("unreadable access status", "tank_id", tankID, "value", v.Value, "error", err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.token != token || e.sub == nil {
		a.logger.Debug("stale access status dropped", "tank_id", tankID, "status", code)
		return
	}
	if e.settling {
		a.logger.Debug("access status ignored while settling", "tank_id", tankID, "status", code)
		return
	}

	switch code {
	case int64(statusGranted):
		if e.state != StateRequested {
			a.logger.Debug("grant ignored", "tank_id", tankID, "state", e.state.String())
			return
		}
		a.transition(tankID, e, StateGranted)
		if a.notifier != nil {
			a.notifier.RemoteAccessGranted(tankID, true)
		}

	case int64(statusDenied):
		a.settle(tankID, e, token, StateDenied, func() {
			if a.notifier != nil {
				a.notifier.RemoteAccessGranted(tankID, false)
			}
		})

	case int64(statusTerminated):
		a.settle(tankID, e, token, StateTerminated, func() {
			if a.notifier != nil {
				a.notifier.RemoteAccessFinished(tankID)
			}
		})

	default:
		a.logger.Debug("access status ignored", "tank_id", tankID, "status", code, "state", e.state.String())
	}
}

// settle hands a denial or termination to its own goroutine so the
// subscription's dispatch loop never waits on the tank's I/O lock. The
// subscription stays active until the acknowledgement is written; notifications
// arriving meanwhile are ignored. e.mu must be held.
func (a *Arbiter) settle(tankID string, e *entry, token uint64, next State, notify func()) {
	e.settling = true
	a.pending.Add(1)
	go func() {
		defer a.pending.Done()
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.token != token || e.sub == nil {
			// Closed, reinitialized or lost while queued.
			return
		}
		a.finish(tankID, e, next, notify)
	}()
}

// finish cancels the active subscription, runs notify, writes the reset
// acknowledgement and only then forgets the subscription. e.mu must be held.
func (a *Arbiter) finish(tankID string, e *entry, next State, notify func()) {
	ctx, cancel := context.WithTimeout(context.Background(), a.ackTimeout)
	defer cancel()

	a.cancelSub(ctx, tankID, e)
	if notify != nil {
		notify()
	}
	if err := a.writeStatus(ctx, tankID, statusReset); err != nil {
		e.resetPending = true
		a.logger.Error("acknowledging access status failed", "tank_id", tankID, "error", err)
	}
	a.forget(e)
	a.transition(tankID, e, next)
}

// Wait blocks until every queued denial or termination has been
// acknowledged.
func (a *Arbiter) Wait() {
	a.pending.Wait()
}

// Close ends a pending or granted session from the operator side.
func (a *Arbiter) Close(ctx context.Context, tankID string) error {
	e := a.entry(tankID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sub == nil {
		return fmt.Errorf("%w: %s", ErrNoActiveSession, tankID)
	}

	a.cancelSub(ctx, tankID, e)
	err := a.writeStatus(ctx, tankID, statusClientClosed)
	a.forget(e)
	a.transition(tankID, e, StateTerminated)
	if err != nil {
		e.resetPending = true
		return fmt.Errorf("writing close status: %w", err)
	}
	return nil
}

// Reinitialize returns a tank to Idle. With an active subscription, or a
// reset still owed to the controller, the reset value is written; otherwise
// nothing is written.
func (a *Arbiter) Reinitialize(ctx context.Context, tankID string) error {
	e := a.entry(tankID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sub == nil && !e.resetPending {
		e.state = StateIdle
		return nil
	}

	if e.sub != nil {
		a.cancelSub(ctx, tankID, e)
	}
	err := a.writeStatus(ctx, tankID, statusReset)
	a.forget(e)
	e.resetPending = err != nil
	a.transition(tankID, e, StateIdle)
	if err != nil {
		return fmt.Errorf("writing reset status: %w", err)
	}
	return nil
}

// ReinitializeAll reinitializes every known tank.
func (a *Arbiter) ReinitializeAll(ctx context.Context) error {
	var errs []error
	for _, id := range a.tankIDs() {
		if err := a.Reinitialize(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Teardown reinitializes a tank and forgets it. It is installed as the
// supervisor's removal hook.
func (a *Arbiter) Teardown(ctx context.Context, tankID string) {
	if err := a.Reinitialize(ctx, tankID); err != nil {
		a.logger.Warn("remote access teardown", "tank_id", tankID, "error", err)
	}
	a.mu.Lock()
	delete(a.entries, tankID)
	a.mu.Unlock()
}

// ConnectionLost drops the session state of a tank whose connection went
// away. The subscription died with the session and no write is possible, so
// the reset is owed: it is written by Connected, Reinitialize or the next
// Request once a session exists.
func (a *Arbiter) ConnectionLost(tankID string) {
	a.mu.Lock()
	e, ok := a.entries[tankID]
	a.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.ackTimeout)
	defer cancel()
	a.cancelSub(ctx, tankID, e)
	a.forget(e)
	e.resetPending = true
	a.transition(tankID, e, StateIdle)
}

// Connected writes any reset still owed to a tank whose session was just
// established. It is installed as the supervisor's connected hook.
func (a *Arbiter) Connected(ctx context.Context, tankID string) {
	a.mu.Lock()
	e, ok := a.entries[tankID]
	a.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	owed := e.resetPending && e.sub == nil
	e.mu.Unlock()
	if !owed {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, a.ackTimeout)
	defer cancel()
	if err := a.Reinitialize(ctx, tankID); err != nil {
		a.logger.Warn("releasing remote access latch", "tank_id", tankID, "error", err)
		return
	}
	a.logger.Info("remote access latch released", "tank_id", tankID)
}

// Command triggers a controller action during a granted session. The
// action point is written true and its acknowledgement point must then
// read truthy.
func (a *Arbiter) Command(ctx context.Context, tankID string, cmd opcua.Command) error {
	if _, ok := opcua.ParseCommand(string(cmd)); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}

	e := a.entry(tankID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateGranted {
		return fmt.Errorf("%w: %s is %s", ErrNotGranted, tankID, e.state)
	}

	err := a.sessions.WithSession(ctx, tankID, func(s opcua.Session) error {
		if err := s.Write(ctx, cmd.ActionNodeID(), opcua.Bool(true)); err != nil {
			return fmt.Errorf("writing %s: %w", cmd, err)
		}
		ack, err := s.Read(ctx, cmd.AckNodeID())
		if err != nil {
			return fmt.Errorf("reading %s acknowledgement: %w", cmd, err)
		}
		if !ack.Truthy() {
			return fmt.Errorf("%w: %s", ErrCommandNotAcknowledged, cmd)
		}
		return nil
	})
	if err != nil {
		a.metrics.Command(string(cmd), metrics.ResultError)
		a.logger.Warn("tank command failed", "tank_id", tankID, "command", string(cmd), "error", err)
		return err
	}

	a.metrics.Command(string(cmd), metrics.ResultSuccess)
	a.logger.Info("tank command acknowledged", "tank_id", tankID, "command", string(cmd))
	return nil
}

func (a *Arbiter) cancelSub(ctx context.Context, tankID string, e *entry) {
	if err := e.sub.Cancel(ctx); err != nil {
		a.logger.Debug("cancelling access subscription", "tank_id", tankID, "error", err)
	}
}

// forget discards the subscription handle and invalidates its handler.
// e.mu must be held.
func (a *Arbiter) forget(e *entry) {
	e.sub = nil
	e.settling = false
	e.token++
}

func (a *Arbiter) writeStatus(ctx context.Context, tankID string, value int8) error {
	return a.sessions.WithSession(ctx, tankID, func(s opcua.Session) error {
		return s.Write(ctx, opcua.RemoteAccessStatusNode, opcua.SByte(value))
	})
}

// transition sets the state and records it. e.mu must be held.
func (a *Arbiter) transition(tankID string, e *entry, next State) {
	prev := e.state
	e.state = next
	a.metrics.RemoteAccessTransition(next.String())
	a.logger.Info("remote access state changed", "tank_id", tankID, "from", prev.String(), "to", next.String())
}

func (a *Arbiter) tankIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.entries))
	for id := range a.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Package polling runs the two periodic jobs of a connected tank: the
// telemetry tick at the tank's interval and the collector forward tick.
//
// Each job runs in its own goroutine driven by a time.Ticker, so ticks of one
// job never overlap; a tick that outlasts the interval causes the missed
// intervals to be dropped. The first tick fires one interval after Arm.
package polling

import (
	"context"
	"sync"
	"time"
)

// DefaultForwardInterval is the collector forward period.
const DefaultForwardInterval = 15 * time.Minute

// Handler executes the work of a tick. ctx is cancelled when the timers are
// cancelled or re-armed.
type Handler interface {
	TelemetryTick(ctx context.Context, tankID string)
	ForwardTick(ctx context.Context, tankID string)
}

// GenerationFunc returns the current connection generation of the tank.
type GenerationFunc func() uint64

// Timers owns the telemetry and forward loops of one tank.
//
// All methods are safe for concurrent use.
type Timers struct {
	tankID          string
	handler         Handler
	current         GenerationFunc
	forwardInterval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	armed  bool
	wg     sync.WaitGroup
}

// New creates disarmed timers. current is consulted on every firing; a
// firing armed under another generation is dropped and its loop exits.
func New(tankID string, handler Handler, current GenerationFunc, forwardInterval time.Duration) *Timers {
	if forwardInterval <= 0 {
		forwardInterval = DefaultForwardInterval
	}
	return &Timers{
		tankID:          tankID,
		handler:         handler,
		current:         current,
		forwardInterval: forwardInterval,
	}
}

// Arm cancels any running loops and starts new ones for generation gen.
func (t *Timers) Arm(gen uint64, telemetryInterval time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLocked()

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.armed = true

	t.wg.Add(2)
	go t.loop(ctx, gen, telemetryInterval, t.handler.TelemetryTick)
	go t.loop(ctx, gen, t.forwardInterval, t.handler.ForwardTick)
}

// Cancel stops both loops. It is idempotent and does not wait.
func (t *Timers) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
}

func (t *Timers) cancelLocked() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.armed = false
}

// Wait blocks until every loop started so far has exited.
func (t *Timers) Wait() {
	t.wg.Wait()
}

// Armed reports whether the loops are running.
func (t *Timers) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

func (t *Timers) loop(ctx context.Context, gen uint64, interval time.Duration, tick func(context.Context, string)) {
	defer t.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// Cancellation wins over a tick that became ready at the same time.
		if ctx.Err() != nil || t.current() != gen {
			return
		}
		tick(ctx, t.tankID)
	}
}

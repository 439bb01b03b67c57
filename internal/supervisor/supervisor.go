package supervisor

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/tankwatch/internal/bridges/opcua"
	"github.com/nerrad567/tankwatch/internal/infrastructure/config"
	"github.com/nerrad567/tankwatch/internal/infrastructure/metrics"
	"github.com/nerrad567/tankwatch/internal/supervisor/polling"
	"github.com/nerrad567/tankwatch/internal/tank"
)

// Logger is the logging interface used by the supervisor.
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

// Notifier receives connection-lost events for the UI.
type Notifier interface {
	ConnectionLost(tankID string)
}

// StateSink records connection state transitions, e.g. in a time-series store.
type StateSink interface {
	WriteConnectionState(tankID, state string, at time.Time)
}

// HookFunc is a per-tank lifecycle hook. The remote-access arbiter installs
// its teardown and latch release through these.
type HookFunc func(ctx context.Context, tankID string)

type noopTicks struct{}

func (noopTicks) TelemetryTick(context.Context, string) {}
func (noopTicks) ForwardTick(context.Context, string)   {}

// Options configures a Supervisor.
type Options struct {
	OPCUA      config.OPCUAConfig
	Supervisor config.SupervisorConfig
}

// Supervisor owns one managed entry per tank.
//
// All public methods are thread-safe.
type Supervisor struct {
	dialer opcua.Dialer
	opts   Options

	sweepInterval time.Duration
	backoffMax    time.Duration
	jitter        float64

	ticks     polling.Handler
	notifier  Notifier
	teardown  HookFunc
	connected HookFunc
	sink      StateSink
	metrics   *metrics.Metrics
	logger    Logger

	now    func() time.Time
	random func() float64

	mu    sync.RWMutex
	tanks map[string]*managed

	done     chan struct{}
	stopOnce sync.Once
	stopped  bool
	wg       sync.WaitGroup
}

// managed is the owned entry of one tank.
type managed struct {
	tank tank.Tank

	// ioMu serialises session operations. Lock order: mu is never held
	// while waiting for ioMu.
	ioMu sync.Mutex

	mu             sync.Mutex
	state          State
	transitioning  bool
	removed        bool
	generation     uint64
	client         opcua.Client
	session        opcua.Session
	timers         *polling.Timers
	failures       int
	nextAttempt    time.Time
	connectedSince time.Time
	lastErr        string
	stop           chan struct{}
}

// New creates a supervisor. Call SetTickHandler before adding tanks.
func New(dialer opcua.Dialer, opts Options) *Supervisor {
	sup := opts.Supervisor
	sweep := time.Duration(sup.SweepInterval) * time.Second
	if sweep <= 0 {
		sweep = 20 * time.Second
	}
	backoffMax := time.Duration(sup.BackoffMax) * time.Second
	if backoffMax <= 0 {
		backoffMax = 5 * time.Minute
	}

	return &Supervisor{
		dialer:        dialer,
		opts:          opts,
		sweepInterval: sweep,
		backoffMax:    backoffMax,
		jitter:        sup.BackoffJitter,
		ticks:         noopTicks{},
		logger:        noopLogger{},
		now:           time.Now,
		random:        rand.Float64,
		tanks:         make(map[string]*managed),
		done:          make(chan struct{}),
	}
}

// SetTickHandler sets the handler run by every tank's polling timers.
func (s *Supervisor) SetTickHandler(h polling.Handler) {
	s.ticks = h
}

// SetNotifier sets the receiver of connection-lost events.
func (s *Supervisor) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetTeardown sets the hook run at the start of Remove, while the session
// is still usable.
func (s *Supervisor) SetTeardown(fn HookFunc) {
	s.teardown = fn
}

// SetConnected sets the hook run each time a tank gets a new session. It
// runs outside the tank's locks and may borrow the session.
func (s *Supervisor) SetConnected(fn HookFunc) {
	s.connected = fn
}

// SetStateSink sets where state transitions are recorded. nil disables it.
func (s *Supervisor) SetStateSink(sink StateSink) {
	s.sink = sink
}

// SetMetrics sets the metrics sink. nil disables metrics.
func (s *Supervisor) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// SetLogger sets the logger.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// Start launches the recovery sweep. It returns immediately.
func (s *Supervisor) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.sweepLoop(ctx)
	s.logger.Info("supervisor started", "sweep_interval", s.sweepInterval.String())
}

// AddAll adds tanks concurrently and waits for their first connection attempts.
func (s *Supervisor) AddAll(ctx context.Context, tanks []tank.Tank) error {
	return s.forEach(ctx, tanks, func(ctx context.Context, t tank.Tank) error {
		return s.Add(ctx, t)
	})
}

// Add starts managing t and makes the first connection attempt. A failed
// attempt is not an error: the sweep retries it.
func (s *Supervisor) Add(ctx context.Context, t tank.Tank) error {
	m := &managed{
		tank:  t,
		state: StateDisconnected,
		stop:  make(chan struct{}),
	}
	m.timers = polling.New(t.ID, s.ticks, m.currentGeneration, s.forwardInterval())

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if _, ok := s.tanks[t.ID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTankExists, t.ID)
	}
	s.tanks[t.ID] = m
	s.mu.Unlock()

	s.recordState(m, StateDisconnected)
	s.logger.Info("tank added", "tank_id", t.ID, "address", t.Address)

	s.connect(ctx, m, "initial")
	return nil
}

// Remove stops managing a tank. It runs the teardown hook, cancels the
// timers, waits for running ticks to finish, closes session and client, and
// forgets the tank before returning.
func (s *Supervisor) Remove(ctx context.Context, id string) error {
	m, err := s.get(id)
	if err != nil {
		return err
	}

	if s.teardown != nil {
		s.teardown(ctx, id)
	}

	m.mu.Lock()
	if m.removed {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTankNotFound, id)
	}
	m.removed = true
	m.generation++
	m.timers.Cancel()
	session, client := m.session, m.client
	m.session, m.client = nil, nil
	m.state = StateDisconnected
	close(m.stop)
	m.mu.Unlock()

	m.timers.Wait()

	m.ioMu.Lock()
	closeQuietly(ctx, session, client)
	m.ioMu.Unlock()

	s.mu.Lock()
	if s.tanks[id] == m {
		delete(s.tanks, id)
	}
	s.mu.Unlock()

	s.metrics.ForgetTank(id)
	s.logger.Info("tank removed", "tank_id", id)
	return nil
}

// Update applies a changed tank record. A change of ID, address or interval
// is a Remove followed by an Add under the new record.
func (s *Supervisor) Update(ctx context.Context, oldID string, t tank.Tank) error {
	m, err := s.get(oldID)
	if err != nil {
		return s.Add(ctx, t)
	}

	m.mu.Lock()
	same := m.tank.SameConnection(t)
	if same {
		m.tank = t
	}
	m.mu.Unlock()
	if same {
		return nil
	}

	if err := s.Remove(ctx, oldID); err != nil {
		return err
	}
	return s.Add(ctx, t)
}

// Stop ends the sweep and removes every tank.
func (s *Supervisor) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		s.stopped = true
		ids := make([]string, 0, len(s.tanks))
		for id := range s.tanks {
			ids = append(ids, id)
		}
		s.mu.Unlock()

		for _, id := range ids {
			if err := s.Remove(ctx, id); err != nil {
				s.logger.Warn("removing tank on stop", "tank_id", id, "error", err)
			}
		}
		s.wg.Wait()
		s.logger.Info("supervisor stopped")
	})
}

// WithSession runs fn with the tank's active session while holding the
// tank's I/O lock. fn's result is discarded with ErrSessionLost when the
// session was replaced or the tank removed during the call.
func (s *Supervisor) WithSession(ctx context.Context, id string, fn func(opcua.Session) error) error {
	m, err := s.get(id)
	if err != nil {
		return err
	}

	m.ioMu.Lock()
	defer m.ioMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	session, gen, state := m.session, m.generation, m.state
	m.mu.Unlock()

	if session == nil || state != StateConnected {
		return fmt.Errorf("%w: %s", ErrNotConnected, id)
	}

	callErr := fn(session)

	if m.currentGeneration() != gen {
		return fmt.Errorf("%w: %s", ErrSessionLost, id)
	}
	return callErr
}

// State returns the connection state of one tank.
func (s *Supervisor) State(id string) (State, error) {
	m, err := s.get(id)
	if err != nil {
		return StateDisconnected, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

// Status returns a snapshot of every managed tank, ordered by ID.
func (s *Supervisor) Status() []TankStatus {
	s.mu.RLock()
	entries := make([]*managed, 0, len(s.tanks))
	for _, m := range s.tanks {
		entries = append(entries, m)
	}
	s.mu.RUnlock()

	out := make([]TankStatus, 0, len(entries))
	for _, m := range entries {
		out = append(out, m.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TankID < out[j].TankID })
	return out
}

// TankStatus returns the snapshot of one tank.
func (s *Supervisor) TankStatus(id string) (TankStatus, error) {
	m, err := s.get(id)
	if err != nil {
		return TankStatus{}, err
	}
	return m.status(), nil
}

func (m *managed) status() TankStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return TankStatus{
		TankID:         m.tank.ID,
		Address:        m.tank.Address,
		State:          m.state,
		Generation:     m.generation,
		Failures:       m.failures,
		NextAttempt:    m.nextAttempt,
		ConnectedSince: m.connectedSince,
		LastError:      m.lastErr,
	}
}

func (m *managed) currentGeneration() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

func (s *Supervisor) get(id string) (*managed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.tanks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTankNotFound, id)
	}
	return m, nil
}

func (s *Supervisor) forwardInterval() time.Duration {
	return time.Duration(s.opts.Supervisor.ForwardInterval) * time.Second
}

// clientConfig builds the connection settings of one tank.
func (s *Supervisor) clientConfig(t tank.Tank) opcua.ClientConfig {
	o := s.opts.OPCUA
	return opcua.ClientConfig{
		Endpoint:       "opc.tcp://" + net.JoinHostPort(t.Address, strconv.Itoa(o.Port)),
		SecurityPolicy: o.SecurityPolicy,
		SecurityMode:   o.SecurityMode,
		CertFile:       o.CertFile,
		KeyFile:        o.KeyFile,
		Username:       o.Username,
		Password:       o.Password,
		CallTimeout:    o.CallTimeoutDuration(),
		ConnectTimeout: o.ConnectTimeoutDuration(),
		MaxRetry:       o.ConnectRetry.MaxRetry,
		InitialDelay:   time.Duration(o.ConnectRetry.InitialDelayMS) * time.Millisecond,
	}
}

func (s *Supervisor) recordState(m *managed, state State) {
	s.metrics.SetConnectionState(m.tank.ID, state.String(), stateNames)
	if s.sink != nil {
		s.sink.WriteConnectionState(m.tank.ID, state.String(), s.now())
	}
}

// closeQuietly closes session and client, ignoring errors.
func closeQuietly(ctx context.Context, session opcua.Session, client opcua.Client) {
	if session != nil {
		session.Close(ctx) //nolint:errcheck // best effort teardown
	}
	if client != nil {
		client.Close(ctx) //nolint:errcheck // best effort teardown
	}
}

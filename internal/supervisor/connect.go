package supervisor

import (
	"context"
	"time"

	"github.com/nerrad567/tankwatch/internal/bridges/opcua"
	"github.com/nerrad567/tankwatch/internal/infrastructure/metrics"
)

// connect brings m to Connected. It is a no-op while another transition
// runs or when the tank is already connected, which is what keeps a tank at
// one session when the sweep and a reestablished event race.
func (s *Supervisor) connect(ctx context.Context, m *managed, reason string) {
	m.mu.Lock()
	if m.removed || m.transitioning || m.state == StateConnected {
		m.mu.Unlock()
		return
	}
	prev := m.state
	m.transitioning = true
	m.state = StateConnecting
	client := m.client
	m.mu.Unlock()
	s.recordState(m, StateConnecting)

	id := m.tank.ID
	s.logger.Debug("connecting tank", "tank_id", id, "reason", reason)

	var dialErr error
	if client == nil {
		client, dialErr = s.dial(ctx, m)
	}

	var session opcua.Session
	if dialErr == nil {
		connectCtx, cancel := context.WithTimeout(ctx, s.connectTimeout())
		session, dialErr = s.connectAndCreateSession(connectCtx, id, client)
		cancel()
	}

	m.mu.Lock()
	m.transitioning = false

	if m.removed {
		m.mu.Unlock()
		if session != nil {
			session.Close(context.Background()) //nolint:errcheck // tank already gone
		}
		return
	}

	if session == nil {
		m.state = StateDisconnected
		if prev == StateLost {
			m.state = StateLost
		}
		m.failures++
		delay := s.backoff(m.failures)
		m.nextAttempt = s.now().Add(delay)
		if dialErr != nil {
			m.lastErr = dialErr.Error()
		}
		state, failures := m.state, m.failures
		m.mu.Unlock()

		s.recordState(m, state)
		s.logger.Warn("tank connection failed",
			"tank_id", id, "reason", reason, "failures", failures,
			"retry_in", delay.Round(time.Second).String(), "error", dialErr)
		return
	}

	stale := m.session
	m.session = session
	m.generation++
	m.state = StateConnected
	m.failures = 0
	m.nextAttempt = time.Time{}
	m.connectedSince = s.now()
	m.lastErr = ""
	m.timers.Arm(m.generation, m.tank.PollInterval())
	gen := m.generation
	m.mu.Unlock()

	if stale != nil {
		stale.Close(context.Background()) //nolint:errcheck // replaced session
	}

	s.recordState(m, StateConnected)
	s.logger.Info("tank connected", "tank_id", id, "reason", reason, "generation", gen)

	if s.connected != nil {
		s.connected(ctx, id)
	}
}

func (s *Supervisor) connectTimeout() time.Duration {
	if d := s.opts.OPCUA.ConnectTimeoutDuration(); d > 0 {
		return d
	}
	return 15 * time.Second
}

// dial creates the tank's client and starts watching its events.
func (s *Supervisor) dial(ctx context.Context, m *managed) (opcua.Client, error) {
	client, err := s.dialer.Dial(ctx, s.clientConfig(m.tank))
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.removed {
		m.mu.Unlock()
		client.Close(context.Background()) //nolint:errcheck // tank already gone
		return nil, ErrTankNotFound
	}
	m.client = client
	m.mu.Unlock()

	select {
	case <-s.done:
		return nil, ErrStopped
	default:
	}
	s.wg.Add(1)
	go s.watch(m, client)
	return client, nil
}

// connectAndCreateSession opens the transport when needed and always
// negotiates a fresh session. Failures are logged and counted, and come
// back as a nil session plus the cause for the status report.
func (s *Supervisor) connectAndCreateSession(ctx context.Context, id string, client opcua.Client) (opcua.Session, error) {
	if !client.Connected() {
		if err := client.Connect(ctx); err != nil {
			s.metrics.ConnectAttempt(metrics.ResultError)
			s.logger.Debug("transport connect failed", "tank_id", id, "error", err)
			return nil, err
		}
	}

	session, err := client.CreateSession(ctx)
	if err != nil {
		s.metrics.ConnectAttempt(metrics.ResultError)
		s.logger.Debug("session creation failed", "tank_id", id, "error", err)
		return nil, err
	}

	s.metrics.ConnectAttempt(metrics.ResultSuccess)
	return session, nil
}

// watch turns client lifecycle events into transitions until the client is
// closed or the tank removed.
func (s *Supervisor) watch(m *managed, client opcua.Client) {
	defer s.wg.Done()

	events := client.Events()
	for {
		select {
		case <-m.stop:
			return
		case <-s.done:
			return
		case ev := <-events:
			if s.handleEvent(m, client, ev) {
				return
			}
		}
	}
}

// handleEvent applies one lifecycle event. It reports whether the client
// is finished.
func (s *Supervisor) handleEvent(m *managed, client opcua.Client, ev opcua.Event) bool {
	id := m.tank.ID

	switch ev.Kind {
	case opcua.EventBackoff:
		s.logger.Info("tank connection backoff",
			"tank_id", id, "attempt", ev.Attempt, "delay", ev.Delay.String(), "error", ev.Err)

	case opcua.EventClosed:
		s.onClosed(m, client)
		return true

	case opcua.EventConnectionLost:
		s.onConnectionLost(m, client)

	case opcua.EventReestablished:
		s.logger.Info("tank transport reestablished", "tank_id", id)
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-m.stop:
			case <-s.done:
			case <-ctx.Done():
			}
			cancel()
		}()
		s.connect(ctx, m, "reestablished")
		cancel()

	default:
		s.logger.Debug("ignoring client event", "tank_id", id, "event", ev.Kind.String())
	}
	return false
}

func (s *Supervisor) onClosed(m *managed, client opcua.Client) {
	m.mu.Lock()
	if m.client != client {
		m.mu.Unlock()
		return
	}
	m.timers.Cancel()
	m.generation++
	m.session = nil
	m.client = nil
	if m.state != StateLost {
		m.state = StateDisconnected
	}
	state := m.state
	m.mu.Unlock()

	s.recordState(m, state)
	s.logger.Info("tank client closed", "tank_id", m.tank.ID)
}

func (s *Supervisor) onConnectionLost(m *managed, client opcua.Client) {
	m.mu.Lock()
	if m.removed || m.client != client || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.timers.Cancel()
	m.generation++
	session := m.session
	m.session = nil
	m.state = StateLost
	m.connectedSince = time.Time{}
	m.mu.Unlock()

	if session != nil {
		if err := session.Close(context.Background()); err != nil {
			s.logger.Debug("closing lost session", "tank_id", m.tank.ID, "error", err)
		}
	}

	s.recordState(m, StateLost)
	s.logger.Warn("tank connection lost", "tank_id", m.tank.ID)
	if s.notifier != nil {
		s.notifier.ConnectionLost(m.tank.ID)
	}
}

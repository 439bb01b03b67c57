package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "tankwatch_"

// Result label values.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

// Metrics holds the TankWatch collectors.
//
// A nil *Metrics is valid: every method becomes a no-op, so components
// can be built without a registry in tests.
type Metrics struct {
	connectionState *prometheus.GaugeVec
	connectAttempts *prometheus.CounterVec
	telemetryTicks  *prometheus.CounterVec
	tickLatency     *prometheus.HistogramVec
	forwardPosts    *prometheus.CounterVec
	remoteAccess    *prometheus.CounterVec
	commands        *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// It panics on duplicate registration, like prometheus.MustRegister.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "tank_connection_state",
				Help: "1 for the current connection state of each tank, 0 otherwise",
			},
			[]string{"tank_id", "state"},
		),
		connectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "connect_attempts_total",
				Help: "Connection and session attempts by result",
			},
			[]string{"result"},
		),
		telemetryTicks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "telemetry_ticks_total",
				Help: "Telemetry ticks by result",
			},
			[]string{"result"},
		),
		tickLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "telemetry_tick_seconds",
				Help:    "Telemetry tick duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),
		forwardPosts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "forward_posts_total",
				Help: "Forward-to-collector ticks by result",
			},
			[]string{"result"},
		),
		remoteAccess: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "remote_access_transitions_total",
				Help: "Remote-access state transitions by target state",
			},
			[]string{"state"},
		),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "device_commands_total",
				Help: "Remote device commands by command and result",
			},
			[]string{"command", "result"},
		),
	}

	reg.MustRegister(
		m.connectionState,
		m.connectAttempts,
		m.telemetryTicks,
		m.tickLatency,
		m.forwardPosts,
		m.remoteAccess,
		m.commands,
	)

	return m
}

// SetConnectionState marks state as current for the tank among states.
func (m *Metrics) SetConnectionState(tankID, state string, states []string) {
	if m == nil {
		return
	}
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		m.connectionState.WithLabelValues(tankID, s).Set(v)
	}
}

// ForgetTank drops the per-tank series of a removed tank.
func (m *Metrics) ForgetTank(tankID string) {
	if m == nil {
		return
	}
	m.connectionState.DeletePartialMatch(prometheus.Labels{"tank_id": tankID})
}

// ConnectAttempt counts one connection attempt.
func (m *Metrics) ConnectAttempt(result string) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(result).Inc()
}

// TelemetryTick counts one telemetry tick and observes its duration.
func (m *Metrics) TelemetryTick(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.telemetryTicks.WithLabelValues(result).Inc()
	m.tickLatency.WithLabelValues(result).Observe(took.Seconds())
}

// ForwardPost counts one forward tick.
func (m *Metrics) ForwardPost(result string) {
	if m == nil {
		return
	}
	m.forwardPosts.WithLabelValues(result).Inc()
}

// RemoteAccessTransition counts one arbitration transition.
func (m *Metrics) RemoteAccessTransition(state string) {
	if m == nil {
		return
	}
	m.remoteAccess.WithLabelValues(state).Inc()
}

// Command counts one remote device command.
func (m *Metrics) Command(command, result string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(command, result).Inc()
}

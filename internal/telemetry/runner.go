package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nerrad567/tankwatch/internal/bridges/opcua"
	"github.com/nerrad567/tankwatch/internal/history"
	"github.com/nerrad567/tankwatch/internal/infrastructure/metrics"
)

// Logger is the logging interface used by the runner.
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

// Notifier is told about every stored record.
type Notifier interface {
	TelemetryUpdated(tankID string, rec history.Record)
}

// ForwardLoader returns the stored forward payload. history.ForwardStore
// satisfies it and returns history.ErrNoPayload for an empty slot.
type ForwardLoader interface {
	Load(ctx context.Context, tankID string) (json.RawMessage, error)
}

// Poster sends a payload to the remote collector.
type Poster interface {
	Post(ctx context.Context, tankID string, payload []byte) error
}

// Runner executes the telemetry and forward ticks of every tank.
type Runner struct {
	sessions SessionRunner
	pipeline *Pipeline
	forward  ForwardLoader
	poster   Poster
	notifier Notifier
	metrics  *metrics.Metrics
	logger   Logger
	now      func() time.Time
}

// NewRunner creates a runner. poster may be nil when forwarding is disabled.
func NewRunner(sessions SessionRunner, pipeline *Pipeline, forward ForwardLoader, poster Poster) *Runner {
	return &Runner{
		sessions: sessions,
		pipeline: pipeline,
		forward:  forward,
		poster:   poster,
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetNotifier sets the receiver of telemetry-updated events.
func (r *Runner) SetNotifier(n Notifier) { r.notifier = n }

// SetMetrics sets the metrics sink.
func (r *Runner) SetMetrics(m *metrics.Metrics) { r.metrics = m }

// SetLogger sets the logger.
func (r *Runner) SetLogger(logger Logger) { r.logger = logger }

// TelemetryTick reads, stores and publishes one sample. Failures are logged
// and the tick is skipped; the next tick starts from scratch.
func (r *Runner) TelemetryTick(ctx context.Context, tankID string) {
	start := r.now()

	var sample Sample
	err := r.sessions.WithSession(ctx, tankID, func(s opcua.Session) error {
		var err error
		sample, err = Collect(ctx, s, r.now())
		return err
	})
	if err != nil {
		r.metrics.TelemetryTick(metrics.ResultError, r.now().Sub(start))
		r.logger.Warn("telemetry read failed", "tank_id", tankID, "error", err)
		return
	}

	rec, err := r.pipeline.Process(ctx, tankID, sample)
	if err != nil {
		r.metrics.TelemetryTick(metrics.ResultError, r.now().Sub(start))
		r.logger.Error("telemetry processing failed", "tank_id", tankID, "error", err)
		return
	}

	r.metrics.TelemetryTick(metrics.ResultSuccess, r.now().Sub(start))
	r.logger.Debug("telemetry stored", "tank_id", tankID, "temperature", rec.Temperature, "mode", rec.Mode)
	if r.notifier != nil {
		r.notifier.TelemetryUpdated(tankID, rec)
	}
}

// ForwardTick posts the latest stored payload to the collector. An empty
// slot skips the post.
func (r *Runner) ForwardTick(ctx context.Context, tankID string) {
	if r.poster == nil {
		r.metrics.ForwardPost(metrics.ResultSkipped)
		return
	}

	payload, err := r.forward.Load(ctx, tankID)
	if errors.Is(err, history.ErrNoPayload) {
		r.metrics.ForwardPost(metrics.ResultSkipped)
		r.logger.Debug("no forward payload yet", "tank_id", tankID)
		return
	}
	if err != nil {
		r.metrics.ForwardPost(metrics.ResultError)
		r.logger.Error("loading forward payload", "tank_id", tankID, "error", err)
		return
	}

	if err := r.poster.Post(ctx, tankID, payload); err != nil {
		r.metrics.ForwardPost(metrics.ResultError)
		r.logger.Warn("forward post failed", "tank_id", tankID, "error", err)
		return
	}

	r.metrics.ForwardPost(metrics.ResultSuccess)
	r.logger.Debug("forward payload posted", "tank_id", tankID)
}

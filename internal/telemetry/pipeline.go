package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/tankwatch/internal/alerts"
	"github.com/nerrad567/tankwatch/internal/history"
)

// Recorder stores a history record together with the new forward payload,
// atomically. history.Store satisfies it.
type Recorder interface {
	Record(ctx context.Context, tankID string, rec history.Record, forward any) error
}

// Sink receives every processed sample, e.g. a time-series database.
type Sink interface {
	WriteTankSample(tankID string, fields map[string]any, at time.Time)
}

// Pipeline turns samples into stored history and forward payloads.
type Pipeline struct {
	catalog  alerts.Catalog
	recorder Recorder
	sink     Sink
}

// NewPipeline creates a pipeline. sink may be nil.
func NewPipeline(catalog alerts.Catalog, recorder Recorder, sink Sink) *Pipeline {
	return &Pipeline{catalog: catalog, recorder: recorder, sink: sink}
}

// Process stores one sample and returns its history record. The alert
// catalog is loaded first; if that fails nothing is written.
func (p *Pipeline) Process(ctx context.Context, tankID string, sample Sample) (history.Record, error) {
	alarms, err := alerts.Resolve(ctx, p.catalog, sample.AlertsRaw())
	if err != nil {
		return history.Record{}, fmt.Errorf("resolving alerts: %w", err)
	}

	rec := sample.Record(alarms)

	if err := p.recorder.Record(ctx, tankID, rec, sample.ForwardPayload()); err != nil {
		return history.Record{}, fmt.Errorf("storing sample: %w", err)
	}

	if p.sink != nil {
		p.sink.WriteTankSample(tankID, sample.Fields(), sample.CapturedAt)
	}
	return rec, nil
}

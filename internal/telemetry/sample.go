package telemetry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/nerrad567/tankwatch/internal/bridges/opcua"
	"github.com/nerrad567/tankwatch/internal/history"
)

// Point names, in read order.
const (
	PointPassword               = "Password"
	PointState                  = "State"
	PointTemperature            = "Temperature"
	PointFillHeight             = "FillHeight"
	PointFillVolume             = "FillVolume"
	PointFillRate               = "FillRate"
	PointAlerts                 = "Alerts"
	PointTempAmbiant            = "TempAmbiant"
	PointTempEntreeLait         = "TempEntreeLait"
	PointTempRecup              = "TempRecup"
	PointTempSortieRecuperateur = "TempSortieRecuperateur"
	PointConsoElec              = "ConsoElec"
	PointEnergyRecup            = "EnergyRecup"
	PointVolumeEauChaudeRecup   = "VolumeEauChaudeRecup"
)

// Points lists every telemetry point in read order.
var Points = []string{
	PointPassword,
	PointState,
	PointTemperature,
	PointFillHeight,
	PointFillVolume,
	PointFillRate,
	PointAlerts,
	PointTempAmbiant,
	PointTempEntreeLait,
	PointTempRecup,
	PointTempSortieRecuperateur,
	PointConsoElec,
	PointEnergyRecup,
	PointVolumeEauChaudeRecup,
}

// roundedPoints are forwarded with two decimals.
var roundedPoints = map[string]bool{
	PointTemperature: true,
	PointFillVolume:  true,
	PointFillRate:    true,
}

// ErrIncompleteSample is returned when at least one point could not be read.
var ErrIncompleteSample = errors.New("telemetry: incomplete sample")

// Reader reads one node. opcua.Session satisfies it.
type Reader interface {
	Read(ctx context.Context, nodeID string) (opcua.Variant, error)
}

// Sample holds every point of one tick.
type Sample struct {
	CapturedAt time.Time
	Values     map[string]opcua.Variant
}

// Collect reads every point once, in order. All reads are attempted; any
// failure fails the sample with the failures joined.
func Collect(ctx context.Context, r Reader, at time.Time) (Sample, error) {
	sample := Sample{CapturedAt: at, Values: make(map[string]opcua.Variant, len(Points))}

	var errs []error
	for _, point := range Points {
		v, err := r.Read(ctx, opcua.ReadNodeID(point))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", point, err))
			continue
		}
		sample.Values[point] = v
	}

	if len(errs) > 0 {
		return Sample{}, fmt.Errorf("%w: %w", ErrIncompleteSample, errors.Join(errs...))
	}
	return sample, nil
}

// ForwardPayload returns the collector body: raw values keyed by point name,
// with temperature, fill volume and fill rate rounded to two decimals.
func (s Sample) ForwardPayload() map[string]any {
	payload := make(map[string]any, len(s.Values))
	for point, v := range s.Values {
		if roundedPoints[point] {
			if f, err := v.Float(); err == nil {
				payload[point] = round2(f)
				continue
			}
		}
		payload[point] = v.Value
	}
	return payload
}

// Fields returns the sample as time-series fields: numbers as float64,
// everything else as text.
func (s Sample) Fields() map[string]any {
	fields := make(map[string]any, len(s.Values))
	for point, v := range s.Values {
		if point == PointPassword {
			continue
		}
		switch v.Type {
		case opcua.TypeBoolean:
			fields[point] = v.Truthy()
		case opcua.TypeString, opcua.TypeUnknown:
			fields[point] = v.Text()
		default:
			if f, err := v.Float(); err == nil {
				fields[point] = f
			}
		}
	}
	return fields
}

// AlertsRaw returns the raw ";"-separated alert codes.
func (s Sample) AlertsRaw() string {
	return s.Values[PointAlerts].Text()
}

// Record formats the sample for history with alarms already resolved.
// Date and time use the location of CapturedAt.
func (s Sample) Record(alarms string) history.Record {
	at := s.CapturedAt
	return history.Record{
		Date:        at.Format("02/01/2006"),
		Time:        at.Format("15:04:05"),
		Mode:        s.Values[PointState].Text(),
		Temperature: s.formatRounded(PointTemperature) + "°C",
		FillRate:    s.formatRounded(PointFillRate) + "%",
		Volume:      s.formatRounded(PointFillVolume) + "L",
		Alarms:      alarms,
	}
}

func (s Sample) formatRounded(point string) string {
	v := s.Values[point]
	f, err := v.Float()
	if err != nil {
		return v.Text()
	}
	return strconv.FormatFloat(round2(f), 'f', -1, 64)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by TankWatch.
const (
	measurementTankTelemetry  = "tank_telemetry"
	measurementTankConnection = "tank_connection"
)

// WriteTankSample records one telemetry sample for a tank.
//
// Parameters:
//   - tankID: Tank identifier, stored as the tank_id tag
//   - fields: Numeric and string fields of the sample
//   - at: Capture time of the sample
//
// Example:
//
//	client.WriteTankSample("T1", map[string]any{"temperature": 3.9, "state": "Froid"}, time.Now())
func (c *Client) WriteTankSample(tankID string, fields map[string]any, at time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}
	c.writeAPI.WritePoint(tankSamplePoint(tankID, fields, at))
}

// WriteConnectionState records a connection state transition for a tank.
func (c *Client) WriteConnectionState(tankID, state string, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(connectionPoint(tankID, state, at))
}

func tankSamplePoint(tankID string, fields map[string]any, at time.Time) *write.Point {
	return write.NewPoint(measurementTankTelemetry,
		map[string]string{"tank_id": tankID},
		fields,
		at)
}

func connectionPoint(tankID, state string, at time.Time) *write.Point {
	return write.NewPoint(measurementTankConnection,
		map[string]string{"tank_id": tankID},
		map[string]any{"state": state},
		at)
}

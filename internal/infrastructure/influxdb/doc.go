// Package influxdb writes tank telemetry to InfluxDB v2.
//
// Every successful telemetry tick becomes one tank_telemetry point tagged
// with tank_id; connection transitions become tank_connection points.
// Writes are batched and non-blocking.
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without a time-series sink
//	}
//	defer client.Close()
package influxdb

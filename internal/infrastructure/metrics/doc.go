// Package metrics exposes TankWatch Core's Prometheus collectors: tank
// connection state, connection attempts, telemetry ticks, forward posts,
// remote-access transitions and device commands.
package metrics

// Package supervisor keeps one OPC UA connection per registered tank alive.
//
// Each tank is a managed entry owned by the Supervisor. The entry holds the
// tank's connection state, its client and session, and its polling timers,
// all guarded by the entry's own mutex. A second per-entry mutex serialises
// every session operation, so telemetry reads, remote-access writes and
// commands on one tank never interleave. Tanks are independent of each other.
//
// # States
//
//	Disconnected ──connect──► Connecting ──ok──► Connected
//	     ▲                        │                 │
//	     └────────failure─────────┘          connection lost
//	                                                ▼
//	                         Connecting ◄──sweep── Lost
//
// Lifecycle events from the client drive the transitions: backoff is logged,
// closed clears the entry, connection-lost cancels the timers, drops the
// session and notifies the UI, reestablished bootstraps a fresh session
// unless a transition is already running.
//
// # Recovery
//
// A sweep runs every 20 s (configurable) and reconnects tanks that are
// Disconnected or Lost. It is the only backoff layer: each consecutive
// failure doubles the wait before the tank is tried again, capped at five
// minutes by default, with ±20 % jitter.
//
// # Generations
//
// Every successful connection increments the entry's generation. Polling
// timers are armed with it and drop firings from an older generation, and
// WithSession discards results of calls that straddled a reconnect.
package supervisor

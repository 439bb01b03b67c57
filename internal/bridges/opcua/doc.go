// Package opcua is the tank controller bridge for TankWatch.
//
// It hides the OPC UA client library behind four small interfaces so the
// supervisor, the telemetry pipeline and the remote-access arbiter can be
// tested with fakes:
//
//	Dialer ──► Client ──► Session ──► Subscription
//	            │
//	            └── Events(): Backoff | Closed | ConnectionLost | Reestablished
//
// # Security
//
// Every tank controller is reached with mutual authentication:
// Basic256Sha256 with SignAndEncrypt, the installation's client certificate
// and private key, and a fixed service account. The endpoint offered by the
// server that matches policy and mode is selected explicitly; no fallback to
// a weaker endpoint is attempted.
//
// # Node addressing
//
// Controller points live in namespace 6. Reads go through the data list
// (ReadNodeID), writes through the write area (WriteNodeID). See nodes.go
// for the remote-access and command points.
//
// # Deadlines
//
// Every Read, Write and Subscribe runs under the configured call timeout
// even when the caller's context has no deadline.
//
// # Thread Safety
//
// Client and Session are safe for concurrent use, but callers that need a
// strict order of operations on one controller must serialise them
// themselves (the supervisor does this per tank).
package opcua

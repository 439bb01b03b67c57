package opcua

import (
	"errors"
	"fmt"
)

// Domain errors for the OPC UA bridge.
var (
	// ErrNotConnected is returned when an operation needs a connected client.
	ErrNotConnected = errors.New("opcua: not connected")

	// ErrConnectionFailed wraps transport connection failures.
	ErrConnectionFailed = errors.New("opcua: connection failed")

	// ErrEndpointNotFound is returned when the server offers no endpoint
	// with the configured security policy and mode.
	ErrEndpointNotFound = errors.New("opcua: no matching endpoint")

	// ErrSessionClosed is returned when a session handle is used after its
	// connection went away.
	ErrSessionClosed = errors.New("opcua: session closed")

	// ErrInvalidNodeID is returned when a node ID cannot be parsed.
	ErrInvalidNodeID = errors.New("opcua: invalid node id")

	// ErrUnexpectedType is returned when a value has a type the caller cannot use.
	ErrUnexpectedType = errors.New("opcua: unexpected value type")
)

// StatusError reports a non-good OPC UA status code for one operation.
type StatusError struct {
	Op     string // "read", "write" or "subscribe"
	NodeID string
	Code   uint32
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("opcua: %s %s: bad status 0x%08X", e.Op, e.NodeID, e.Code)
}

// IsStatusError reports whether err carries a StatusError.
func IsStatusError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}

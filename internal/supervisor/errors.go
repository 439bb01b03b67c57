package supervisor

import "errors"

var (
	// ErrTankNotFound is returned for operations on an unmanaged tank.
	ErrTankNotFound = errors.New("supervisor: tank not managed")

	// ErrTankExists is returned when adding a tank that is already managed.
	ErrTankExists = errors.New("supervisor: tank already managed")

	// ErrNotConnected is returned by WithSession when the tank has no session.
	ErrNotConnected = errors.New("supervisor: tank not connected")

	// ErrSessionLost is returned by WithSession when the session was replaced
	// or the tank removed while the call was running. Its result is discarded.
	ErrSessionLost = errors.New("supervisor: session lost during call")

	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("supervisor: stopped")
)

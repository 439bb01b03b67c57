package remoteaccess

import "errors"

var (
	// ErrSessionActive is returned by Request while a request is pending or
	// access is granted.
	ErrSessionActive = errors.New("remoteaccess: session already active")

	// ErrNoActiveSession is returned by Close when nothing is subscribed.
	ErrNoActiveSession = errors.New("remoteaccess: no active session")

	// ErrRequestRejected is returned when the controller refuses the request write.
	ErrRequestRejected = errors.New("remoteaccess: request rejected by controller")

	// ErrNotGranted is returned by Command outside a granted session.
	ErrNotGranted = errors.New("remoteaccess: access not granted")

	// ErrUnknownCommand is returned for commands the controller does not know.
	ErrUnknownCommand = errors.New("remoteaccess: unknown command")

	// ErrCommandNotAcknowledged is returned when the acknowledgement point
	// reads false after a command write.
	ErrCommandNotAcknowledged = errors.New("remoteaccess: command not acknowledged")
)

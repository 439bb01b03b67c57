package collector

import (
	"errors"
	"fmt"
)

var (
	// ErrHostRequired is returned by New when no collector host is configured.
	ErrHostRequired = errors.New("collector: host is required")

	// ErrEmptyPayload is returned by Post for an empty body.
	ErrEmptyPayload = errors.New("collector: empty payload")

	// ErrUnexpectedStatus wraps every non-2xx response.
	ErrUnexpectedStatus = errors.New("collector: unexpected status")
)

// StatusError carries the response code of a rejected post.
type StatusError struct {
	TankID string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("collector: notify %s: status %d", e.TankID, e.Code)
}

func (e *StatusError) Unwrap() error { return ErrUnexpectedStatus }

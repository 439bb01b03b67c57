package history

import "errors"

var (
	// ErrNoPayload is returned by ForwardStore.Load when no sample has been
	// captured for the tank yet.
	ErrNoPayload = errors.New("history: no forward payload")

	// ErrTankIDRequired is returned when an operation receives an empty tank ID.
	ErrTankIDRequired = errors.New("history: tank id is required")
)

package tank

import "errors"

// Errors for the tank package. Check them with errors.Is().
var (
	// ErrTankNotFound is returned when a tank ID does not exist.
	ErrTankNotFound = errors.New("tank: not found")

	// ErrTankExists is returned when creating a tank whose ID is taken.
	ErrTankExists = errors.New("tank: already exists")

	// ErrAddressInUse is returned when another tank already uses the address.
	ErrAddressInUse = errors.New("tank: address already in use")

	// ErrInvalidTank is returned when validation fails.
	ErrInvalidTank = errors.New("tank: invalid")
)

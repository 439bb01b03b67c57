package tank

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

const (
	maxIDLength      = 64
	maxAddressLength = 253

	// MaxPollIntervalSeconds bounds the telemetry period to one hour.
	MaxPollIntervalSeconds = 3600
)

// idPattern keeps IDs usable in URLs and MQTT topic levels.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 _.-]*$`)

// hostnamePattern matches RFC 1123 host names.
var hostnamePattern = regexp.MustCompile(`^([A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?)(\.[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?)*$`)

// Validate checks a tank record before it is persisted.
// Every failure wraps ErrInvalidTank.
func Validate(t Tank) error {
	id := strings.TrimSpace(t.ID)
	switch {
	case id == "":
		return fmt.Errorf("%w: id is required", ErrInvalidTank)
	case id != t.ID:
		return fmt.Errorf("%w: id must not have leading or trailing spaces", ErrInvalidTank)
	case len(id) > maxIDLength:
		return fmt.Errorf("%w: id exceeds %d characters", ErrInvalidTank, maxIDLength)
	case !idPattern.MatchString(id):
		return fmt.Errorf("%w: id %q contains unsupported characters", ErrInvalidTank, id)
	}

	if err := ValidateAddress(t.Address); err != nil {
		return err
	}

	if t.PollIntervalSeconds < 1 || t.PollIntervalSeconds > MaxPollIntervalSeconds {
		return fmt.Errorf("%w: poll interval must be between 1 and %d seconds",
			ErrInvalidTank, MaxPollIntervalSeconds)
	}

	return nil
}

// ValidateAddress accepts an IP address or a host name, without port.
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidTank)
	}
	if len(addr) > maxAddressLength {
		return fmt.Errorf("%w: address too long", ErrInvalidTank)
	}
	if net.ParseIP(addr) != nil {
		return nil
	}
	if !hostnamePattern.MatchString(addr) {
		return fmt.Errorf("%w: address %q is neither an IP address nor a host name", ErrInvalidTank, addr)
	}
	return nil
}

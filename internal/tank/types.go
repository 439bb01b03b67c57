package tank

import "time"

// Tank is one supervised milk-cooling tank.
//
// ID is the operator-chosen identifier (also the collector key); Address is
// the IP address or host name of the tank's OPC UA controller.
type Tank struct {
	ID                  string    `json:"id"`
	Address             string    `json:"address"`
	PollIntervalSeconds int       `json:"poll_interval_seconds"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// PollInterval returns the telemetry period as a Duration.
func (t Tank) PollInterval() time.Duration {
	return time.Duration(t.PollIntervalSeconds) * time.Second
}

// SameConnection reports whether two records would use the same connection
// and polling setup. A change in any of these fields forces a reconnect.
func (t Tank) SameConnection(other Tank) bool {
	return t.ID == other.ID &&
		t.Address == other.Address &&
		t.PollIntervalSeconds == other.PollIntervalSeconds
}

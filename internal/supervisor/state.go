package supervisor

import "time"

// State is the connection state of one tank.
type State int

// Connection states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateLost
)

// stateNames lists every state label, for the metrics gauge.
var stateNames = []string{"disconnected", "connecting", "connected", "lost"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TankStatus is a snapshot of one managed tank.
type TankStatus struct {
	TankID         string    `json:"tank_id"`
	Address        string    `json:"address"`
	State          State     `json:"state"`
	Generation     uint64    `json:"generation"`
	Failures       int       `json:"consecutive_failures"`
	NextAttempt    time.Time `json:"next_attempt,omitempty"`
	ConnectedSince time.Time `json:"connected_since,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
}

package remoteaccess

// State is the arbitration state of one tank.
type State int

const (
	StateIdle State = iota
	StateRequested
	StateGranted
	StateDenied
	StateTerminated
)

var stateNames = [...]string{
	StateIdle:       "idle",
	StateRequested:  "requested",
	StateGranted:    "granted",
	StateDenied:     "denied",
	StateTerminated: "terminated",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status point values.
const (
	statusReset        int8 = 0
	statusGranted      int8 = 1
	statusDenied       int8 = -1
	statusTerminated   int8 = -2
	statusClientClosed int8 = -3
)

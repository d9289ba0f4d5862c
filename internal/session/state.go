package session

// State is the authoritative connection state of the external session.
// Exactly one value holds at any time; the old pair of independent
// connected/connecting booleans is unrepresentable here.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingAuth
	StateReady
	StateDisconnected
)

// String returns the snake_case state name used on the wire and in metrics.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingAuth:
		return "awaiting_auth"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Status is the boolean view of the state machine exposed to REST callers.
type Status struct {
	State            string `json:"state"`
	Connected        bool   `json:"connected"`
	Connecting       bool   `json:"connecting"`
	HasActiveSession bool   `json:"hasActiveSession"`
	Reason           string `json:"reason,omitempty"`
}

package driverlink

// State of the driver's link to the broker.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected // transport up, not authenticated
	StateAuthPending
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthPending:
		return "auth_pending"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

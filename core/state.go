package voicesession

// State is the lifecycle phase of a session. Transitions only happen inside
// the session's own dispatch path: Idle → Connecting → Connected →
// Disconnecting → Idle, with Error reachable from Connecting and Connected
// and always recovering to Idle after cleanup.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// active reports whether a Start call is currently owning resources.
func (s State) active() bool {
	return s == StateConnecting || s == StateConnected
}

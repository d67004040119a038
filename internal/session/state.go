package session

// State represents the controller's position in the session lifecycle.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateRecording
	StateStopping
	StateStopped
)

// String returns the lowercase state name used in logs and status callbacks.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// terminal reports whether the state ends the session lifecycle.
func (s State) terminal() bool {
	return s == StateStopped
}

package terminal

// State is the lifecycle stage of a Controller.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReloading
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReloading:
		return "reloading"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// LinkEventKind classifies a LinkEvent.
type LinkEventKind int

const (
	// LinkUp: the link finished connecting and the shell is started.
	LinkUp LinkEventKind = iota
	// LinkFailed: Connect or Start failed, or the remote side ended the link
	// before it came up.
	LinkFailed
	// LinkDown: a connected link went away (teardown, reload or remote close).
	LinkDown
)

package session

// State is the controller's lifecycle state. At most one session is active
// (Starting, Listening or Restarting) per controller at any time.
type State int

const (
	// StateIdle means no session exists. Start is only honored here.
	StateIdle State = iota

	// StateStarting means a session was requested and the first recognition
	// attempt is being created.
	StateStarting

	// StateListening means the current attempt is live and streaming results.
	StateListening

	// StateRestarting means the previous attempt ended (utterance boundary,
	// recoverable error or silent end) and a replacement attempt is being
	// created without the caller noticing.
	StateRestarting

	// StateStopping is the transient phase of an external stop request while
	// the attempt is being retired.
	StateStopping
)

// String returns the state's name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateRestarting:
		return "restarting"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Active reports whether a session currently exists from the caller's point
// of view.
func (s State) Active() bool {
	return s == StateStarting || s == StateListening || s == StateRestarting
}

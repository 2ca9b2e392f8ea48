package gateway

// State represents the lifecycle state of a Gateway.
type State int

const (
	// StateInitialized means the gateway is created but not started.
	StateInitialized State = iota

	// StateStarting means Start has been called and the listener is coming up.
	StateStarting

	// StateRunning means connections are being accepted.
	StateRunning

	// StateStopping means Stop has been called and connections are draining.
	StateStopping

	// StateStopped means the gateway has been shut down.
	StateStopped
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateInitialized:
		return "Initialized"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// CanStart returns true if Start can be called in this state.
func (s State) CanStart() bool {
	return s == StateInitialized
}

// CanStop returns true if Stop can be called in this state.
func (s State) CanStop() bool {
	return s == StateRunning || s == StateStarting
}

package model

// ServiceState is the supervisor's belief about the managed container.
// It is owned exclusively by the lifecycle supervisor; everybody else
// observes it through StateChange events or the supervisor's State method.
type ServiceState int

const (
	// StateUnknown means the true status has not been confirmed by a probe
	// yet, or a probe failed while the service was believed running.
	StateUnknown ServiceState = iota
	StateStopped
	StateStarting
	StateRunning
	StateStopping
)

func (s ServiceState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Transitioning reports whether a start or stop is in flight. The UI must
// keep the lifecycle controls disabled while this is true.
func (s ServiceState) Transitioning() bool {
	return s == StateStarting || s == StateStopping
}

package orchestrator

// State is the orchestrator's position in the upload cycle.
type State int

const (
	// StateIdle waits for the schedule to make uploading worthwhile.
	StateIdle State = iota
	// StateListening watches the bus for the configured silence period.
	StateListening
	// StateAcquiring performs the bus hand-over and mount.
	StateAcquiring
	// StateUploading runs one session against one destination.
	StateUploading
	// StateReleasing returns the bus and records the session outcome.
	StateReleasing
	// StateCooldown keeps the appliance off the bus between attempts.
	StateCooldown
	// StateComplete is reached after a fully successful session.
	StateComplete
	// StateMonitoring is the operator's diagnostic hold: no sessions run
	// until monitoring is stopped.
	StateMonitoring
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateAcquiring:
		return "acquiring"
	case StateUploading:
		return "uploading"
	case StateReleasing:
		return "releasing"
	case StateCooldown:
		return "cooldown"
	case StateComplete:
		return "complete"
	case StateMonitoring:
		return "monitoring"
	default:
		return "unknown"
	}
}

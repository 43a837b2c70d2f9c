package runner

// Phase tracks a run through its lifecycle. A run starts WAITING,
// moves to READY once the target passes its readiness probe, RUNNING
// while steps execute, and ends DONE or FAILED.
type Phase int

const (
	PhaseWaiting Phase = iota
	PhaseReady
	PhaseRunning
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "WAITING"
	case PhaseReady:
		return "READY"
	case PhaseRunning:
		return "RUNNING"
	case PhaseDone:
		return "DONE"
	case PhaseFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

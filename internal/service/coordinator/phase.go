package coordinator

import "github.com/cstlee/RooBench/internal/agent"

// Phase is a step of the run state machine. Every host completes phase k
// before any host is sent phase k+1.
type Phase int

const (
	Unprovisioned Phase = iota
	Provisioned
	Launched
	Measuring0
	Active
	Measuring1a
	Measuring1b
	Stopped
	Terminated
	Collected
)

var phaseNames = [...]string{
	Unprovisioned: "Unprovisioned",
	Provisioned:   "Provisioned",
	Launched:      "Launched",
	Measuring0:    "Measuring0",
	Active:        "Active",
	Measuring1a:   "Measuring1a",
	Measuring1b:   "Measuring1b",
	Stopped:       "Stopped",
	Terminated:    "Terminated",
	Collected:     "Collected",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "Unknown"
	}
	return phaseNames[p]
}

// Next returns the successor phase; Collected is terminal.
func (p Phase) Next() Phase {
	if p >= Collected {
		return Collected
	}
	return p + 1
}

// Command is the agent command that moves a host into p, if any.
func (p Phase) Command() (agent.Kind, bool) {
	switch p {
	case Launched:
		return agent.KindLaunch, true
	case Measuring0, Measuring1a, Measuring1b:
		return agent.KindSnapshot, true
	case Active:
		return agent.KindBegin, true
	case Stopped:
		return agent.KindStop, true
	case Terminated:
		return agent.KindTerminate, true
	}
	return "", false
}

// SnapshotIndex is the file index written when entering a measuring phase.
func (p Phase) SnapshotIndex() (int, bool) {
	switch p {
	case Measuring0:
		return 0, true
	case Measuring1a:
		return 1, true
	case Measuring1b:
		return 2, true
	}
	return 0, false
}

// Fatal reports whether a host failure in p aborts the whole run.
func (p Phase) Fatal() bool {
	return p == Provisioned || p == Launched
}

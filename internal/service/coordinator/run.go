package coordinator

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/cstlee/RooBench/internal/aggregate"
	"github.com/cstlee/RooBench/internal/snapshot"
)

// HostState is the coordinator's view of one host. It is written only by
// the goroutine handling that host during a phase.
type HostState struct {
	Host snapshot.Host
	// Phase is the last phase this host completed.
	Phase Phase
	// Degraded hosts take no part in later phases or in the report.
	Degraded    bool
	FailedPhase Phase
	Fault       error
	Identity    string
	// Snapshots maps each measuring phase to the index the agent reported.
	Snapshots map[Phase]int
	Files     []string
}

func (h *HostState) degrade(phase Phase, err error) {
	h.Degraded = true
	h.FailedPhase = phase
	h.Fault = err
}

// Run is the per-run state passed through every phase.
type Run struct {
	ID        string
	Name      string
	RemoteDir string
	LocalDir  string
	StartedAt time.Time
	Phase     Phase
	Hosts     []*HostState
}

// NewRun creates the state for a run over hosts. Remote files go to
// remoteDir; collected files land in localDir.
func NewRun(name, remoteDir, localDir string, hosts []snapshot.Host) *Run {
	states := lo.Map(hosts, func(h snapshot.Host, _ int) *HostState {
		return &HostState{Host: h, Snapshots: make(map[Phase]int)}
	})
	return &Run{
		ID:        uuid.NewString(),
		Name:      name,
		RemoteDir: remoteDir,
		LocalDir:  localDir,
		StartedAt: time.Now(),
		Hosts:     states,
	}
}

// Healthy returns the hosts that are not degraded.
func (r *Run) Healthy() []*HostState {
	return lo.Filter(r.Hosts, func(h *HostState, _ int) bool { return !h.Degraded })
}

// Degraded returns the hosts excluded so far.
func (r *Run) Degraded() []*HostState {
	return lo.Filter(r.Hosts, func(h *HostState, _ int) bool { return h.Degraded })
}

// HealthyHosts returns the hosts still eligible for the report.
func (r *Run) HealthyHosts() []snapshot.Host {
	return lo.Map(r.Healthy(), func(h *HostState, _ int) snapshot.Host { return h.Host })
}

// Exclusions describes every degraded host for the report.
func (r *Run) Exclusions() []aggregate.Exclusion {
	return lo.Map(r.Degraded(), func(h *HostState, _ int) aggregate.Exclusion {
		return aggregate.ExclusionFromError(h.Host, h.Fault)
	})
}

// Host looks a host up by name.
func (r *Run) Host(name string) (*HostState, bool) {
	return lo.Find(r.Hosts, func(h *HostState) bool { return h.Host.Name == name })
}

func (r *Run) String() string {
	return fmt.Sprintf("%s (%s)", r.Name, r.ID)
}

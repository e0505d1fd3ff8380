package agentd

import (
	"strconv"

	"github.com/cstlee/RooBench/internal/agent"
)

// Signal is a request delivered to the running benchmark process.
type Signal int

const (
	// SignalBegin starts the client load generator (SIGUSR1).
	SignalBegin Signal = iota + 1
	// SignalSnapshot makes the process dump its counters (SIGUSR2).
	SignalSnapshot
	// SignalStop asks for a graceful stop (SIGINT).
	SignalStop
	// SignalKill ends the process (SIGKILL).
	SignalKill
)

func (s Signal) String() string {
	switch s {
	case SignalBegin:
		return "begin"
	case SignalSnapshot:
		return "snapshot"
	case SignalStop:
		return "stop"
	case SignalKill:
		return "kill"
	}
	return "unknown"
}

// LaunchRequest is everything needed to start the benchmark binary for one host.
type LaunchRequest struct {
	Host   string
	LogDir string
	Spec   agent.LaunchSpec
}

// Args returns the binary's positional arguments:
// <bench_type> <host> <threads> <bench_config> <log_dir>.
func (r LaunchRequest) Args() []string {
	threads := r.Spec.Threads
	if threads <= 0 {
		threads = 1
	}
	return []string{r.Spec.BenchType, r.Host, strconv.Itoa(threads), r.Spec.BenchConfig, r.LogDir}
}

// Processes starts and signals benchmark processes.
type Processes interface {
	Start(req LaunchRequest) (pid int, err error)
	Signal(pid int, sig Signal) error
	Alive(pid int) bool
}

// Package agent defines the command/acknowledgment protocol between the
// coordinator and the per-host agent, and the transports that carry it.
package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cstlee/RooBench/internal/faults"
	"github.com/cstlee/RooBench/internal/snapshot"
)

// Kind names one of the five agent commands.
type Kind string

const (
	KindLaunch    Kind = "launch"
	KindBegin     Kind = "begin"
	KindSnapshot  Kind = "snapshot"
	KindStop      Kind = "stop"
	KindTerminate Kind = "terminate"
)

// Kinds lists every command in phase order.
func Kinds() []Kind {
	return []Kind{KindLaunch, KindBegin, KindSnapshot, KindStop, KindTerminate}
}

func (k Kind) Valid() bool {
	switch k {
	case KindLaunch, KindBegin, KindSnapshot, KindStop, KindTerminate:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }

// LaunchSpec carries everything the agent needs to start the benchmark binary.
type LaunchSpec struct {
	Binary      string        `json:"binary"`
	BenchType   string        `json:"bench_type"`
	Role        snapshot.Role `json:"role"`
	Threads     int           `json:"threads"`
	BenchConfig string        `json:"bench_config"`
}

// Command is one request to a host agent. ID correlates the acknowledgment
// on transports that are not request/response.
type Command struct {
	ID     string      `json:"id"`
	Kind   Kind        `json:"kind"`
	Host   string      `json:"host"`
	LogDir string      `json:"log_dir"`
	Launch *LaunchSpec `json:"launch,omitempty"`
}

// NewCommand builds a command with a fresh correlation id.
func NewCommand(kind Kind, host, logDir string) Command {
	return Command{ID: uuid.NewString(), Kind: kind, Host: host, LogDir: logDir}
}

// Ack is the agent's answer to a Command. Identity is the process id after
// launch; Index is the snapshot file index written by a snapshot command.
type Ack struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"kind"`
	Host     string `json:"host"`
	OK       bool   `json:"ok"`
	Identity string `json:"identity,omitempty"`
	Index    int    `json:"index"`
	Message  string `json:"message,omitempty"`
}

// Reply builds an acknowledgment for cmd.
func Reply(cmd Command, err error) Ack {
	ack := Ack{ID: cmd.ID, Kind: cmd.Kind, Host: cmd.Host, OK: err == nil}
	if err != nil {
		ack.Message = err.Error()
	}
	return ack
}

// Err converts a negative acknowledgment into a host fault. Launch
// rejections are LAUNCH_FAILED; anything else is a connectivity fault.
func (a Ack) Err() error {
	if a.OK {
		return nil
	}
	code := faults.Connectivity
	if a.Kind == KindLaunch {
		code = faults.LaunchFailed
	}
	return faults.New(code, "agent rejected %s: %s", a.Kind, a.Message).ForHost(a.Host)
}

// Transport delivers commands to host agents and moves files between the
// hosts and the coordinator.
type Transport interface {
	// Provision creates the per-run log directory on the host.
	Provision(ctx context.Context, host snapshot.Host, dir string) error
	// Send delivers cmd and waits for its acknowledgment. A transport error
	// means the command could not be delivered or acknowledged.
	Send(ctx context.Context, host snapshot.Host, cmd Command) (Ack, error)
	// Collect copies the host's run files from remoteDir into localDir and
	// returns the local paths.
	Collect(ctx context.Context, host snapshot.Host, remoteDir, localDir string) ([]string, error)
	Close() error
}

// deliveryError classifies a failed delivery as TIMEOUT when the context
// deadline expired and CONNECTIVITY otherwise.
func deliveryError(ctx context.Context, host snapshot.Host, err error, format string, args ...any) error {
	code := faults.Connectivity
	if ctx.Err() == context.DeadlineExceeded {
		code = faults.Timeout
	} else if ctx.Err() == context.Canceled {
		code = faults.Cancelled
	}
	return faults.Wrap(code, err, format, args...).ForHost(host.Name)
}

func checkCommand(host snapshot.Host, cmd Command) error {
	if !cmd.Kind.Valid() {
		return faults.New(faults.InvalidConfig, "unknown command %q", cmd.Kind).ForHost(host.Name)
	}
	if cmd.Kind == KindLaunch && cmd.Launch == nil {
		return faults.New(faults.InvalidConfig, "launch without launch spec").ForHost(host.Name)
	}
	return nil
}

func describe(host snapshot.Host, cmd Command) string {
	return fmt.Sprintf("%s on %s", cmd.Kind, host.Name)
}

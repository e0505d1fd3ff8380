// Package agentd is the host side of the agent protocol: it owns the
// benchmark process on one machine and turns commands into process signals.
package agentd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/cstlee/RooBench/internal/agent"
	"github.com/cstlee/RooBench/internal/snapshot"
	"github.com/cstlee/RooBench/pkg/tools/logger"
)

const (
	DefaultSnapshotTimeout = 10 * time.Second
	DefaultPollInterval    = 100 * time.Millisecond
)

type Options struct {
	Processes       Processes
	SnapshotTimeout time.Duration
	PollInterval    time.Duration
}

// Controller executes agent commands against the local benchmark process.
// Commands are serialized; state is re-read from disk for every command so a
// controller can be short-lived (one CLI invocation per command).
type Controller struct {
	procs           Processes
	snapshotTimeout time.Duration
	pollInterval    time.Duration
	mu              sync.Mutex
}

func NewController(opts Options) *Controller {
	c := &Controller{
		procs:           opts.Processes,
		snapshotTimeout: opts.SnapshotTimeout,
		pollInterval:    opts.PollInterval,
	}
	if c.procs == nil {
		c.procs = NewOSProcesses()
	}
	if c.snapshotTimeout <= 0 {
		c.snapshotTimeout = DefaultSnapshotTimeout
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultPollInterval
	}
	return c
}

// Provision creates dir and points the sibling "latest" link at it.
func (c *Controller) Provision(dir string) error {
	dir, err := ExpandHome(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory '%s': %w", dir, err)
	}
	latest := filepath.Join(filepath.Dir(dir), "latest")
	if err := os.Remove(latest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to replace '%s': %w", latest, err)
	}
	if err := os.Symlink(dir, latest); err != nil {
		return fmt.Errorf("failed to link '%s': %w", latest, err)
	}
	logger.WithComponent("AGENT").Info("Provisioned log directory", "dir", dir)
	return nil
}

// Handle executes cmd and always returns an acknowledgment; failures are
// reported through Ack.OK and Ack.Message.
func (c *Controller) Handle(ctx context.Context, cmd agent.Command) agent.Ack {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	log := logger.WithHost("AGENT", cmd.Host).With("kind", cmd.Kind, "id", cmd.ID)
	log.Debug("Handling command", "dir", cmd.LogDir)

	ack, err := c.handle(ctx, cmd)
	ack = mergeAck(agent.Reply(cmd, err), ack)

	result := "ok"
	if err != nil {
		result = "error"
		log.Warn("Command failed", "error", err)
	} else {
		log.Info("Command acknowledged", "identity", ack.Identity, "index", ack.Index)
	}
	commandsTotal.WithLabelValues(string(cmd.Kind), result).Inc()
	commandDuration.WithLabelValues(string(cmd.Kind)).Observe(time.Since(start).Seconds())
	return ack
}

func mergeAck(base, extra agent.Ack) agent.Ack {
	base.Identity = extra.Identity
	base.Index = extra.Index
	return base
}

func (c *Controller) handle(ctx context.Context, cmd agent.Command) (agent.Ack, error) {
	var ack agent.Ack
	if cmd.Host == "" {
		return ack, errors.New("command has no host name")
	}
	if cmd.LogDir == "" {
		return ack, errors.New("command has no log directory")
	}
	dir, err := ExpandHome(cmd.LogDir)
	if err != nil {
		return ack, err
	}

	switch cmd.Kind {
	case agent.KindLaunch:
		pid, err := c.launch(dir, cmd)
		if err != nil {
			return ack, err
		}
		ack.Identity = strconv.Itoa(pid)
	case agent.KindBegin:
		return ack, c.begin(dir, cmd.Host)
	case agent.KindSnapshot:
		idx, err := c.snapshot(ctx, dir, cmd.Host)
		ack.Index = idx
		return ack, err
	case agent.KindStop:
		return ack, c.stop(dir, cmd.Host)
	case agent.KindTerminate:
		c.terminate(dir, cmd.Host)
	default:
		return ack, fmt.Errorf("unknown command %q", cmd.Kind)
	}
	return ack, nil
}

func (c *Controller) launch(dir string, cmd agent.Command) (int, error) {
	if cmd.Launch == nil {
		return 0, errors.New("launch without launch spec")
	}
	spec := *cmd.Launch
	if spec.Binary == "" {
		return 0, errors.New("launch spec has no binary")
	}
	if !spec.Role.Valid() {
		return 0, fmt.Errorf("launch spec has invalid role %q", spec.Role)
	}

	st, err := LoadState(dir, cmd.Host)
	switch {
	case err == nil && !st.Stopped && c.procs.Alive(st.PID):
		return 0, fmt.Errorf("already running as pid %d", st.PID)
	case err != nil && !errors.Is(err, ErrNotLaunched):
		return 0, err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create log directory '%s': %w", dir, err)
	}
	pid, err := c.procs.Start(LaunchRequest{Host: cmd.Host, LogDir: dir, Spec: spec})
	if err != nil {
		return 0, err
	}
	st = &State{Host: cmd.Host, PID: pid, Role: spec.Role, StartedAt: time.Now()}
	if err := SaveState(dir, st); err != nil {
		_ = c.procs.Signal(pid, SignalKill)
		return 0, err
	}
	return pid, nil
}

// running loads the state of host and checks the process is still there.
func (c *Controller) running(dir, host string) (*State, error) {
	st, err := LoadState(dir, host)
	if err != nil {
		return nil, err
	}
	if !c.procs.Alive(st.PID) {
		return nil, fmt.Errorf("process %d is no longer running", st.PID)
	}
	return st, nil
}

func (c *Controller) begin(dir, host string) error {
	st, err := c.running(dir, host)
	if err != nil {
		return err
	}
	return c.procs.Signal(st.PID, SignalBegin)
}

// snapshot asks the process for its next counter dump and waits until both
// files of that index are complete. It returns the index.
func (c *Controller) snapshot(ctx context.Context, dir, host string) (int, error) {
	st, err := c.running(dir, host)
	if err != nil {
		return 0, err
	}
	idx := st.Snapshots
	if err := c.procs.Signal(st.PID, SignalSnapshot); err != nil {
		return idx, err
	}
	// The process numbers its dumps itself, so the count advances once the
	// signal is delivered even if the files never appear.
	st.Snapshots++
	if err := SaveState(dir, st); err != nil {
		return idx, err
	}

	err = wait.PollUntilContextTimeout(ctx, c.pollInterval, c.snapshotTimeout, true, func(context.Context) (bool, error) {
		return snapshot.Complete(dir, host, idx), nil
	})
	if err != nil {
		return idx, fmt.Errorf("snapshot %d not written within %s: %w", idx, c.snapshotTimeout, err)
	}
	snapshotsWritten.Inc()
	return idx, nil
}

func (c *Controller) stop(dir, host string) error {
	st, err := LoadState(dir, host)
	if errors.Is(err, ErrNotLaunched) {
		return nil
	}
	if err != nil {
		return err
	}
	if st.Stopped || !c.procs.Alive(st.PID) {
		return nil
	}
	if err := c.procs.Signal(st.PID, SignalStop); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	st.Stopped = true
	return SaveState(dir, st)
}

// terminate never fails: a missing process or state is already terminated.
func (c *Controller) terminate(dir, host string) {
	log := logger.WithHost("AGENT", host)
	st, err := LoadState(dir, host)
	if errors.Is(err, ErrNotLaunched) {
		return
	}
	if err != nil {
		log.Warn("Discarding unreadable agent state", "error", err)
	} else if c.procs.Alive(st.PID) {
		if err := c.procs.Signal(st.PID, SignalKill); err != nil && !errors.Is(err, os.ErrProcessDone) {
			log.Warn("Kill failed", "pid", st.PID, "error", err)
		}
	}
	if err := RemoveState(dir, host); err != nil {
		log.Warn("Failed to remove agent state", "error", err)
	}
}

// Files lists the run files that belong to host in dir.
func (c *Controller) Files(dir, host string) ([]string, error) {
	dir, err := ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(dir, host+"[._]*"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		if filepath.Ext(m) == ".tmp" {
			continue
		}
		names = append(names, filepath.Base(m))
	}
	sort.Strings(names)
	return names, nil
}

// FilePath resolves name inside dir, rejecting anything that is not a plain
// file name.
func (c *Controller) FilePath(dir, name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	dir, err := ExpandHome(dir)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s is not a regular file", name)
	}
	return path, nil
}

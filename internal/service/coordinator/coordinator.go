// Package coordinator drives every host of a run through the phase sequence
// with barrier synchronization and per-host failure isolation.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/cstlee/RooBench/internal/agent"
	"github.com/cstlee/RooBench/internal/faults"
	"github.com/cstlee/RooBench/internal/snapshot"
	"github.com/cstlee/RooBench/pkg/tools/logger"
)

// Options bounds every wait and command of a run.
type Options struct {
	CommandTimeout time.Duration
	// Warmup is waited after Launched, Measure after Active and Settle
	// between the two closing snapshot passes.
	Warmup  time.Duration
	Measure time.Duration
	Settle  time.Duration
	// SnapshotRetry bounds how long collection waits for snapshot files.
	SnapshotRetry         time.Duration
	SnapshotRetryInterval time.Duration
	// Parallelism limits concurrent hosts per phase; 0 means unlimited.
	Parallelism int
	// Launch is sent to every host; Role is filled in per host.
	Launch agent.LaunchSpec
}

func (o *Options) applyDefaults() {
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = 30 * time.Second
	}
	if o.SnapshotRetryInterval <= 0 {
		o.SnapshotRetryInterval = 200 * time.Millisecond
	}
	if o.SnapshotRetry < o.SnapshotRetryInterval {
		o.SnapshotRetry = o.SnapshotRetryInterval
	}
}

// Coordinator runs the phase state machine over a Transport.
type Coordinator struct {
	transport agent.Transport
	opts      Options
	logger    *slog.Logger
}

func New(transport agent.Transport, opts Options) *Coordinator {
	opts.applyDefaults()
	return &Coordinator{
		transport: transport,
		opts:      opts,
		logger:    logger.WithComponent("COORDINATOR"),
	}
}

type hostFunc func(ctx context.Context, run *Run, h *HostState) error

// action returns what moves a single host into p.
func (c *Coordinator) action(p Phase) hostFunc {
	if p == Provisioned {
		return c.provision
	}
	kind, _ := p.Command()
	switch kind {
	case agent.KindLaunch:
		return c.launch
	case agent.KindBegin:
		return c.begin
	case agent.KindSnapshot:
		return c.snapshot(p)
	}
	return c.command(kind)
}

// pauseAfter is waited once the barrier of p is passed.
func (c *Coordinator) pauseAfter(p Phase) time.Duration {
	switch p {
	case Launched:
		return c.opts.Warmup
	case Active:
		return c.opts.Measure
	case Measuring1a:
		return c.opts.Settle
	}
	return 0
}

// Execute drives run from Unprovisioned to Collected. Termination is
// attempted on every exit path. A provisioning or launch failure, or
// cancellation of ctx, aborts the run with an error; any other host failure
// only degrades that host.
func (c *Coordinator) Execute(ctx context.Context, run *Run) error {
	log := c.logger.With("run", run.Name, "run_id", run.ID)
	log.Info("Starting run", "hosts", len(run.Hosts), "remote_dir", run.RemoteDir)
	degradedHosts.Set(0)

	err := c.drive(ctx, run)

	// Cleanup must outlive a cancelled run.
	cleanup := context.WithoutCancel(ctx)
	c.terminate(cleanup, run)

	switch {
	case err == nil:
		err = c.collectAll(ctx, run)
	case faults.CodeOf(err) == faults.Cancelled:
		log.Warn("Run cancelled, collecting what is available")
		_ = c.collectAll(cleanup, run)
	}
	if err != nil {
		log.Error("Run aborted", "phase", run.Phase, "error", err)
		return err
	}

	run.Phase = Collected
	degraded := run.Degraded()
	if len(degraded) > 0 {
		log.Warn("Run finished with degraded hosts", "degraded", hostNames(degraded))
	}
	log.Info("Run completed", "healthy", len(run.Healthy()), "elapsed", time.Since(run.StartedAt).Round(time.Millisecond))
	return nil
}

func (c *Coordinator) drive(ctx context.Context, run *Run) error {
	// Terminated and Collected run on every exit path, see Execute.
	for p := Unprovisioned.Next(); p < Terminated; p = p.Next() {
		failed, err := c.step(ctx, run, p, c.action(p))
		if err != nil {
			return err
		}
		if p.Fatal() && len(failed) > 0 {
			return fatal(p, failed)
		}
		if len(run.Healthy()) == 0 {
			c.logger.Warn("No healthy hosts left", "phase", p)
			return nil
		}
		if err := c.pause(ctx, p, c.pauseAfter(p)); err != nil {
			return err
		}
	}
	return nil
}

// step dispatches phase to every healthy host and waits for all of them.
// Failures degrade only the failing host. The error is non-nil only when
// ctx itself was cancelled.
func (c *Coordinator) step(ctx context.Context, run *Run, phase Phase, do hostFunc) ([]*HostState, error) {
	hosts := run.Healthy()
	c.logger.Info("Entering phase", "phase", phase, "hosts", len(hosts))
	start := time.Now()

	var (
		mu     sync.Mutex
		failed []*HostState
	)
	var g errgroup.Group
	if c.opts.Parallelism > 0 {
		g.SetLimit(c.opts.Parallelism)
	}
	for _, h := range hosts {
		h := h // per-iteration copy; go directive is 1.21
		g.Go(func() error {
			hctx, cancel := context.WithTimeout(ctx, c.opts.CommandTimeout)
			defer cancel()

			err := do(hctx, run, h)
			if err == nil {
				h.Phase = phase
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			h.degrade(phase, hostFault(hctx, h.Host, phase, err))
			mu.Lock()
			failed = append(failed, h)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	phaseDuration.WithLabelValues(phase.String()).Observe(time.Since(start).Seconds())

	if err := ctx.Err(); err != nil {
		return failed, cancelled(phase, err)
	}
	run.Phase = phase

	slices.SortFunc(failed, func(a, b *HostState) int { return a.Host.ID - b.Host.ID })
	for _, h := range failed {
		c.recordFault(phase, h)
	}
	return failed, nil
}

func (c *Coordinator) recordFault(phase Phase, h *HostState) {
	code := faults.CodeOf(h.Fault)
	hostFaults.WithLabelValues(phase.String(), string(code)).Inc()
	degradedHosts.Inc()
	logger.WithHost("COORDINATOR", h.Host.Name).Warn("Host degraded",
		"phase", phase, "code", code, "error", h.Fault)
}

func (c *Coordinator) pause(ctx context.Context, phase Phase, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	c.logger.Info("Waiting", "phase", phase, "duration", d)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return cancelled(phase, ctx.Err())
	}
}

func (c *Coordinator) provision(ctx context.Context, run *Run, h *HostState) error {
	return c.transport.Provision(ctx, h.Host, run.RemoteDir)
}

func (c *Coordinator) launch(ctx context.Context, run *Run, h *HostState) error {
	ack, err := c.send(ctx, run, h, agent.KindLaunch)
	if err != nil {
		return err
	}
	h.Identity = ack.Identity
	logger.WithHost("COORDINATOR", h.Host.Name).Debug("Launched", "role", h.Host.Role, "identity", ack.Identity)
	return nil
}

func (c *Coordinator) begin(ctx context.Context, run *Run, h *HostState) error {
	if !h.Host.IsClient() {
		return nil
	}
	_, err := c.send(ctx, run, h, agent.KindBegin)
	return err
}

func (c *Coordinator) snapshot(phase Phase) hostFunc {
	want, _ := phase.SnapshotIndex()
	return func(ctx context.Context, run *Run, h *HostState) error {
		ack, err := c.send(ctx, run, h, agent.KindSnapshot)
		if err != nil {
			return err
		}
		// Analysis reads fixed indices, so a host that wrote another one
		// cannot contribute.
		if ack.Index != want {
			return faults.New(faults.MalformedSnapshot, "agent wrote snapshot %d during %s, expected %d",
				ack.Index, phase, want).ForHost(h.Host.Name).WithField("index")
		}
		h.Snapshots[phase] = ack.Index
		return nil
	}
}

func (c *Coordinator) command(kind agent.Kind) hostFunc {
	return func(ctx context.Context, run *Run, h *HostState) error {
		_, err := c.send(ctx, run, h, kind)
		return err
	}
}

func (c *Coordinator) send(ctx context.Context, run *Run, h *HostState, kind agent.Kind) (agent.Ack, error) {
	cmd := agent.NewCommand(kind, h.Host.Name, run.RemoteDir)
	if kind == agent.KindLaunch {
		spec := c.opts.Launch
		spec.Role = h.Host.Role
		cmd.Launch = &spec
	}
	ack, err := c.transport.Send(ctx, h.Host, cmd)
	if err != nil {
		return ack, err
	}
	return ack, ack.Err()
}

// terminate force-ends every host that got past provisioning, degraded or
// not. Failures are logged and never degrade a host.
func (c *Coordinator) terminate(ctx context.Context, run *Run) {
	targets := lo.Filter(run.Hosts, func(h *HostState, _ int) bool { return h.Phase >= Provisioned })
	if len(targets) == 0 {
		return
	}
	c.logger.Info("Entering phase", "phase", Terminated, "hosts", len(targets))
	start := time.Now()

	var g errgroup.Group
	if c.opts.Parallelism > 0 {
		g.SetLimit(c.opts.Parallelism)
	}
	kind, _ := Terminated.Command()
	for _, h := range targets {
		h := h // per-iteration copy; go directive is 1.21
		g.Go(func() error {
			hctx, cancel := context.WithTimeout(ctx, c.opts.CommandTimeout)
			defer cancel()
			if _, err := c.send(hctx, run, h, kind); err != nil {
				logger.WithHost("COORDINATOR", h.Host.Name).Warn("Terminate failed", "error", err)
				return nil
			}
			if !h.Degraded {
				h.Phase = Terminated
			}
			return nil
		})
	}
	_ = g.Wait()
	phaseDuration.WithLabelValues(Terminated.String()).Observe(time.Since(start).Seconds())
	run.Phase = Terminated
}

// collectAll copies snapshot files of every healthy host that took at least
// one snapshot. A host whose files do not show up is degraded with
// MISSING_SNAPSHOT.
func (c *Coordinator) collectAll(ctx context.Context, run *Run) error {
	hosts := lo.Filter(run.Healthy(), func(h *HostState, _ int) bool { return len(h.Snapshots) > 0 })
	if len(hosts) == 0 {
		return nil
	}
	c.logger.Info("Entering phase", "phase", Collected, "hosts", len(hosts), "local_dir", run.LocalDir)
	start := time.Now()

	var (
		mu     sync.Mutex
		failed []*HostState
	)
	var g errgroup.Group
	if c.opts.Parallelism > 0 {
		g.SetLimit(c.opts.Parallelism)
	}
	for _, h := range hosts {
		h := h // per-iteration copy; go directive is 1.21
		g.Go(func() error {
			if err := c.collect(ctx, run, h); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				h.degrade(Collected, err)
				mu.Lock()
				failed = append(failed, h)
				mu.Unlock()
				return nil
			}
			h.Phase = Collected
			return nil
		})
	}
	_ = g.Wait()
	phaseDuration.WithLabelValues(Collected.String()).Observe(time.Since(start).Seconds())

	if err := ctx.Err(); err != nil {
		return cancelled(Collected, err)
	}
	for _, h := range failed {
		c.recordFault(Collected, h)
	}
	return nil
}

// collect pulls the host's files until every acknowledged snapshot index
// is complete locally or the retry budget runs out.
func (c *Coordinator) collect(ctx context.Context, run *Run, h *HostState) error {
	indices := lo.Uniq(lo.Values(h.Snapshots))
	slices.Sort(indices)

	var (
		missing []int
		lastErr error
	)
	err := wait.PollUntilContextTimeout(ctx, c.opts.SnapshotRetryInterval, c.opts.SnapshotRetry, true,
		func(ctx context.Context) (bool, error) {
			cctx, cancel := context.WithTimeout(ctx, c.opts.CommandTimeout)
			files, err := c.transport.Collect(cctx, h.Host, run.RemoteDir, run.LocalDir)
			cancel()
			if err != nil {
				lastErr = err
				return false, nil
			}
			h.Files = files
			missing = lo.Filter(indices, func(i int, _ int) bool {
				return !snapshot.Complete(run.LocalDir, h.Host.Name, i)
			})
			return len(missing) == 0, nil
		})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if missing == nil && lastErr != nil {
		return hostFault(ctx, h.Host, Collected, lastErr)
	}
	return faults.New(faults.MissingSnapshot, "snapshot indices %v not found in %s after %s",
		missing, run.LocalDir, c.opts.SnapshotRetry).ForHost(h.Host.Name)
}

// hostFault attributes err to host, classifying plain errors by the state of
// the per-command context.
func hostFault(ctx context.Context, host snapshot.Host, phase Phase, err error) error {
	var f *faults.Fault
	if errors.As(err, &f) {
		if f.Host == "" {
			return f.ForHost(host.Name)
		}
		return err
	}
	code := faults.Connectivity
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		code = faults.Timeout
	}
	return faults.Wrap(code, err, "%s", phase).ForHost(host.Name)
}

func fatal(phase Phase, failed []*HostState) error {
	code := faults.CodeOf(failed[0].Fault)
	if phase == Launched {
		code = faults.LaunchFailed
	}
	names := hostNames(failed)
	f := faults.Wrap(code, failed[0].Fault, "%s failed on %s", phase, strings.Join(names, ", "))
	if len(failed) == 1 {
		return f.ForHost(names[0])
	}
	return f
}

func cancelled(phase Phase, cause error) error {
	return faults.Wrap(faults.Cancelled, cause, "run cancelled during %s", phase)
}

func hostNames(hosts []*HostState) []string {
	return lo.Map(hosts, func(h *HostState, _ int) string { return h.Host.Name })
}

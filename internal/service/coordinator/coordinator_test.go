package coordinator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cstlee/RooBench/internal/agent"
	"github.com/cstlee/RooBench/internal/agent/agenttest"
	"github.com/cstlee/RooBench/internal/faults"
	"github.com/cstlee/RooBench/internal/snapshot"
)

func cluster() []snapshot.Host {
	return []snapshot.Host{
		{ID: 1, Name: "server-1", Address: "node1", Role: snapshot.RoleClient},
		{ID: 2, Name: "server-2", Address: "node2", Role: snapshot.RoleServer},
		{ID: 3, Name: "server-3", Address: "node3", Role: snapshot.RoleServer},
	}
}

func testOptions() Options {
	return Options{
		CommandTimeout:        time.Second,
		SnapshotRetry:         100 * time.Millisecond,
		SnapshotRetryInterval: 10 * time.Millisecond,
		Launch:                agent.LaunchSpec{Binary: "/opt/roobench/server", BenchType: "DPC", Threads: 2},
	}
}

// writeSnapshots plays the agent side of collection: every index up to 2 is
// present for the host.
func writeSnapshots(host snapshot.Host, _, localDir string) ([]string, error) {
	var files []string
	for i := 0; i < 3; i++ {
		s := &snapshot.Snapshot{Host: host.Name, Index: i, CyclesPerSecond: 1e9, Timestamp: uint64(i)}
		if err := snapshot.Write(localDir, s); err != nil {
			return nil, err
		}
		for _, name := range snapshot.FileNames(host.Name, i) {
			files = append(files, filepath.Join(localDir, name))
		}
	}
	return files, nil
}

func newRun(t *testing.T) *Run {
	t.Helper()
	return NewRun("unit", "~/logs/unit", t.TempDir(), cluster())
}

func indexOf(calls []agenttest.Call, kind agent.Kind, last bool) int {
	idx := -1
	for i, c := range calls {
		if c.Kind != kind {
			continue
		}
		idx = i
		if !last {
			return idx
		}
	}
	return idx
}

func TestPhaseSequence(t *testing.T) {
	var names []string
	for p := Unprovisioned; p != Collected; p = p.Next() {
		names = append(names, p.String())
	}
	assert.Equal(t, []string{"Unprovisioned", "Provisioned", "Launched", "Measuring0", "Active",
		"Measuring1a", "Measuring1b", "Stopped", "Terminated"}, names)
	assert.Equal(t, Collected, Collected.Next())
	assert.Equal(t, "Unknown", Phase(42).String())

	commands := map[Phase]agent.Kind{
		Launched:    agent.KindLaunch,
		Measuring0:  agent.KindSnapshot,
		Active:      agent.KindBegin,
		Measuring1a: agent.KindSnapshot,
		Measuring1b: agent.KindSnapshot,
		Stopped:     agent.KindStop,
		Terminated:  agent.KindTerminate,
	}
	for p := Unprovisioned; p <= Collected; p++ {
		kind, ok := p.Command()
		want, has := commands[p]
		assert.Equal(t, has, ok, p.String())
		assert.Equal(t, want, kind, p.String())
	}

	idx, ok := Measuring1b.SnapshotIndex()
	assert.True(t, ok)
	assert.Equal(t, 2, idx)

	assert.True(t, Launched.Fatal())
	assert.False(t, Measuring0.Fatal())
}

func TestExecuteCompletesRun(t *testing.T) {
	tr := agenttest.NewTransport()
	tr.OnCollect = writeSnapshots
	run := newRun(t)

	err := New(tr, testOptions()).Execute(context.Background(), run)
	require.NoError(t, err)

	assert.Equal(t, Collected, run.Phase)
	assert.Empty(t, run.Degraded())
	assert.Empty(t, run.Exclusions())
	for _, h := range run.Hosts {
		assert.Equal(t, Collected, h.Phase, h.Host.Name)
		assert.Equal(t, "pid-"+h.Host.Name, h.Identity)
		assert.Equal(t, map[Phase]int{Measuring0: 0, Measuring1a: 1, Measuring1b: 2}, h.Snapshots)
		assert.Len(t, h.Files, 6)
	}

	assert.Equal(t, []string{"server-1"}, tr.Hosts(agent.KindBegin))
	assert.Len(t, tr.Hosts(agent.KindSnapshot), 9)
	assert.ElementsMatch(t, []string{"server-1", "server-2", "server-3"}, tr.Hosts(agent.KindStop))
	assert.ElementsMatch(t, []string{"server-1", "server-2", "server-3"}, tr.Hosts(agent.KindTerminate))

	calls := tr.Calls()
	assert.Less(t, indexOf(calls, agenttest.OpProvision, true), indexOf(calls, agent.KindLaunch, false))
	assert.Less(t, indexOf(calls, agent.KindLaunch, true), indexOf(calls, agent.KindSnapshot, false))
	assert.Less(t, indexOf(calls, agent.KindBegin, true), indexOf(calls, agent.KindStop, false))
	assert.Less(t, indexOf(calls, agent.KindStop, true), indexOf(calls, agent.KindTerminate, false))
	assert.Less(t, indexOf(calls, agent.KindTerminate, true), indexOf(calls, agenttest.OpCollect, false))
}

func TestLaunchTimeoutAbortsRun(t *testing.T) {
	tr := agenttest.NewTransport()
	tr.Set("server-2", agent.KindLaunch, agenttest.Behavior{Delay: time.Second})
	opts := testOptions()
	opts.CommandTimeout = 50 * time.Millisecond
	run := newRun(t)

	err := New(tr, opts).Execute(context.Background(), run)
	require.Error(t, err)
	assert.Equal(t, faults.LaunchFailed, faults.CodeOf(err))
	var f *faults.Fault
	require.ErrorAs(t, err, &f)
	assert.Equal(t, "server-2", f.Host)
	assert.Contains(t, err.Error(), "server-2")

	assert.Empty(t, tr.Hosts(agent.KindBegin))
	assert.Empty(t, tr.Hosts(agent.KindSnapshot))
	assert.Empty(t, tr.Hosts(agenttest.OpCollect))
	assert.ElementsMatch(t, []string{"server-1", "server-2", "server-3"}, tr.Hosts(agent.KindTerminate))

	h, ok := run.Host("server-2")
	require.True(t, ok)
	assert.True(t, h.Degraded)
	assert.Equal(t, Launched, h.FailedPhase)
	assert.Equal(t, faults.Timeout, faults.CodeOf(h.Fault))
}

func TestLaunchRejected(t *testing.T) {
	tr := agenttest.NewTransport()
	tr.Set("server-3", agent.KindLaunch, agenttest.Behavior{Reject: "binary not found"})
	run := newRun(t)

	err := New(tr, testOptions()).Execute(context.Background(), run)
	require.Error(t, err)
	assert.Equal(t, faults.LaunchFailed, faults.CodeOf(err))
	assert.Contains(t, err.Error(), "binary not found")
	assert.Empty(t, tr.Hosts(agent.KindSnapshot))
	assert.Len(t, tr.Hosts(agent.KindTerminate), 3)
}

func TestProvisionFailureIsFatal(t *testing.T) {
	tr := agenttest.NewTransport()
	unreachable := faults.New(faults.Connectivity, "ssh: no route to host").ForHost("server-1")
	tr.Set("server-1", agenttest.OpProvision, agenttest.Behavior{Err: unreachable})
	run := newRun(t)

	err := New(tr, testOptions()).Execute(context.Background(), run)
	require.Error(t, err)
	assert.Equal(t, faults.Connectivity, faults.CodeOf(err))
	var f *faults.Fault
	require.ErrorAs(t, err, &f)
	assert.Equal(t, "server-1", f.Host)
	assert.Empty(t, tr.Hosts(agent.KindLaunch))
	assert.ElementsMatch(t, []string{"server-2", "server-3"}, tr.Hosts(agent.KindTerminate))
}

func TestSnapshotFailureDegradesHost(t *testing.T) {
	tr := agenttest.NewTransport()
	tr.OnCollect = writeSnapshots
	tr.Set("server-3", agent.KindSnapshot, agenttest.Behavior{Err: errors.New("connection reset")})
	run := newRun(t)

	err := New(tr, testOptions()).Execute(context.Background(), run)
	require.NoError(t, err)

	h, ok := run.Host("server-3")
	require.True(t, ok)
	assert.True(t, h.Degraded)
	assert.Equal(t, Measuring0, h.FailedPhase)
	assert.Equal(t, faults.Connectivity, faults.CodeOf(h.Fault))
	assert.ErrorContains(t, h.Fault, "host=server-3")

	assert.NotContains(t, tr.Hosts(agent.KindStop), "server-3")
	assert.NotContains(t, tr.Hosts(agenttest.OpCollect), "server-3")
	assert.Contains(t, tr.Hosts(agent.KindTerminate), "server-3")

	assert.Equal(t, []snapshot.Host{cluster()[0], cluster()[1]}, run.HealthyHosts())
	excl := run.Exclusions()
	require.Len(t, excl, 1)
	assert.Equal(t, "server-3", excl[0].Host)
	assert.Equal(t, faults.Connectivity, excl[0].Code)
}

func TestBarrierWaitsForSlowHost(t *testing.T) {
	tr := agenttest.NewTransport()
	tr.OnCollect = writeSnapshots
	tr.Set("server-3", agent.KindSnapshot, agenttest.Behavior{Delay: 150 * time.Millisecond})
	run := newRun(t)

	require.NoError(t, New(tr, testOptions()).Execute(context.Background(), run))

	slow, ok := tr.Call("server-3", agent.KindSnapshot)
	require.True(t, ok)
	fast, ok := tr.Call("server-1", agent.KindSnapshot)
	require.True(t, ok)
	begin, ok := tr.Call("server-1", agent.KindBegin)
	require.True(t, ok)

	assert.False(t, begin.Start.Before(slow.End), "begin sent before the slow snapshot returned")
	assert.GreaterOrEqual(t, begin.Start.Sub(fast.End), 100*time.Millisecond)
	assert.Empty(t, run.Degraded())
}

func TestUnexpectedSnapshotIndexDegradesHost(t *testing.T) {
	tr := agenttest.NewTransport()
	tr.OnCollect = writeSnapshots
	tr.Set("server-2", agent.KindSnapshot, agenttest.Behavior{IndexOffset: 1})
	run := newRun(t)

	require.NoError(t, New(tr, testOptions()).Execute(context.Background(), run))

	h, ok := run.Host("server-2")
	require.True(t, ok)
	assert.True(t, h.Degraded)
	assert.Equal(t, Measuring0, h.FailedPhase)
	assert.Equal(t, faults.MalformedSnapshot, faults.CodeOf(h.Fault))
	assert.Equal(t, "index", faults.FieldOf(h.Fault))
	assert.Empty(t, h.Snapshots)
	assert.Len(t, only(tr.Hosts(agent.KindSnapshot), "server-2"), 1)
	assert.NotContains(t, tr.Hosts(agenttest.OpCollect), "server-2")
}

func TestMissingSnapshotDegradesHost(t *testing.T) {
	tr := agenttest.NewTransport()
	tr.OnCollect = func(host snapshot.Host, remoteDir, localDir string) ([]string, error) {
		if host.Name == "server-2" {
			return nil, nil
		}
		return writeSnapshots(host, remoteDir, localDir)
	}
	run := newRun(t)

	err := New(tr, testOptions()).Execute(context.Background(), run)
	require.NoError(t, err)

	h, ok := run.Host("server-2")
	require.True(t, ok)
	assert.True(t, h.Degraded)
	assert.Equal(t, Collected, h.FailedPhase)
	assert.Equal(t, faults.MissingSnapshot, faults.CodeOf(h.Fault))
	assert.Greater(t, len(only(tr.Hosts(agenttest.OpCollect), "server-2")), 1, "collection should be retried")
	assert.Len(t, run.Healthy(), 2)
}

func TestCancellationTerminatesHosts(t *testing.T) {
	tr := agenttest.NewTransport()
	tr.OnCollect = writeSnapshots
	opts := testOptions()
	opts.Measure = 10 * time.Second
	run := newRun(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := New(tr, opts).Execute(ctx, run)
	require.Error(t, err)
	assert.Equal(t, faults.Cancelled, faults.CodeOf(err))
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.Equal(t, []string{"server-1"}, tr.Hosts(agent.KindBegin))
	assert.Empty(t, tr.Hosts(agent.KindStop))
	assert.ElementsMatch(t, []string{"server-1", "server-2", "server-3"}, tr.Hosts(agent.KindTerminate))
	assert.NotEmpty(t, tr.Hosts(agenttest.OpCollect), "collection is still attempted")
	for _, h := range run.Hosts {
		assert.Equal(t, map[Phase]int{Measuring0: 0}, h.Snapshots)
	}
}

func TestParallelismLimit(t *testing.T) {
	tr := agenttest.NewTransport()
	tr.OnCollect = writeSnapshots
	for _, h := range cluster() {
		tr.Set(h.Name, agent.KindStop, agenttest.Behavior{Delay: 30 * time.Millisecond})
	}
	opts := testOptions()
	opts.Parallelism = 1
	run := newRun(t)

	start := time.Now()
	require.NoError(t, New(tr, opts).Execute(context.Background(), run))
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func only(hosts []string, name string) []string {
	var out []string
	for _, h := range hosts {
		if h == name {
			out = append(out, h)
		}
	}
	return out
}

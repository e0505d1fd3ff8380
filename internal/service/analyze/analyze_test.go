package analyze

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cstlee/RooBench/internal/aggregate"
	"github.com/cstlee/RooBench/internal/faults"
	"github.com/cstlee/RooBench/internal/snapshot"
)

const ringSize = 128

func ring() []uint64 {
	buf := make([]uint64, ringSize)
	for i := range buf {
		buf[i] = uint64(1000 + i)
	}
	return buf
}

func hostSnapshot(host string, index int, ts, count, active uint64) *snapshot.Snapshot {
	return &snapshot.Snapshot{
		Host:              host,
		Index:             index,
		Timestamp:         ts,
		CyclesPerSecond:   1000,
		ActiveCycles:      active,
		APICycles:         active / 2,
		IdleCycles:        ts - active,
		Bytes:             snapshot.ByteCounters{TxMessage: count * 64, RxMessage: count * 64},
		BenchTimestamp:    ts,
		BenchActiveCycles: active,
		Client: snapshot.ClientStats{
			Count:     count,
			Unit:      "ns",
			Capacity:  ringSize,
			Latencies: ring(),
		},
		Tasks: []snapshot.TaskStat{{ID: 1, Count: count}},
	}
}

func writePair(t *testing.T, dir string, before, after *snapshot.Snapshot) {
	t.Helper()
	require.NoError(t, snapshot.Write(dir, before))
	require.NoError(t, snapshot.Write(dir, after))
}

func hosts() []snapshot.Host {
	return []snapshot.Host{
		{ID: 1, Name: "server-1", Role: snapshot.RoleClient},
		{ID: 2, Name: "server-2", Role: snapshot.RoleServer},
	}
}

func TestAnalyzeWindow(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, hostSnapshot("server-1", 0, 1000, 10, 400), hostSnapshot("server-1", 1, 3000, 60, 1400))
	writePair(t, dir, hostSnapshot("server-2", 0, 1000, 0, 100), hostSnapshot("server-2", 1, 3000, 0, 600))

	report, err := New(Options{Dir: dir, AfterIndex: 1}).Analyze(hosts(), nil)
	require.NoError(t, err)

	assert.Equal(t, 50, report.Latency.Samples)
	assert.Equal(t, aggregate.Of(1010), report.Latency.Get(0))
	assert.Equal(t, aggregate.Of(1035), report.Latency.Get(50))
	assert.Equal(t, aggregate.Of(1059), report.Latency.Get(99))

	assert.Equal(t, uint64(50), report.Throughput.Operations)
	assert.Equal(t, aggregate.Of(25), report.Throughput.OpsPerSecond)
	assert.Empty(t, report.Excluded)
	require.Len(t, report.CPU.Hosts, 2)
	assert.Equal(t, aggregate.Of(0.5), report.CPU.Hosts[0].Total)
}

func TestAnalyzeExcludesRestartedHost(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, hostSnapshot("server-1", 0, 1000, 10, 400), hostSnapshot("server-1", 1, 3000, 60, 1400))
	// The agent restarted between snapshots, so its counters went backwards.
	writePair(t, dir, hostSnapshot("server-2", 0, 1000, 0, 900), hostSnapshot("server-2", 1, 3000, 0, 50))

	report, err := New(Options{Dir: dir, AfterIndex: 1}).Analyze(hosts(), nil)
	require.NoError(t, err)

	require.Len(t, report.Excluded, 1)
	assert.Equal(t, "server-2", report.Excluded[0].Host)
	assert.Equal(t, faults.CounterRegression, report.Excluded[0].Code)
	assert.Equal(t, "active_cycles", report.Excluded[0].Field)
	require.Len(t, report.Hosts, 1)
	assert.Equal(t, "server-1", report.Hosts[0].Name)
}

func TestAnalyzeKeepsCallerExclusions(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, hostSnapshot("server-1", 0, 1000, 10, 400), hostSnapshot("server-1", 1, 3000, 60, 1400))

	prior := []aggregate.Exclusion{{Host: "server-2", Code: faults.Timeout, Reason: "snapshot timed out"}}
	report, err := New(Options{Dir: dir, AfterIndex: 1}).Analyze(hosts()[:1], prior)
	require.NoError(t, err)
	assert.Equal(t, prior, report.Excluded)
}

func TestAnalyzeNoUsableData(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, hostSnapshot("server-2", 0, 1000, 0, 100), hostSnapshot("server-2", 1, 3000, 0, 600))

	_, err := New(Options{Dir: dir, AfterIndex: 1}).Analyze(hosts(), nil)
	require.Error(t, err)
	assert.Equal(t, faults.NoUsableData, faults.CodeOf(err))
	assert.Contains(t, err.Error(), "server-1")
}

func TestAnalyzeMissingDir(t *testing.T) {
	_, err := New(Options{Dir: "/nonexistent/run"}).Analyze(hosts(), nil)
	assert.Equal(t, faults.InvalidConfig, faults.CodeOf(err))
}

func TestDiscoverHosts(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, hostSnapshot("server-3", 0, 1000, 0, 100), hostSnapshot("server-3", 1, 3000, 0, 600))
	writePair(t, dir, hostSnapshot("server-1", 0, 1000, 10, 400), hostSnapshot("server-1", 1, 3000, 60, 1400))

	t.Run("roles inferred from client counters", func(t *testing.T) {
		got, err := DiscoverHosts(dir, 1, nil, nil)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "server-1", got[0].Name)
		assert.Equal(t, snapshot.RoleClient, got[0].Role)
		assert.Equal(t, snapshot.RoleServer, got[1].Role)
	})

	t.Run("explicit client list", func(t *testing.T) {
		got, err := DiscoverHosts(dir, 1, nil, []string{"server-3"})
		require.NoError(t, err)
		assert.Equal(t, snapshot.RoleServer, got[0].Role)
		assert.Equal(t, snapshot.RoleClient, got[1].Role)
	})

	t.Run("configured hosts win", func(t *testing.T) {
		known := []snapshot.Host{{ID: 7, Name: "server-3", Address: "node3", Role: snapshot.RoleClient}}
		got, err := DiscoverHosts(dir, 1, known, nil)
		require.NoError(t, err)
		assert.Equal(t, known[0], got[1])
	})

	t.Run("discovered ids stay clear of configured ids", func(t *testing.T) {
		known := []snapshot.Host{{ID: 1, Name: "server-3", Address: "node3", Role: snapshot.RoleServer}}
		got, err := DiscoverHosts(dir, 1, known, nil)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "server-1", got[0].Name)
		assert.Equal(t, 2, got[0].ID)
		assert.Equal(t, 1, got[1].ID)
	})

	t.Run("ids numbered in discovery order without config", func(t *testing.T) {
		got, err := DiscoverHosts(dir, 1, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2}, []int{got[0].ID, got[1].ID})
	})

	t.Run("empty directory", func(t *testing.T) {
		_, err := DiscoverHosts(t.TempDir(), 1, nil, nil)
		assert.Equal(t, faults.NoUsableData, faults.CodeOf(err))
	})
}

package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cstlee/RooBench/config"
	"github.com/cstlee/RooBench/internal/agent"
	"github.com/cstlee/RooBench/internal/snapshot"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestAgentTerminatePrintsAck(t *testing.T) {
	out, err := execute(t, "agent", "terminate", "--host", "server-1", "--dir", t.TempDir(), "--id", "cmd-1")
	require.NoError(t, err)

	ack, err := agent.ParseAck([]byte(out))
	require.NoError(t, err)
	assert.True(t, ack.OK)
	assert.Equal(t, "cmd-1", ack.ID)
	assert.Equal(t, agent.KindTerminate, ack.Kind)
	assert.Equal(t, "server-1", ack.Host)
}

func TestAgentSnapshotWithoutLaunchIsRejected(t *testing.T) {
	out, err := execute(t, "agent", "snapshot", "--host", "server-2", "--dir", t.TempDir(), "--id", "cmd-2")
	require.Error(t, err)

	ack, perr := agent.ParseAck([]byte(out))
	require.NoError(t, perr)
	assert.False(t, ack.OK)
	assert.NotEmpty(t, ack.Message)
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	_, err := execute(t, "config", "init", "--config", path)
	require.NoError(t, err)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}

func TestStatsCommand(t *testing.T) {
	dir := t.TempDir()
	for i, count := range []uint64{10, 30} {
		s := &snapshot.Snapshot{
			Host:            "server-1",
			Index:           i,
			Timestamp:       uint64(1000 * (i + 1)),
			BenchTimestamp:  uint64(1000 * (i + 1)),
			CyclesPerSecond: 1000,
			Client:          snapshot.ClientStats{Count: count, Unit: "ns", Capacity: 64, Latencies: make([]uint64, 64)},
		}
		require.NoError(t, snapshot.Write(dir, s))
	}

	out, err := execute(t, "stats", dir, "--config", filepath.Join(t.TempDir(), "none.yaml"), "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"operations": 20`)
	assert.Contains(t, out, `"name": "server-1"`)
}

func TestCoordinatorOptions(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Timing.MeasureSeconds = 5
	cfg.Agent.Threads = 8

	opts := coordinatorOptions(cfg)
	assert.Equal(t, cfg.Timing.Measure(), opts.Measure)
	assert.Equal(t, cfg.Timing.CommandTimeout(), opts.CommandTimeout)
	assert.Equal(t, 8, opts.Launch.Threads)
	assert.Equal(t, cfg.Agent.Binary, opts.Launch.Binary)
}

func TestSaveRunConfig(t *testing.T) {
	bench := filepath.Join(t.TempDir(), "BenchConfig.json")
	require.NoError(t, os.WriteFile(bench, []byte(`{"rpc_size": 100}`), 0644))

	cfg := config.NewDefaultConfig()
	cfg.RunName = "smoke"
	cfg.Agent.BenchConfig = bench
	dir := t.TempDir()
	require.NoError(t, saveRunConfig(cfg, dir))

	saved, err := config.LoadConfig(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "smoke", saved.RunName)
	assert.Equal(t, bench, saved.Agent.BenchConfig)

	data, err := os.ReadFile(filepath.Join(dir, "BenchConfig.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"rpc_size": 100}`, string(data))
}

func TestSaveRunConfigRemoteBenchConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Agent.BenchConfig = filepath.Join(t.TempDir(), "missing", "BenchConfig.json")
	dir := t.TempDir()
	require.NoError(t, saveRunConfig(cfg, dir))

	assert.FileExists(t, filepath.Join(dir, "config.yaml"))
	assert.NoFileExists(t, filepath.Join(dir, "BenchConfig.json"))
}

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cstlee/RooBench/internal/agent"
	"github.com/cstlee/RooBench/internal/agentd"
	"github.com/cstlee/RooBench/internal/faults"
	"github.com/cstlee/RooBench/internal/snapshot"
)

// benchProcess acts like the benchmark binary: every snapshot signal writes
// the next indexed file pair synchronously.
type benchProcess struct {
	mu    sync.Mutex
	req   agentd.LaunchRequest
	dumps int
	alive bool
}

func (p *benchProcess) Start(req agentd.LaunchRequest) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.req, p.alive = req, true
	return 99, nil
}

func (p *benchProcess) Signal(pid int, sig agentd.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch sig {
	case agentd.SignalSnapshot:
		s := &snapshot.Snapshot{Host: p.req.Host, Index: p.dumps, CyclesPerSecond: 1e9, Timestamp: uint64(p.dumps)}
		p.dumps++
		return snapshot.Write(p.req.LogDir, s)
	case agentd.SignalKill:
		p.alive = false
	}
	return nil
}

func (p *benchProcess) Alive(int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

func newTestServer(t *testing.T) (*httptest.Server, snapshot.Host) {
	ctrl := agentd.NewController(agentd.Options{Processes: &benchProcess{}, SnapshotTimeout: time.Second, PollInterval: time.Millisecond})
	ts := httptest.NewServer(NewServer(0, ctrl).Handler())
	t.Cleanup(ts.Close)
	host := snapshot.Host{ID: 1, Name: "server-1", Address: strings.TrimPrefix(ts.URL, "http://"), Role: snapshot.RoleClient}
	return ts, host
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, CodeOK, body.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPTransportRoundTrip(t *testing.T) {
	_, host := newTestServer(t)
	base := t.TempDir()
	remoteDir := filepath.Join(base, "run-1")
	tr := agent.NewHTTPTransport("http", 0, nil)
	defer tr.Close()
	ctx := context.Background()

	require.NoError(t, tr.Provision(ctx, host, remoteDir))
	assert.DirExists(t, remoteDir)

	launch := agent.NewCommand(agent.KindLaunch, host.Name, remoteDir)
	launch.Launch = &agent.LaunchSpec{Binary: "/bin/server", BenchType: "DPC", Role: snapshot.RoleClient, Threads: 1}
	ack, err := tr.Send(ctx, host, launch)
	require.NoError(t, err)
	require.True(t, ack.OK, ack.Message)
	assert.Equal(t, "99", ack.Identity)

	for want := 0; want < 2; want++ {
		ack, err = tr.Send(ctx, host, agent.NewCommand(agent.KindSnapshot, host.Name, remoteDir))
		require.NoError(t, err)
		require.True(t, ack.OK, ack.Message)
		assert.Equal(t, want, ack.Index)
	}

	ack, err = tr.Send(ctx, host, agent.NewCommand(agent.KindTerminate, host.Name, remoteDir))
	require.NoError(t, err)
	assert.True(t, ack.OK)

	localDir := filepath.Join(t.TempDir(), "collected")
	files, err := tr.Collect(ctx, host, remoteDir, localDir)
	require.NoError(t, err)
	assert.Len(t, files, 4)

	got, err := snapshot.Load(localDir, host.Name, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Timestamp)
}

func TestHTTPTransportNegativeAck(t *testing.T) {
	_, host := newTestServer(t)
	tr := agent.NewHTTPTransport("http", 0, nil)

	ack, err := tr.Send(context.Background(), host, agent.NewCommand(agent.KindBegin, host.Name, t.TempDir()))
	require.NoError(t, err)
	assert.False(t, ack.OK)
	assert.Equal(t, agent.KindBegin, ack.Kind)
	assert.Contains(t, ack.Message, "not launched")
}

func TestHTTPTransportUnreachable(t *testing.T) {
	ts, host := newTestServer(t)
	ts.Close()
	tr := agent.NewHTTPTransport("http", 0, nil)

	_, err := tr.Send(context.Background(), host, agent.NewCommand(agent.KindStop, host.Name, "/tmp"))
	require.Error(t, err)
	assert.Equal(t, faults.Connectivity, faults.CodeOf(err))
}

func TestUnknownCommand(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Post(ts.URL+"/api/v1/commands/reboot", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetFileRejectsTraversal(t *testing.T) {
	ts, _ := newTestServer(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "server-1.out.log"), []byte("ok"), 0644))

	resp, err := http.Get(ts.URL + "/api/v1/files/server-1.out.log?dir=" + dir)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/v1/files/missing.json?dir=" + dir)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/v1/files/server-1.out.log")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

package agent_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cstlee/RooBench/internal/agent"
	"github.com/cstlee/RooBench/internal/agent/agenttest"
	"github.com/cstlee/RooBench/internal/faults"
	"github.com/cstlee/RooBench/internal/snapshot"
)

var host = snapshot.Host{ID: 2, Name: "server-2", Address: "node2", Role: snapshot.RoleServer}

// echoAgent answers every command on host's topic, optionally twice to
// exercise duplicate delivery.
func echoAgent(t *testing.T, broker *agenttest.Broker, prefix string, duplicate bool) {
	c := broker.Client()
	c.Subscribe(agent.CommandTopic(prefix, host.Name), 1, func(_ mqtt.Client, msg mqtt.Message) {
		var cmd agent.Command
		if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
			t.Errorf("undecodable command: %v", err)
			return
		}
		ack := agent.Reply(cmd, nil)
		ack.Index = 3
		data, _ := json.Marshal(ack)
		c.Publish(agent.AckTopic(prefix, host.Name), 1, false, data)
		if duplicate {
			c.Publish(agent.AckTopic(prefix, host.Name), 1, false, data)
		}
	})
}

func TestMQTTSendRoundTrip(t *testing.T) {
	broker := agenttest.NewBroker()
	echoAgent(t, broker, "roobench", true)

	files := agenttest.NewTransport()
	tr, err := agent.NewMQTTTransport(context.Background(), broker.Client(), "roobench", 1, files)
	require.NoError(t, err)
	defer tr.Close()

	for i := 0; i < 3; i++ {
		cmd := agent.NewCommand(agent.KindSnapshot, host.Name, "/logs/run")
		ack, err := tr.Send(context.Background(), host, cmd)
		require.NoError(t, err)
		assert.True(t, ack.OK)
		assert.Equal(t, cmd.ID, ack.ID)
		assert.Equal(t, 3, ack.Index)
	}
}

func TestMQTTSendTimeout(t *testing.T) {
	broker := agenttest.NewBroker()
	tr, err := agent.NewMQTTTransport(context.Background(), broker.Client(), "roobench", 1, agenttest.NewTransport())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = tr.Send(ctx, host, agent.NewCommand(agent.KindBegin, host.Name, "/logs/run"))
	require.Error(t, err)
	assert.Equal(t, faults.Timeout, faults.CodeOf(err))
	assert.ErrorContains(t, err, "host="+host.Name)
}

func TestMQTTDelegatesFiles(t *testing.T) {
	broker := agenttest.NewBroker()
	files := agenttest.NewTransport()
	tr, err := agent.NewMQTTTransport(context.Background(), broker.Client(), "p", 0, files)
	require.NoError(t, err)

	require.NoError(t, tr.Provision(context.Background(), host, "/logs/run"))
	_, err = tr.Collect(context.Background(), host, "/logs/run", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, []string{host.Name}, files.Hosts(agenttest.OpProvision))
	assert.Equal(t, []string{host.Name}, files.Hosts(agenttest.OpCollect))
	assert.Len(t, files.Calls(), 2)
}

func TestTopicMatch(t *testing.T) {
	assert.True(t, agenttest.Match("roobench/+/ack", "roobench/server-1/ack"))
	assert.False(t, agenttest.Match("roobench/+/ack", "roobench/server-1/command"))
	assert.True(t, agenttest.Match("roobench/#", "roobench/server-1/ack"))
	assert.False(t, agenttest.Match("roobench/+", "roobench/server-1/ack"))
}

func TestAckErr(t *testing.T) {
	assert.NoError(t, agent.Ack{Kind: agent.KindStop, OK: true}.Err())

	err := agent.Ack{Kind: agent.KindLaunch, Host: "server-3", Message: "no such binary"}.Err()
	assert.Equal(t, faults.LaunchFailed, faults.CodeOf(err))
	assert.ErrorContains(t, err, "host=server-3")
	assert.Contains(t, err.Error(), "no such binary")
}

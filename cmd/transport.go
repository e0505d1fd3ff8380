package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cstlee/RooBench/config"
	"github.com/cstlee/RooBench/internal/agent"
)

// newTransport builds the agent transport selected by agent.transport.
func newTransport(ctx context.Context, cfg *config.Config) (agent.Transport, error) {
	switch cfg.Agent.Transport {
	case config.TransportSSH:
		return sshTransport(cfg), nil
	case config.TransportHTTP:
		return httpTransport(cfg), nil
	case config.TransportMQTT:
		var files agent.Transport = sshTransport(cfg)
		if cfg.MQTT.FileTransport == config.TransportHTTP {
			files = httpTransport(cfg)
		}
		client, err := agent.DialMQTT(cfg.MQTT.Broker, "roobench-"+uuid.NewString(), cfg.Timing.CommandTimeout())
		if err != nil {
			return nil, err
		}
		t, err := agent.NewMQTTTransport(ctx, client, cfg.MQTT.TopicPrefix, byte(cfg.MQTT.QoS), files)
		if err != nil {
			client.Disconnect(250)
			return nil, err
		}
		return t, nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Agent.Transport)
}

func sshTransport(cfg *config.Config) *agent.SSHTransport {
	return agent.NewSSHTransport(agent.SSHOptions{
		User:       cfg.SSH.User,
		PrivateKey: cfg.SSH.PrivateKey,
		RemoteCLI:  cfg.Agent.RemoteCLI,
		Sudo:       cfg.Agent.Sudo,
		Rate:       cfg.SSH.DispatchRate,
		Burst:      cfg.SSH.DispatchBurst,
	})
}

func httpTransport(cfg *config.Config) *agent.HTTPTransport {
	return agent.NewHTTPTransport(cfg.HTTP.Scheme, cfg.HTTP.Port, nil)
}

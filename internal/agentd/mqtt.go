package agentd

import (
	"context"
	"encoding/json"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/cstlee/RooBench/internal/agent"
	"github.com/cstlee/RooBench/pkg/tools/logger"
)

// ServeMQTT answers commands published for host until ctx ends. Each command
// is handled in its own goroutine; the controller serializes them.
func ServeMQTT(ctx context.Context, client agent.MQTTClient, prefix, host string, qos byte, ctrl *Controller) error {
	log := logger.WithHost("AGENT", host)
	topic := agent.CommandTopic(prefix, host)
	ackTopic := agent.AckTopic(prefix, host)

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		var cmd agent.Command
		if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
			log.Warn("Dropping undecodable command", "topic", msg.Topic(), "error", err)
			return
		}
		if cmd.Host == "" {
			cmd.Host = host
		}
		go func() {
			ack := ctrl.Handle(ctx, cmd)
			data, err := json.Marshal(ack)
			if err != nil {
				log.Error("Failed to encode ack", "error", err)
				return
			}
			if err := agent.WaitToken(ctx, client.Publish(ackTopic, qos, false, data)); err != nil {
				log.Warn("Failed to publish ack", "id", cmd.ID, "error", err)
			}
		}()
	}

	if err := agent.WaitToken(ctx, client.Subscribe(topic, qos, handler)); err != nil {
		return err
	}
	log.Info("Listening for commands", "topic", topic)
	<-ctx.Done()
	client.Unsubscribe(topic)
	return nil
}

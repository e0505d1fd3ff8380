package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/cstlee/RooBench/internal/faults"
	"github.com/cstlee/RooBench/internal/snapshot"
	"github.com/cstlee/RooBench/pkg/tools/logger"
)

// MQTTClient is the part of mqtt.Client the command channel needs.
type MQTTClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Disconnect(quiesce uint)
}

// CommandTopic is where the agent of host listens for commands.
func CommandTopic(prefix, host string) string {
	return fmt.Sprintf("%s/%s/command", prefix, host)
}

// AckTopic is where the agent of host publishes acknowledgments.
func AckTopic(prefix, host string) string {
	return fmt.Sprintf("%s/%s/ack", prefix, host)
}

// DialMQTT connects to broker with the given client id.
func DialMQTT(broker, clientID string, timeout time.Duration) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetConnectTimeout(timeout)

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, faults.New(faults.Timeout, "connect to %s timed out after %s", broker, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, faults.Wrap(faults.Connectivity, err, "connect to %s", broker)
	}
	return c, nil
}

// WaitToken blocks until tok completes or ctx ends.
func WaitToken(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MQTTTransport publishes commands to per-host topics and matches the
// acknowledgments by command id. Provisioning and file collection are
// delegated to files.
type MQTTTransport struct {
	client MQTTClient
	prefix string
	qos    byte
	files  Transport
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]chan Ack
}

func NewMQTTTransport(ctx context.Context, client MQTTClient, prefix string, qos byte, files Transport) (*MQTTTransport, error) {
	t := &MQTTTransport{
		client:  client,
		prefix:  prefix,
		qos:     qos,
		files:   files,
		logger:  logger.WithComponent("MQTT"),
		pending: make(map[string]chan Ack),
	}
	if err := WaitToken(ctx, client.Subscribe(AckTopic(prefix, "+"), qos, t.onAck)); err != nil {
		return nil, faults.Wrap(faults.Connectivity, err, "subscribe %s", AckTopic(prefix, "+"))
	}
	return t, nil
}

func (t *MQTTTransport) onAck(_ mqtt.Client, msg mqtt.Message) {
	var ack Ack
	if err := json.Unmarshal(msg.Payload(), &ack); err != nil {
		t.logger.Warn("Dropping undecodable ack", "topic", msg.Topic(), "error", err)
		return
	}
	t.mu.Lock()
	ch, ok := t.pending[ack.ID]
	t.mu.Unlock()
	if !ok {
		t.logger.Debug("Ack for unknown command", "id", ack.ID, "topic", msg.Topic())
		return
	}
	select {
	case ch <- ack:
	default:
	}
}

func (t *MQTTTransport) Provision(ctx context.Context, host snapshot.Host, dir string) error {
	return t.files.Provision(ctx, host, dir)
}

func (t *MQTTTransport) Send(ctx context.Context, host snapshot.Host, cmd Command) (Ack, error) {
	if err := checkCommand(host, cmd); err != nil {
		return Ack{}, err
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return Ack{}, err
	}

	ch := make(chan Ack, 1)
	t.mu.Lock()
	t.pending[cmd.ID] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, cmd.ID)
		t.mu.Unlock()
	}()

	topic := CommandTopic(t.prefix, host.Name)
	if err := WaitToken(ctx, t.client.Publish(topic, t.qos, false, payload)); err != nil {
		return Ack{}, deliveryError(ctx, host, err, "publish %s", describe(host, cmd))
	}
	select {
	case ack := <-ch:
		return fillAck(ack, host, cmd), nil
	case <-ctx.Done():
		return Ack{}, deliveryError(ctx, host, ctx.Err(), "no ack for %s", describe(host, cmd))
	}
}

func (t *MQTTTransport) Collect(ctx context.Context, host snapshot.Host, remoteDir, localDir string) ([]string, error) {
	return t.files.Collect(ctx, host, remoteDir, localDir)
}

func (t *MQTTTransport) Close() error {
	t.client.Unsubscribe(AckTopic(t.prefix, "+"))
	t.client.Disconnect(250)
	return t.files.Close()
}

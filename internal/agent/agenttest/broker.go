// Package agenttest provides in-memory stand-ins for the agent transports.
package agenttest

import (
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Broker routes messages between Clients in process. It understands the
// single-level "+" and trailing "#" wildcards.
type Broker struct {
	mu   sync.Mutex
	subs []subscription
}

type subscription struct {
	client  *Client
	filter  string
	handler mqtt.MessageHandler
}

func NewBroker() *Broker {
	return &Broker{}
}

// Client returns a new connection to the broker.
func (b *Broker) Client() *Client {
	return &Client{broker: b}
}

func (b *Broker) deliver(topic string, payload []byte) {
	b.mu.Lock()
	var targets []mqtt.MessageHandler
	for _, s := range b.subs {
		if Match(s.filter, topic) {
			targets = append(targets, s.handler)
		}
	}
	b.mu.Unlock()
	for _, h := range targets {
		go h(nil, &message{topic: topic, payload: payload})
	}
}

// Match reports whether topic matches the subscription filter.
func Match(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, f := range fp {
		if f == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if f != "+" && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}

// Client implements agent.MQTTClient against a Broker.
type Client struct {
	broker *Broker
}

func (c *Client) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = append([]byte(nil), p...)
	case string:
		data = []byte(p)
	}
	c.broker.deliver(topic, data)
	return doneToken(nil)
}

func (c *Client) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.broker.mu.Lock()
	c.broker.subs = append(c.broker.subs, subscription{client: c, filter: topic, handler: callback})
	c.broker.mu.Unlock()
	return doneToken(nil)
}

func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	kept := c.broker.subs[:0]
	for _, s := range c.broker.subs {
		drop := false
		if s.client == c {
			for _, t := range topics {
				drop = drop || s.filter == t
			}
		}
		if !drop {
			kept = append(kept, s)
		}
	}
	c.broker.subs = kept
	return doneToken(nil)
}

func (c *Client) Disconnect(uint) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	kept := c.broker.subs[:0]
	for _, s := range c.broker.subs {
		if s.client != c {
			kept = append(kept, s)
		}
	}
	c.broker.subs = kept
}

type token struct {
	err  error
	done chan struct{}
}

func doneToken(err error) *token {
	t := &token{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *token) Wait() bool                     { return true }
func (t *token) WaitTimeout(time.Duration) bool { return true }
func (t *token) Done() <-chan struct{}          { return t.done }
func (t *token) Error() error                   { return t.err }

type message struct {
	topic   string
	payload []byte
}

func (m *message) Duplicate() bool   { return false }
func (m *message) Qos() byte         { return 1 }
func (m *message) Retained() bool    { return false }
func (m *message) Topic() string     { return m.topic }
func (m *message) MessageID() uint16 { return 0 }
func (m *message) Payload() []byte   { return m.payload }
func (m *message) Ack()              {}

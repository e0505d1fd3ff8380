package agenttest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cstlee/RooBench/internal/agent"
	"github.com/cstlee/RooBench/internal/faults"
	"github.com/cstlee/RooBench/internal/snapshot"
)

// Pseudo kinds recorded for the non-command transport operations.
const (
	OpProvision agent.Kind = "provision"
	OpCollect   agent.Kind = "collect"
)

// Behavior scripts the fake's answer for one host and operation.
type Behavior struct {
	// Delay is waited before answering; the context deadline still applies.
	Delay time.Duration
	// Err is returned as a delivery failure.
	Err error
	// Reject makes the agent answer with a negative ack carrying this message.
	Reject string
	// IndexOffset is added to the snapshot index the agent reports.
	IndexOffset int
}

// Call is one recorded transport operation. End is zero until it returns.
type Call struct {
	Host  string
	Kind  agent.Kind
	Start time.Time
	End   time.Time
}

// Transport is a scriptable agent.Transport that records every call.
type Transport struct {
	mu        sync.Mutex
	calls     []Call
	behaviors map[string]map[agent.Kind]Behavior
	snapshots map[string]int

	// OnCollect produces the collected files for host, if set.
	OnCollect func(host snapshot.Host, remoteDir, localDir string) ([]string, error)
}

func NewTransport() *Transport {
	return &Transport{
		behaviors: make(map[string]map[agent.Kind]Behavior),
		snapshots: make(map[string]int),
	}
}

// Set scripts the behavior of kind on host.
func (t *Transport) Set(host string, kind agent.Kind, b Behavior) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.behaviors[host] == nil {
		t.behaviors[host] = make(map[agent.Kind]Behavior)
	}
	t.behaviors[host][kind] = b
}

// Calls returns every recorded call in order.
func (t *Transport) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Call(nil), t.calls...)
}

// Hosts returns the hosts that received kind, in call order.
func (t *Transport) Hosts(kind agent.Kind) []string {
	var hosts []string
	for _, c := range t.Calls() {
		if c.Kind == kind {
			hosts = append(hosts, c.Host)
		}
	}
	return hosts
}

// Call returns the first recorded call of kind on host.
func (t *Transport) Call(host string, kind agent.Kind) (Call, bool) {
	for _, c := range t.Calls() {
		if c.Host == host && c.Kind == kind {
			return c, true
		}
	}
	return Call{}, false
}

// begin records the call and returns a func that marks it finished.
func (t *Transport) begin(ctx context.Context, host string, kind agent.Kind) (Behavior, func(), error) {
	t.mu.Lock()
	i := len(t.calls)
	t.calls = append(t.calls, Call{Host: host, Kind: kind, Start: time.Now()})
	b := t.behaviors[host][kind]
	t.mu.Unlock()

	done := func() {
		t.mu.Lock()
		t.calls[i].End = time.Now()
		t.mu.Unlock()
	}
	b, err := t.wait(ctx, host, kind, b)
	return b, done, err
}

func (t *Transport) wait(ctx context.Context, host string, kind agent.Kind, b Behavior) (Behavior, error) {
	if b.Delay > 0 {
		select {
		case <-time.After(b.Delay):
		case <-ctx.Done():
			code := faults.Cancelled
			if ctx.Err() == context.DeadlineExceeded {
				code = faults.Timeout
			}
			return b, faults.Wrap(code, ctx.Err(), "%s", kind).ForHost(host)
		}
	}
	if b.Err != nil {
		return b, b.Err
	}
	return b, nil
}

func (t *Transport) Provision(ctx context.Context, host snapshot.Host, dir string) error {
	_, done, err := t.begin(ctx, host.Name, OpProvision)
	defer done()
	return err
}

func (t *Transport) Send(ctx context.Context, host snapshot.Host, cmd agent.Command) (agent.Ack, error) {
	b, done, err := t.begin(ctx, host.Name, cmd.Kind)
	defer done()
	if err != nil {
		return agent.Ack{}, err
	}
	ack := agent.Ack{ID: cmd.ID, Kind: cmd.Kind, Host: host.Name, OK: b.Reject == "", Message: b.Reject}
	switch cmd.Kind {
	case agent.KindLaunch:
		ack.Identity = fmt.Sprintf("pid-%s", host.Name)
	case agent.KindSnapshot:
		t.mu.Lock()
		ack.Index = t.snapshots[host.Name] + b.IndexOffset
		t.snapshots[host.Name]++
		t.mu.Unlock()
	}
	return ack, nil
}

func (t *Transport) Collect(ctx context.Context, host snapshot.Host, remoteDir, localDir string) ([]string, error) {
	_, done, err := t.begin(ctx, host.Name, OpCollect)
	defer done()
	if err != nil {
		return nil, err
	}
	if t.OnCollect != nil {
		return t.OnCollect(host, remoteDir, localDir)
	}
	return nil, nil
}

func (t *Transport) Close() error { return nil }

// Package precheck verifies that every cluster host can be reached and that
// its agent answers before a run starts.
package precheck

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/samber/lo"

	"github.com/cstlee/RooBench/internal/agent"
	"github.com/cstlee/RooBench/internal/faults"
	"github.com/cstlee/RooBench/internal/snapshot"
	"github.com/cstlee/RooBench/pkg/tools/logger"
)

// Dir is the scratch directory, under the remote log base, used for checks.
const Dir = "precheck"

// Result is the outcome of checking one host.
type Result struct {
	Host    string        `json:"host"`
	Role    snapshot.Role `json:"role"`
	Address string        `json:"address"`
	// Provisioned reports whether the scratch directory could be created.
	Provisioned bool `json:"provisioned"`
	// Responsive reports whether the agent acknowledged a terminate.
	Responsive bool          `json:"responsive"`
	RoundTrip  time.Duration `json:"round_trip"`
	Code       faults.Code   `json:"code,omitempty"`
	Error      string        `json:"error,omitempty"`
}

func (r Result) Healthy() bool {
	return r.Provisioned && r.Responsive
}

type Checker struct {
	transport agent.Transport
	base      string
	timeout   time.Duration
	logger    *slog.Logger
}

// New returns a checker that provisions base/precheck on each host.
func New(transport agent.Transport, base string, timeout time.Duration) *Checker {
	return &Checker{
		transport: transport,
		base:      base,
		timeout:   timeout,
		logger:    logger.WithComponent("PRECHECK"),
	}
}

// Check probes every host concurrently and returns results sorted by host.
// A terminate against an empty directory has nothing to stop, so a positive
// ack proves the agent is installed and running commands.
func (c *Checker) Check(ctx context.Context, hosts []snapshot.Host) []Result {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make([]Result, 0, len(hosts))
	)
	for _, h := range hosts {
		wg.Add(1)
		go func(h snapshot.Host) {
			defer wg.Done()
			r := c.checkHost(ctx, h)
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		}(h)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Host < results[j].Host })
	unhealthy := lo.CountBy(results, func(r Result) bool { return !r.Healthy() })
	c.logger.Info("Precheck completed", "hosts", len(results), "unhealthy", unhealthy)
	return results
}

func (c *Checker) checkHost(ctx context.Context, h snapshot.Host) Result {
	r := Result{Host: h.Name, Role: h.Role, Address: h.Address}
	dir := path.Join(c.base, Dir)
	log := logger.WithHost("PRECHECK", h.Name)

	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.transport.Provision(pctx, h, dir); err != nil {
		return r.fail(log, err)
	}
	r.Provisioned = true

	start := time.Now()
	sctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ack, err := c.transport.Send(sctx, h, agent.NewCommand(agent.KindTerminate, h.Name, dir))
	if err == nil {
		err = ack.Err()
	}
	if err != nil {
		return r.fail(log, err)
	}
	r.Responsive = true
	r.RoundTrip = time.Since(start)
	log.Debug("Host healthy", "round_trip", r.RoundTrip)
	return r
}

func (r Result) fail(log *slog.Logger, err error) Result {
	r.Code = faults.CodeOf(err)
	r.Error = err.Error()
	log.Warn("Host check failed", "code", r.Code, "error", err)
	return r
}

// Failed returns the unhealthy results.
func Failed(results []Result) []Result {
	return lo.Filter(results, func(r Result, _ int) bool { return !r.Healthy() })
}

// Table writes results as a rounded table with a colored status column.
func Table(w io.Writer, results []Result) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Host precheck")
	t.AppendHeader(table.Row{"Host", "Role", "Address", "Provision", "Agent", "Round trip", "Status"})
	for _, r := range results {
		rtt := "-"
		if r.Responsive {
			rtt = r.RoundTrip.Round(time.Millisecond).String()
		}
		t.AppendRow(table.Row{r.Host, r.Role, r.Address, mark(r.Provisioned), mark(r.Responsive), rtt, status(r)})
	}
	failed := len(Failed(results))
	t.AppendFooter(table.Row{"", "", "", "", "", "Healthy", fmt.Sprintf("%d/%d", len(results)-failed, len(results))})
	t.Render()
}

func mark(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}

func status(r Result) string {
	if r.Healthy() {
		return text.FgGreen.Sprint("OK")
	}
	return text.FgRed.Sprint(string(r.Code))
}

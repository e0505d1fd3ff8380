// Package analyze turns the collected snapshot files of a run into a
// cluster report.
package analyze

import (
	"log/slog"
	"os"
	"strings"

	"github.com/samber/lo"

	"github.com/cstlee/RooBench/internal/aggregate"
	"github.com/cstlee/RooBench/internal/delta"
	"github.com/cstlee/RooBench/internal/faults"
	"github.com/cstlee/RooBench/internal/snapshot"
	"github.com/cstlee/RooBench/pkg/tools/logger"
)

// Options selects the snapshot pair compared for every host.
type Options struct {
	Dir             string
	BeforeIndex     int
	AfterIndex      int
	LatencyCapacity uint64
}

// Analyzer computes per-host deltas and reduces them into a Report.
type Analyzer struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options) *Analyzer {
	if opts.AfterIndex == opts.BeforeIndex {
		opts.AfterIndex = opts.BeforeIndex + 1
	}
	if opts.LatencyCapacity == 0 {
		opts.LatencyCapacity = delta.DefaultLatencyCapacity
	}
	return &Analyzer{opts: opts, logger: logger.WithComponent("ANALYZE")}
}

// Analyze loads the before and after snapshots of every host. A host whose
// snapshots cannot be loaded or whose delta faults is excluded and listed in
// the report alongside the hosts already excluded by the caller.
func (a *Analyzer) Analyze(hosts []snapshot.Host, excluded []aggregate.Exclusion) (*aggregate.Report, error) {
	if _, err := os.Stat(a.opts.Dir); err != nil {
		return nil, faults.Wrap(faults.InvalidConfig, err, "run directory %s", a.opts.Dir)
	}
	a.logger.Info("Analyzing run", "dir", a.opts.Dir, "hosts", len(hosts),
		"before", a.opts.BeforeIndex, "after", a.opts.AfterIndex)

	excluded = append([]aggregate.Exclusion(nil), excluded...)
	var inputs []aggregate.Input
	for _, h := range hosts {
		d, err := a.hostDelta(h)
		if err != nil {
			logger.WithHost("ANALYZE", h.Name).Warn("Excluding host", "code", faults.CodeOf(err), "error", err)
			excluded = append(excluded, aggregate.ExclusionFromError(h, err))
			continue
		}
		inputs = append(inputs, aggregate.Input{Host: h, Delta: d})
	}

	report, err := aggregate.Aggregate(inputs, excluded)
	if err != nil {
		return nil, err
	}
	a.logger.Info("Report ready", "included", len(inputs), "excluded", len(report.Excluded),
		"operations", report.Throughput.Operations)
	return report, nil
}

func (a *Analyzer) hostDelta(h snapshot.Host) (*delta.Delta, error) {
	before, err := snapshot.Load(a.opts.Dir, h.Name, a.opts.BeforeIndex)
	if err != nil {
		return nil, err
	}
	after, err := snapshot.Load(a.opts.Dir, h.Name, a.opts.AfterIndex)
	if err != nil {
		return nil, err
	}
	return delta.Compute(before, after, delta.Options{LatencyCapacity: a.opts.LatencyCapacity})
}

// DiscoverHosts builds the host list of a run directory without a
// coordinator. Roles come from known (matched by name), then from the
// clients list; a host in neither is a client when its after snapshot
// recorded completed operations. Hosts missing from known get ids above the
// largest known id.
func DiscoverHosts(dir string, afterIndex int, known []snapshot.Host, clients []string) ([]snapshot.Host, error) {
	names, err := snapshot.DiscoverHosts(dir, afterIndex)
	if err != nil {
		return nil, faults.Wrap(faults.InvalidConfig, err, "discover hosts in %s", dir)
	}
	if len(names) == 0 {
		return nil, faults.New(faults.NoUsableData, "no snapshot files with index %d in %s", afterIndex, dir)
	}

	byName := lo.KeyBy(known, func(h snapshot.Host) string { return h.Name })
	clientSet := lo.SliceToMap(clients, func(c string) (string, bool) { return strings.TrimSpace(c), true })

	nextID := lo.Max(lo.Map(known, func(h snapshot.Host, _ int) int { return h.ID }))

	hosts := make([]snapshot.Host, 0, len(names))
	for _, name := range names {
		if h, ok := byName[name]; ok {
			hosts = append(hosts, h)
			continue
		}
		nextID++
		h := snapshot.Host{ID: nextID, Name: name, Address: name, Role: snapshot.RoleServer}
		switch {
		case len(clientSet) > 0:
			if clientSet[name] {
				h.Role = snapshot.RoleClient
			}
		case issuedLoad(dir, name, afterIndex):
			h.Role = snapshot.RoleClient
		}
		hosts = append(hosts, h)
	}
	return hosts, nil
}

func issuedLoad(dir, host string, index int) bool {
	s, err := snapshot.Load(dir, host, index)
	return err == nil && s.Client.Count > 0
}

package aggregate

import (
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/cstlee/RooBench/internal/delta"
	"github.com/cstlee/RooBench/internal/faults"
	"github.com/cstlee/RooBench/internal/snapshot"
)

// ReportedPercentiles are the ranks of the merged latency distribution.
var ReportedPercentiles = []int{0, 25, 50, 75, 90, 99}

// Input is one host's delta for the measurement window.
type Input struct {
	Host  snapshot.Host
	Delta *delta.Delta
}

// Aggregate reduces per-host deltas into a cluster report. Hosts listed in
// excluded are carried into the report untouched. The call fails with
// NO_USABLE_DATA when no client-role input remains.
func Aggregate(inputs []Input, excluded []Exclusion) (*Report, error) {
	inputs = slices.Clone(inputs)
	sort.SliceStable(inputs, func(i, j int) bool { return inputs[i].Host.ID < inputs[j].Host.ID })

	clients := lo.Filter(inputs, func(in Input, _ int) bool { return in.Host.IsClient() })
	if len(clients) == 0 {
		return nil, noUsableData(excluded)
	}

	report := &Report{
		GeneratedAt: time.Now(),
		Hosts:       lo.Map(inputs, func(in Input, _ int) snapshot.Host { return in.Host }),
		Excluded:    excluded,
	}
	if report.Excluded == nil {
		report.Excluded = []Exclusion{}
	}

	report.Latency = Latency(clients)
	report.Throughput = Throughput(clients)
	report.CPU = CPU(inputs, report.Throughput.Operations)
	report.Traffic = Traffic(inputs, report.Throughput.Operations)
	report.Tasks = Tasks(inputs)
	return report, nil
}

func noUsableData(excluded []Exclusion) error {
	if len(excluded) == 0 {
		return faults.New(faults.NoUsableData, "no client-role host provided data")
	}
	reasons := lo.Map(excluded, func(e Exclusion, _ int) string {
		if e.Field != "" {
			return e.Host + ": " + string(e.Code) + " (" + e.Field + ")"
		}
		return e.Host + ": " + string(e.Code)
	})
	return faults.New(faults.NoUsableData, "no client-role host left after exclusions [%s]", strings.Join(reasons, "; "))
}

// Latency merges every client window and ranks it at floor(p*N).
func Latency(clients []Input) LatencySummary {
	var merged []uint64
	unit := ""
	for _, c := range clients {
		merged = append(merged, c.Delta.Latencies...)
		if unit == "" {
			unit = c.Delta.LatencyUnit
		}
	}
	if unit == "" {
		unit = "ns"
	}
	slices.Sort(merged)

	summary := LatencySummary{
		Unit:        unit,
		Samples:     len(merged),
		Available:   len(merged) > 0,
		Percentiles: make([]Percentile, 0, len(ReportedPercentiles)),
	}
	for _, p := range ReportedPercentiles {
		pc := Percentile{Label: percentileLabel(p), Percent: p}
		if idx, ok := PercentileIndex(len(merged), p); ok {
			pc.Value = Of(float64(merged[idx]))
		}
		summary.Percentiles = append(summary.Percentiles, pc)
	}
	return summary
}

// PercentileIndex returns floor(percent/100 * n) clamped to the last element.
func PercentileIndex(n, percent int) (int, bool) {
	if n <= 0 {
		return 0, false
	}
	idx := n * percent / 100
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx, true
}

func percentileLabel(p int) string {
	switch p {
	case 0:
		return "min"
	case 50:
		return "median"
	}
	return "p" + strconv.Itoa(p)
}

// Throughput divides completed client operations by the longest client window.
func Throughput(clients []Input) ThroughputSummary {
	var t ThroughputSummary
	maxElapsed := 0.0
	for _, c := range clients {
		t.Operations += c.Delta.ClientCount
		t.Failures += c.Delta.ClientFailures
		t.Drops += c.Delta.ClientDrops
		maxElapsed = math.Max(maxElapsed, c.Delta.BenchElapsedSeconds)
	}
	if maxElapsed > 0 {
		t.ElapsedSeconds = Of(maxElapsed)
	}
	t.OpsPerSecond = Div(float64(t.Operations), maxElapsed)
	return t
}

// CPU computes per-host utilization in cores and sums it across the cluster.
// clientOps is the completed-operation count of client-role hosts only.
func CPU(inputs []Input, clientOps uint64) CPUSummary {
	var summary CPUSummary
	var clientCycles, serverCycles uint64
	totals := []Value{}
	fg := []Value{}
	bg := []Value{}

	for _, in := range inputs {
		d := in.Delta
		window := d.CyclesPerSecond * d.ElapsedSeconds
		h := HostCPU{
			Host:           in.Host.Name,
			Role:           in.Host.Role,
			ElapsedSeconds: d.ElapsedSeconds,
			ActiveCycles:   d.ActiveCycles,
			APICycles:      d.APICycles,
			Total:          Div(float64(d.ActiveCycles), window),
			Foreground:     Div(float64(d.APICycles), window),
		}
		if d.ActiveCycles >= d.APICycles {
			h.Background = Div(float64(d.ActiveCycles-d.APICycles), window)
		}
		summary.Hosts = append(summary.Hosts, h)
		totals = append(totals, h.Total)
		fg = append(fg, h.Foreground)
		bg = append(bg, h.Background)

		if in.Host.IsClient() {
			clientCycles += d.ActiveCycles
		} else {
			serverCycles += d.ActiveCycles
		}
	}

	summary.Total = sumAvailable(totals)
	summary.Foreground = sumAvailable(fg)
	summary.Background = sumAvailable(bg)
	summary.ClientCyclesPerOp = Div(float64(clientCycles), float64(clientOps))
	summary.ServerCyclesPerOp = Div(float64(serverCycles), float64(clientOps))
	return summary
}

// sumAvailable adds the available values; it is unavailable only when none are.
func sumAvailable(values []Value) Value {
	ok := lo.Filter(values, func(v Value, _ int) bool { return v.OK })
	if len(ok) == 0 {
		return Unavailable
	}
	return Of(lo.SumBy(ok, func(v Value) float64 { return v.V }))
}

// Traffic sums byte and packet counters across client and server hosts and
// normalizes them by completed client operations.
func Traffic(inputs []Input, clientOps uint64) TrafficSummary {
	summary := TrafficSummary{ClientOperations: clientOps}
	var packets snapshot.PacketCounts

	for _, in := range inputs {
		d := in.Delta
		ht := HostTraffic{Host: in.Host.Name, Role: in.Host.Role, Bytes: d.Bytes}
		for _, pt := range snapshot.PacketTypes() {
			ht.Packets = append(ht.Packets, PacketRow{Type: pt.String(), Tx: d.Packets[pt].Tx, Rx: d.Packets[pt].Rx})
			packets[pt].Tx += d.Packets[pt].Tx
			packets[pt].Rx += d.Packets[pt].Rx
		}
		summary.Hosts = append(summary.Hosts, ht)

		summary.Bytes.TxMessage += d.Bytes.TxMessage
		summary.Bytes.RxMessage += d.Bytes.RxMessage
		summary.Bytes.TransportTx += d.Bytes.TransportTx
		summary.Bytes.TransportRx += d.Bytes.TransportRx
	}

	ops := float64(clientOps)
	summary.BytesPerOp = ByteRates{
		TxMessage:   Div(float64(summary.Bytes.TxMessage), ops),
		RxMessage:   Div(float64(summary.Bytes.RxMessage), ops),
		TransportTx: Div(float64(summary.Bytes.TransportTx), ops),
		TransportRx: Div(float64(summary.Bytes.TransportRx), ops),
	}
	for _, pt := range snapshot.PacketTypes() {
		summary.Packets = append(summary.Packets, PacketRow{
			Type:    pt.String(),
			Tx:      packets[pt].Tx,
			Rx:      packets[pt].Rx,
			TxPerOp: Div(float64(packets[pt].Tx), ops),
			RxPerOp: Div(float64(packets[pt].Rx), ops),
		})
	}
	return summary
}

// Tasks sums each task's completion count across hosts and compares every
// host against the first one.
func Tasks(inputs []Input) TaskSummary {
	var summary TaskSummary
	ids := lo.Uniq(lo.FlatMap(inputs, func(in Input, _ int) []int {
		return lo.Map(in.Delta.Tasks, func(t snapshot.TaskStat, _ int) int { return t.ID })
	}))
	slices.Sort(ids)
	summary.IDs = ids
	if len(inputs) == 0 {
		return summary
	}

	ref := inputs[0]
	summary.Reference = ref.Host.Name
	totals := make(map[int]uint64, len(ids))

	for _, in := range inputs {
		ht := HostTasks{Host: in.Host.Name, Role: in.Host.Role, ClientCount: in.Delta.ClientCount}
		for _, id := range ids {
			count := taskCount(in.Delta, id)
			totals[id] += count
			ht.Tasks = append(ht.Tasks, TaskCount{
				ID:       id,
				Count:    count,
				Relative: relativePercent(count, taskCount(ref.Delta, id)),
			})
		}
		summary.Hosts = append(summary.Hosts, ht)
	}

	for _, id := range ids {
		summary.Totals = append(summary.Totals, TaskCount{ID: id, Count: totals[id]})
	}
	return summary
}

func taskCount(d *delta.Delta, id int) uint64 {
	for _, t := range d.Tasks {
		if t.ID == id {
			return t.Count
		}
	}
	return 0
}

func relativePercent(count, reference uint64) Value {
	v := Div(100*float64(count), float64(reference))
	if !v.OK {
		return v
	}
	return Of(math.Round(v.V))
}

package delta

import (
	"fmt"

	"github.com/cstlee/RooBench/internal/faults"
	"github.com/cstlee/RooBench/internal/snapshot"
)

// DefaultLatencyCapacity matches the agent's sample ring of 0x100000 entries.
const DefaultLatencyCapacity uint64 = 1 << 20

// Delta is the per-host difference between two snapshots.
type Delta struct {
	Host            string
	CyclesPerSecond float64

	// ElapsedSeconds spans the transport timestamps and times CPU and
	// traffic counters; BenchElapsedSeconds spans the bench timestamps and
	// times client and task counters.
	ElapsedSeconds      float64
	BenchElapsedSeconds float64

	ActiveCycles uint64
	APICycles    uint64
	IdleCycles   uint64

	Bytes   snapshot.ByteCounters
	Packets snapshot.PacketCounts

	ClientCount    uint64
	ClientFailures uint64
	ClientDrops    uint64
	LatencyUnit    string
	Latencies      []uint64

	Tasks []snapshot.TaskStat
}

// Options tunes the delta computation.
type Options struct {
	// LatencyCapacity is the ring size used when the snapshot does not report one.
	LatencyCapacity uint64
}

// Compute subtracts before from after. Both snapshots must belong to the same
// host and share a clock calibration; any decreasing counter is reported as a
// COUNTER_REGRESSION fault naming the field.
func Compute(before, after *snapshot.Snapshot, opts Options) (*Delta, error) {
	if before == nil || after == nil {
		return nil, faults.New(faults.MalformedSnapshot, "nil snapshot")
	}
	host := after.Host
	if before.Host != after.Host {
		return nil, faults.New(faults.MalformedSnapshot, "snapshots belong to %q and %q", before.Host, after.Host).ForHost(host)
	}
	if before.CyclesPerSecond != after.CyclesPerSecond {
		return nil, faults.New(faults.ClockMismatch, "cycles_per_second changed from %g to %g",
			before.CyclesPerSecond, after.CyclesPerSecond).ForHost(host).WithField("cycles_per_second")
	}
	if after.CyclesPerSecond <= 0 {
		return nil, faults.New(faults.MalformedSnapshot, "non-positive cycles_per_second").ForHost(host).WithField("cycles_per_second")
	}

	s := subtractor{}
	d := &Delta{
		Host:            host,
		CyclesPerSecond: after.CyclesPerSecond,
		LatencyUnit:     after.Client.Unit,
	}

	ticks := s.sub("timestamp", before.Timestamp, after.Timestamp)
	benchTicks := s.sub("bench_timestamp", before.BenchTimestamp, after.BenchTimestamp)
	d.ElapsedSeconds = float64(ticks) / after.CyclesPerSecond
	d.BenchElapsedSeconds = float64(benchTicks) / after.CyclesPerSecond

	d.ActiveCycles = s.sub("active_cycles", before.ActiveCycles, after.ActiveCycles)
	d.APICycles = s.sub("api_cycles", before.APICycles, after.APICycles)
	d.IdleCycles = s.sub("idle_cycles", before.IdleCycles, after.IdleCycles)

	d.Bytes = snapshot.ByteCounters{
		TxMessage:   s.sub("tx_message_bytes", before.Bytes.TxMessage, after.Bytes.TxMessage),
		RxMessage:   s.sub("rx_message_bytes", before.Bytes.RxMessage, after.Bytes.RxMessage),
		TransportTx: s.sub("transport_tx_bytes", before.Bytes.TransportTx, after.Bytes.TransportTx),
		TransportRx: s.sub("transport_rx_bytes", before.Bytes.TransportRx, after.Bytes.TransportRx),
	}
	for _, pt := range snapshot.PacketTypes() {
		d.Packets[pt] = snapshot.Direction{
			Tx: s.sub(fmt.Sprintf("tx_%s_pkts", pt), before.Packets[pt].Tx, after.Packets[pt].Tx),
			Rx: s.sub(fmt.Sprintf("rx_%s_pkts", pt), before.Packets[pt].Rx, after.Packets[pt].Rx),
		}
	}

	d.ClientCount = s.sub("client_stats.count", before.Client.Count, after.Client.Count)
	d.ClientFailures = s.sub("client_stats.failures", before.Client.Failures, after.Client.Failures)
	d.ClientDrops = s.sub("client_stats.drops", before.Client.Drops, after.Client.Drops)

	d.Tasks = make([]snapshot.TaskStat, 0, len(after.Tasks))
	for _, t := range after.Tasks {
		prev, _ := before.TaskCount(t.ID)
		d.Tasks = append(d.Tasks, snapshot.TaskStat{
			ID:    t.ID,
			Count: s.sub(fmt.Sprintf("task_stats[%d]", t.ID), prev, t.Count),
		})
	}
	for _, t := range before.Tasks {
		if _, ok := after.TaskCount(t.ID); !ok {
			s.fail(fmt.Sprintf("task_stats[%d]", t.ID), t.Count, 0)
		}
	}

	if s.err != nil {
		return nil, s.err.ForHost(host)
	}

	capacity := after.Client.Capacity
	if capacity == 0 {
		capacity = opts.LatencyCapacity
	}
	if capacity == 0 {
		capacity = DefaultLatencyCapacity
	}
	window, err := LatencyWindow(after.Client.Latencies, before.Client.Count, after.Client.Count, capacity)
	if err != nil {
		if f, ok := err.(*faults.Fault); ok {
			return nil, f.ForHost(host)
		}
		return nil, err
	}
	d.Latencies = window

	return d, nil
}

// subtractor records the first counter regression and keeps going so the
// caller sees a single fault.
type subtractor struct {
	err *faults.Fault
}

func (s *subtractor) sub(field string, before, after uint64) uint64 {
	if after < before {
		s.fail(field, before, after)
		return 0
	}
	return after - before
}

func (s *subtractor) fail(field string, before, after uint64) {
	if s.err != nil {
		return
	}
	s.err = faults.New(faults.CounterRegression, "decreased from %d to %d", before, after).WithField(field)
}

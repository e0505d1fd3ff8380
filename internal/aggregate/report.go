package aggregate

import (
	"time"

	"github.com/cstlee/RooBench/internal/faults"
	"github.com/cstlee/RooBench/internal/snapshot"
)

// Report is the cluster-wide result of one run. It is plain data: rendering
// lives in the render package.
type Report struct {
	RunID       string          `json:"run_id,omitempty"`
	GeneratedAt time.Time       `json:"generated_at"`
	Hosts       []snapshot.Host `json:"hosts"`
	Excluded    []Exclusion     `json:"excluded"`

	Latency    LatencySummary    `json:"latency"`
	Throughput ThroughputSummary `json:"throughput"`
	CPU        CPUSummary        `json:"cpu"`
	Traffic    TrafficSummary    `json:"traffic"`
	Tasks      TaskSummary       `json:"tasks"`
}

// Exclusion records why a host did not contribute to the report.
type Exclusion struct {
	Host   string        `json:"host"`
	Role   snapshot.Role `json:"role,omitempty"`
	Code   faults.Code   `json:"code"`
	Field  string        `json:"field,omitempty"`
	Reason string        `json:"reason"`
	// Connectivity marks faults of the connectivity family, including a
	// snapshot that never arrived.
	Connectivity bool `json:"connectivity"`
}

// ExclusionFromError builds an Exclusion from a fault returned for host.
func ExclusionFromError(host snapshot.Host, err error) Exclusion {
	code := faults.CodeOf(err)
	if code == "" {
		code = faults.Connectivity
	}
	return Exclusion{
		Host:   host.Name,
		Role:   host.Role,
		Code:   code,
		Field:  faults.FieldOf(err),
		Reason: err.Error(),

		Connectivity: code.IsConnectivity(),
	}
}

// Percentile is one rank of the merged latency distribution.
type Percentile struct {
	Label   string `json:"label"`
	Percent int    `json:"percent"`
	Value   Value  `json:"value"`
}

// LatencySummary is the merged client latency distribution. Available is
// false when no samples fell inside the measurement window.
type LatencySummary struct {
	Unit        string       `json:"unit"`
	Samples     int          `json:"samples"`
	Available   bool         `json:"available"`
	Percentiles []Percentile `json:"percentiles"`
}

// Get returns the value for the given percent, or Unavailable.
func (l LatencySummary) Get(percent int) Value {
	for _, p := range l.Percentiles {
		if p.Percent == percent {
			return p.Value
		}
	}
	return Unavailable
}

// ThroughputSummary counts completed client operations over the longest
// client window.
type ThroughputSummary struct {
	Operations     uint64 `json:"operations"`
	Failures       uint64 `json:"failures"`
	Drops          uint64 `json:"drops"`
	ElapsedSeconds Value  `json:"elapsed_seconds"`
	OpsPerSecond   Value  `json:"ops_per_second"`
}

// HostCPU is one host's utilization in cores.
type HostCPU struct {
	Host           string        `json:"host"`
	Role           snapshot.Role `json:"role"`
	ElapsedSeconds float64       `json:"elapsed_seconds"`
	ActiveCycles   uint64        `json:"active_cycles"`
	APICycles      uint64        `json:"api_cycles"`
	Total          Value         `json:"total"`
	Foreground     Value         `json:"foreground"`
	Background     Value         `json:"background"`
}

// CPUSummary sums per-host utilization; the totals are cores consumed and
// may exceed 1.0.
type CPUSummary struct {
	Hosts             []HostCPU `json:"hosts"`
	Total             Value     `json:"total"`
	Foreground        Value     `json:"foreground"`
	Background        Value     `json:"background"`
	ClientCyclesPerOp Value     `json:"client_cycles_per_op"`
	ServerCyclesPerOp Value     `json:"server_cycles_per_op"`
}

// PacketRow is the tx/rx count of one packet type.
type PacketRow struct {
	Type    string `json:"type"`
	Tx      uint64 `json:"tx"`
	Rx      uint64 `json:"rx"`
	TxPerOp Value  `json:"tx_per_op"`
	RxPerOp Value  `json:"rx_per_op"`
}

// ByteRates are the byte counters divided by completed client operations.
type ByteRates struct {
	TxMessage   Value `json:"tx_message_bytes"`
	RxMessage   Value `json:"rx_message_bytes"`
	TransportTx Value `json:"transport_tx_bytes"`
	TransportRx Value `json:"transport_rx_bytes"`
}

// HostTraffic is one host's byte and packet deltas.
type HostTraffic struct {
	Host    string                `json:"host"`
	Role    snapshot.Role         `json:"role"`
	Bytes   snapshot.ByteCounters `json:"bytes"`
	Packets []PacketRow           `json:"packets"`
}

// TrafficSummary sums byte and packet counters across every included host.
type TrafficSummary struct {
	Hosts            []HostTraffic         `json:"hosts"`
	ClientOperations uint64                `json:"client_operations"`
	Bytes            snapshot.ByteCounters `json:"bytes"`
	BytesPerOp       ByteRates             `json:"bytes_per_op"`
	Packets          []PacketRow           `json:"packets"`
}

// TaskCount is one task's completion count.
type TaskCount struct {
	ID       int    `json:"id"`
	Count    uint64 `json:"count"`
	Relative Value  `json:"relative_percent"`
}

// HostTasks is one host's per-task counters; Relative compares each count
// against the reference host as a rounded percentage.
type HostTasks struct {
	Host        string        `json:"host"`
	Role        snapshot.Role `json:"role"`
	ClientCount uint64        `json:"client_count"`
	Tasks       []TaskCount   `json:"tasks"`
}

// TaskSummary aggregates per-task counters across hosts.
type TaskSummary struct {
	IDs       []int       `json:"ids"`
	Reference string      `json:"reference_host,omitempty"`
	Totals    []TaskCount `json:"totals"`
	Hosts     []HostTasks `json:"hosts"`
}

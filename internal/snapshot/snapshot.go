package snapshot

import "fmt"

// Role decides which metrics a host contributes to the report.
type Role string

const (
	RoleClient Role = "client"
	RoleServer Role = "server"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleClient || r == RoleServer
}

// Host identifies one member of the cluster for the duration of a run.
type Host struct {
	ID      int    `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Address string `json:"address" yaml:"address"`
	Role    Role   `json:"role" yaml:"role"`
}

func (h Host) String() string {
	return fmt.Sprintf("%s(#%d,%s)", h.Name, h.ID, h.Role)
}

// IsClient reports whether the host originates load.
func (h Host) IsClient() bool {
	return h.Role == RoleClient
}

// PacketType enumerates the transport packet kinds the agent counts.
type PacketType int

const (
	PacketData PacketType = iota
	PacketGrant
	PacketDone
	PacketResend
	PacketBusy
	PacketPing
	PacketUnknown
	PacketError

	NumPacketTypes = 8
)

var packetTypeNames = [NumPacketTypes]string{"data", "grant", "done", "resend", "busy", "ping", "unknown", "error"}

func (p PacketType) String() string {
	if p < 0 || int(p) >= NumPacketTypes {
		return fmt.Sprintf("packet(%d)", int(p))
	}
	return packetTypeNames[p]
}

// PacketTypes lists every packet type in wire order.
func PacketTypes() []PacketType {
	types := make([]PacketType, NumPacketTypes)
	for i := range types {
		types[i] = PacketType(i)
	}
	return types
}

// Direction is a tx/rx counter pair.
type Direction struct {
	Tx uint64 `json:"tx"`
	Rx uint64 `json:"rx"`
}

// PacketCounts is indexed by PacketType.
type PacketCounts [NumPacketTypes]Direction

// ByteCounters are the four monotonic byte counters of the transport.
type ByteCounters struct {
	TxMessage   uint64 `json:"tx_message_bytes"`
	RxMessage   uint64 `json:"rx_message_bytes"`
	TransportTx uint64 `json:"transport_tx_bytes"`
	TransportRx uint64 `json:"transport_rx_bytes"`
}

// ClientStats holds the completed-operation counters and the circular latency
// buffer. Latencies[i] holds the sample whose index modulo Capacity is i.
type ClientStats struct {
	Count     uint64   `json:"count"`
	Failures  uint64   `json:"failures"`
	Drops     uint64   `json:"drops"`
	Unit      string   `json:"unit,omitempty"`
	Capacity  uint64   `json:"capacity,omitempty"`
	Latencies []uint64 `json:"latencies"`
}

// TaskStat is one per-task completion counter.
type TaskStat struct {
	ID    int    `json:"id"`
	Count uint64 `json:"count"`
}

// Snapshot is one host's raw counters at one instant, merged from the bench
// and transport files written for the same index.
type Snapshot struct {
	Host  string
	Index int

	// Timestamp and CyclesPerSecond come from the transport file and time the
	// CPU and traffic counters.
	Timestamp       uint64
	CyclesPerSecond float64

	ActiveCycles uint64
	APICycles    uint64
	IdleCycles   uint64

	Bytes   ByteCounters
	Packets PacketCounts

	// BenchTimestamp times the client and task counters.
	BenchTimestamp    uint64
	BenchActiveCycles uint64

	Client ClientStats
	Tasks  []TaskStat
}

// TaskCount returns the counter for task id and whether it was present.
func (s *Snapshot) TaskCount(id int) (uint64, bool) {
	for _, t := range s.Tasks {
		if t.ID == id {
			return t.Count, true
		}
	}
	return 0, false
}

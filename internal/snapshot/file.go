package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/cstlee/RooBench/internal/faults"
)

// Kind distinguishes the two files the agent writes per snapshot index.
type Kind string

const (
	KindBench     Kind = "bench"
	KindTransport Kind = "transport"
)

// Kinds lists the file kinds that make up one snapshot.
var Kinds = []Kind{KindBench, KindTransport}

// FileName returns <host>_<kind>_stats_<index>.json.
func FileName(host string, kind Kind, index int) string {
	return fmt.Sprintf("%s_%s_stats_%d.json", host, kind, index)
}

// FileNames returns both file names for one snapshot index.
func FileNames(host string, index int) []string {
	names := make([]string, 0, len(Kinds))
	for _, k := range Kinds {
		names = append(names, FileName(host, k, index))
	}
	return names
}

// Pattern is a shell glob matching every snapshot file of host.
func Pattern(host string) string {
	return fmt.Sprintf("%s_*_stats_*.json", host)
}

// benchFile mirrors <host>_bench_stats_<n>.json.
type benchFile struct {
	Timestamp       uint64      `json:"timestamp"`
	CyclesPerSecond float64     `json:"cycles_per_second"`
	ActiveCycles    uint64      `json:"active_cycles"`
	TaskStats       []TaskStat  `json:"task_stats"`
	ClientStats     ClientStats `json:"client_stats"`
}

// transportFile mirrors <host>_transport_stats_<n>.json.
type transportFile struct {
	Timestamp        uint64  `json:"timestamp"`
	CyclesPerSecond  float64 `json:"cycles_per_second"`
	APICycles        uint64  `json:"api_cycles"`
	ActiveCycles     uint64  `json:"active_cycles"`
	IdleCycles       uint64  `json:"idle_cycles"`
	TxMessageBytes   uint64  `json:"tx_message_bytes"`
	RxMessageBytes   uint64  `json:"rx_message_bytes"`
	TransportTxBytes uint64  `json:"transport_tx_bytes"`
	TransportRxBytes uint64  `json:"transport_rx_bytes"`
	TxDataPkts       uint64  `json:"tx_data_pkts"`
	RxDataPkts       uint64  `json:"rx_data_pkts"`
	TxGrantPkts      uint64  `json:"tx_grant_pkts"`
	RxGrantPkts      uint64  `json:"rx_grant_pkts"`
	TxDonePkts       uint64  `json:"tx_done_pkts"`
	RxDonePkts       uint64  `json:"rx_done_pkts"`
	TxResendPkts     uint64  `json:"tx_resend_pkts"`
	RxResendPkts     uint64  `json:"rx_resend_pkts"`
	TxBusyPkts       uint64  `json:"tx_busy_pkts"`
	RxBusyPkts       uint64  `json:"rx_busy_pkts"`
	TxPingPkts       uint64  `json:"tx_ping_pkts"`
	RxPingPkts       uint64  `json:"rx_ping_pkts"`
	TxUnknownPkts    uint64  `json:"tx_unknown_pkts"`
	RxUnknownPkts    uint64  `json:"rx_unknown_pkts"`
	TxErrorPkts      uint64  `json:"tx_error_pkts"`
	RxErrorPkts      uint64  `json:"rx_error_pkts"`
}

func (t *transportFile) packets() PacketCounts {
	return PacketCounts{
		PacketData:    {Tx: t.TxDataPkts, Rx: t.RxDataPkts},
		PacketGrant:   {Tx: t.TxGrantPkts, Rx: t.RxGrantPkts},
		PacketDone:    {Tx: t.TxDonePkts, Rx: t.RxDonePkts},
		PacketResend:  {Tx: t.TxResendPkts, Rx: t.RxResendPkts},
		PacketBusy:    {Tx: t.TxBusyPkts, Rx: t.RxBusyPkts},
		PacketPing:    {Tx: t.TxPingPkts, Rx: t.RxPingPkts},
		PacketUnknown: {Tx: t.TxUnknownPkts, Rx: t.RxUnknownPkts},
		PacketError:   {Tx: t.TxErrorPkts, Rx: t.RxErrorPkts},
	}
}

func transportFromSnapshot(s *Snapshot) transportFile {
	p := s.Packets
	return transportFile{
		Timestamp:        s.Timestamp,
		CyclesPerSecond:  s.CyclesPerSecond,
		APICycles:        s.APICycles,
		ActiveCycles:     s.ActiveCycles,
		IdleCycles:       s.IdleCycles,
		TxMessageBytes:   s.Bytes.TxMessage,
		RxMessageBytes:   s.Bytes.RxMessage,
		TransportTxBytes: s.Bytes.TransportTx,
		TransportRxBytes: s.Bytes.TransportRx,
		TxDataPkts:       p[PacketData].Tx,
		RxDataPkts:       p[PacketData].Rx,
		TxGrantPkts:      p[PacketGrant].Tx,
		RxGrantPkts:      p[PacketGrant].Rx,
		TxDonePkts:       p[PacketDone].Tx,
		RxDonePkts:       p[PacketDone].Rx,
		TxResendPkts:     p[PacketResend].Tx,
		RxResendPkts:     p[PacketResend].Rx,
		TxBusyPkts:       p[PacketBusy].Tx,
		RxBusyPkts:       p[PacketBusy].Rx,
		TxPingPkts:       p[PacketPing].Tx,
		RxPingPkts:       p[PacketPing].Rx,
		TxUnknownPkts:    p[PacketUnknown].Tx,
		RxUnknownPkts:    p[PacketUnknown].Rx,
		TxErrorPkts:      p[PacketError].Tx,
		RxErrorPkts:      p[PacketError].Rx,
	}
}

// Load reads and merges the bench and transport files of host at index from dir.
// A missing file yields a MISSING_SNAPSHOT fault, undecodable content a
// MALFORMED_SNAPSHOT fault, and files that disagree on the clock rate a
// CLOCK_MISMATCH fault.
func Load(dir, host string, index int) (*Snapshot, error) {
	var bench benchFile
	if err := readJSON(filepath.Join(dir, FileName(host, KindBench, index)), &bench); err != nil {
		return nil, classify(err, host)
	}
	var transport transportFile
	if err := readJSON(filepath.Join(dir, FileName(host, KindTransport, index)), &transport); err != nil {
		return nil, classify(err, host)
	}

	if bench.CyclesPerSecond != transport.CyclesPerSecond {
		return nil, faults.New(faults.ClockMismatch,
			"snapshot %d: bench file reports %g cycles/s, transport file %g", index, bench.CyclesPerSecond, transport.CyclesPerSecond).
			ForHost(host).WithField("cycles_per_second")
	}
	if transport.CyclesPerSecond <= 0 {
		return nil, faults.New(faults.MalformedSnapshot, "snapshot %d: non-positive cycles_per_second", index).
			ForHost(host).WithField("cycles_per_second")
	}

	return &Snapshot{
		Host:              host,
		Index:             index,
		Timestamp:         transport.Timestamp,
		CyclesPerSecond:   transport.CyclesPerSecond,
		ActiveCycles:      transport.ActiveCycles,
		APICycles:         transport.APICycles,
		IdleCycles:        transport.IdleCycles,
		Bytes:             ByteCounters{transport.TxMessageBytes, transport.RxMessageBytes, transport.TransportTxBytes, transport.TransportRxBytes},
		Packets:           transport.packets(),
		BenchTimestamp:    bench.Timestamp,
		BenchActiveCycles: bench.ActiveCycles,
		Client:            bench.ClientStats,
		Tasks:             bench.TaskStats,
	}, nil
}

// Write stores s as the two files the agent would have produced.
func Write(dir string, s *Snapshot) error {
	bench := benchFile{
		Timestamp:       s.BenchTimestamp,
		CyclesPerSecond: s.CyclesPerSecond,
		ActiveCycles:    s.BenchActiveCycles,
		TaskStats:       s.Tasks,
		ClientStats:     s.Client,
	}
	if bench.TaskStats == nil {
		bench.TaskStats = []TaskStat{}
	}
	if bench.ClientStats.Latencies == nil {
		bench.ClientStats.Latencies = []uint64{}
	}
	if err := writeJSON(filepath.Join(dir, FileName(s.Host, KindBench, s.Index)), bench); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, FileName(s.Host, KindTransport, s.Index)), transportFromSnapshot(s))
}

// Complete reports whether every file of host at index is present and holds
// a whole JSON document, i.e. the writer has finished.
func Complete(dir, host string, index int) bool {
	for _, name := range FileNames(host, index) {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil || !json.Valid(data) {
			return false
		}
	}
	return true
}

var hostPattern = regexp.MustCompile(`^(.+)_bench_stats_(\d+)\.json$`)
var trailingID = regexp.MustCompile(`(\d+)$`)

// DiscoverHosts lists host names that have a bench file for index in dir,
// ordered by their trailing numeric id and then by name.
func DiscoverHosts(dir string, index int) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot directory '%s': %w", dir, err)
	}
	var hosts []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := hostPattern.FindStringSubmatch(e.Name())
		if m == nil || m[2] != strconv.Itoa(index) {
			continue
		}
		hosts = append(hosts, m[1])
	}
	sort.SliceStable(hosts, func(i, j int) bool {
		a, b := hostOrdinal(hosts[i]), hostOrdinal(hosts[j])
		if a != b {
			return a < b
		}
		return hosts[i] < hosts[j]
	})
	return hosts, nil
}

func hostOrdinal(name string) int {
	m := trailingID.FindString(name)
	if m == "" {
		return int(^uint(0) >> 1)
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return n
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &decodeError{path: path, err: err}
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot file '%s': %w", path, err)
	}
	return nil
}

type decodeError struct {
	path string
	err  error
}

func (e *decodeError) Error() string {
	return fmt.Sprintf("failed to decode '%s': %v", e.path, e.err)
}

func (e *decodeError) Unwrap() error { return e.err }

func classify(err error, host string) error {
	var de *decodeError
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return faults.Wrap(faults.MissingSnapshot, err, "snapshot file not found").ForHost(host)
	case errors.As(err, &de):
		return faults.Wrap(faults.MalformedSnapshot, err, "snapshot file unreadable").ForHost(host)
	default:
		return faults.Wrap(faults.MissingSnapshot, err, "snapshot file not readable").ForHost(host)
	}
}

// Package render prints a cluster report as text tables or JSON.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/samber/lo"

	"github.com/cstlee/RooBench/internal/aggregate"
	"github.com/cstlee/RooBench/internal/snapshot"
)

const (
	FormatTable = "table"
	FormatJSON  = "json"
)

// Write renders r in the named format.
func Write(w io.Writer, r *aggregate.Report, format string) error {
	switch format {
	case FormatJSON:
		return JSON(w, r)
	case FormatTable, "":
		Table(w, r)
		return nil
	}
	return fmt.Errorf("unknown report format %q", format)
}

// JSON writes r as indented JSON.
func JSON(w io.Writer, r *aggregate.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// Table writes every section of r as a rounded text table.
func Table(w io.Writer, r *aggregate.Report) {
	if r.RunID != "" {
		fmt.Fprintf(w, "Run %s, %d hosts included\n", r.RunID, len(r.Hosts))
	}
	latency(w, r.Latency)
	throughput(w, r.Throughput)
	cpu(w, r.CPU)
	usage(w, r)
	packets(w, r.Traffic)
	tasks(w, r.Tasks)
	excluded(w, r.Excluded)
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(title)
	return t
}

func rightAligned(from, to int) []table.ColumnConfig {
	var cfgs []table.ColumnConfig
	for n := from; n <= to; n++ {
		cfgs = append(cfgs, table.ColumnConfig{Number: n, Align: text.AlignRight})
	}
	return cfgs
}

// microsPerUnit converts a latency sample to microseconds.
var microsPerUnit = map[string]float64{
	"ns": 1e-3,
	"us": 1,
	"µs": 1,
	"ms": 1e3,
	"s":  1e6,
}

func latency(w io.Writer, l aggregate.LatencySummary) {
	scale, known := microsPerUnit[l.Unit]
	unit := "us"
	if !known {
		scale, unit = 1, l.Unit
	}

	t := newTable(w, fmt.Sprintf("Client Latency (%d samples)", l.Samples))
	header := table.Row{}
	row := table.Row{}
	for _, p := range l.Percentiles {
		header = append(header, fmt.Sprintf("%s (%s)", p.Label, unit))
		v := p.Value
		if v.OK {
			v = aggregate.Of(v.V * scale)
		}
		row = append(row, v.Format(2))
	}
	t.AppendHeader(header)
	t.AppendRow(row)
	t.SetColumnConfigs(rightAligned(1, len(header)))
	if !l.Available {
		t.SetCaption("no samples in the measurement window")
	}
	t.Render()
}

func throughput(w io.Writer, th aggregate.ThroughputSummary) {
	t := newTable(w, "Throughput")
	t.AppendHeader(table.Row{"Operations", "Failures", "Drops", "Elapsed (s)", "Ops/s"})
	t.AppendRow(table.Row{th.Operations, th.Failures, th.Drops, th.ElapsedSeconds.Format(3), th.OpsPerSecond.Format(1)})
	t.SetColumnConfigs(rightAligned(1, 5))
	t.Render()
}

func cpu(w io.Writer, c aggregate.CPUSummary) {
	t := newTable(w, "CPU (cores)")
	t.AppendHeader(table.Row{"Host", "Role", "Elapsed (s)", "Total", "Foreground", "Background"})
	for _, h := range c.Hosts {
		t.AppendRow(table.Row{h.Host, h.Role, strconv.FormatFloat(h.ElapsedSeconds, 'f', 3, 64),
			h.Total.Format(3), h.Foreground.Format(3), h.Background.Format(3)})
	}
	t.AppendFooter(table.Row{"Cluster", "", "", c.Total.Format(3), c.Foreground.Format(3), c.Background.Format(3)})
	t.SetColumnConfigs(rightAligned(3, 6))
	t.Render()
}

// usage prints cycles and bytes spent per completed client operation.
func usage(w io.Writer, r *aggregate.Report) {
	t := newTable(w, fmt.Sprintf("Usage per Operation (%d ops)", r.Traffic.ClientOperations))
	t.AppendHeader(table.Row{"Metric", "Per Op"})
	t.AppendRows([]table.Row{
		{"client active cycles", r.CPU.ClientCyclesPerOp.Format(1)},
		{"server active cycles", r.CPU.ServerCyclesPerOp.Format(1)},
		{"tx message bytes", r.Traffic.BytesPerOp.TxMessage.Format(1)},
		{"rx message bytes", r.Traffic.BytesPerOp.RxMessage.Format(1)},
		{"transport tx bytes", r.Traffic.BytesPerOp.TransportTx.Format(1)},
		{"transport rx bytes", r.Traffic.BytesPerOp.TransportRx.Format(1)},
	})
	t.SetColumnConfigs(rightAligned(2, 2))
	t.Render()
}

func packets(w io.Writer, tr aggregate.TrafficSummary) {
	types := lo.Map(snapshot.PacketTypes(), func(p snapshot.PacketType, _ int) string { return p.String() })

	t := newTable(w, "Packets")
	header := table.Row{"Host", "Dir"}
	for _, name := range types {
		header = append(header, name)
	}
	t.AppendHeader(header)

	for _, h := range tr.Hosts {
		t.AppendRow(packetRow(h.Host, "TX", h.Packets, func(p aggregate.PacketRow) string { return strconv.FormatUint(p.Tx, 10) }))
		t.AppendRow(packetRow("", "RX", h.Packets, func(p aggregate.PacketRow) string { return strconv.FormatUint(p.Rx, 10) }))
		t.AppendSeparator()
	}
	t.AppendRow(packetRow("Total", "TX", tr.Packets, func(p aggregate.PacketRow) string { return strconv.FormatUint(p.Tx, 10) }))
	t.AppendRow(packetRow("", "RX", tr.Packets, func(p aggregate.PacketRow) string { return strconv.FormatUint(p.Rx, 10) }))
	t.AppendSeparator()
	t.AppendRow(packetRow("Per Op", "TX", tr.Packets, func(p aggregate.PacketRow) string { return p.TxPerOp.Format(2) }))
	t.AppendRow(packetRow("", "RX", tr.Packets, func(p aggregate.PacketRow) string { return p.RxPerOp.Format(2) }))
	t.SetColumnConfigs(rightAligned(3, len(header)))
	t.Render()
}

func packetRow(host, dir string, rows []aggregate.PacketRow, cell func(aggregate.PacketRow) string) table.Row {
	row := table.Row{host, dir}
	for _, p := range rows {
		row = append(row, cell(p))
	}
	return row
}

func tasks(w io.Writer, ts aggregate.TaskSummary) {
	if len(ts.IDs) == 0 {
		return
	}
	t := newTable(w, "Tasks")
	header := table.Row{"Host", "Ops"}
	for _, id := range ts.IDs {
		header = append(header, fmt.Sprintf("task %d", id))
	}
	t.AppendHeader(header)

	for _, h := range ts.Hosts {
		row := table.Row{h.Host, h.ClientCount}
		for _, tc := range h.Tasks {
			row = append(row, fmt.Sprintf("%d (%s%%)", tc.Count, tc.Relative.Format(0)))
		}
		t.AppendRow(row)
	}
	footer := table.Row{"Total", ""}
	for _, tc := range ts.Totals {
		footer = append(footer, tc.Count)
	}
	t.AppendFooter(footer)
	t.SetColumnConfigs(rightAligned(2, len(header)))
	if ts.Reference != "" {
		t.SetCaption("percentages relative to " + ts.Reference)
	}
	t.Render()
}

func excluded(w io.Writer, ex []aggregate.Exclusion) {
	if len(ex) == 0 {
		return
	}
	t := newTable(w, "Excluded Hosts")
	t.AppendHeader(table.Row{"Host", "Role", "Kind", "Code", "Field", "Reason"})
	for _, e := range ex {
		kind := "data"
		if e.Connectivity {
			kind = "connectivity"
		}
		t.AppendRow(table.Row{e.Host, e.Role, kind, e.Code, e.Field, strings.TrimSpace(e.Reason)})
	}
	t.Render()
}

package agentd

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roobench_agent_commands_total",
			Help: "Agent commands handled, by kind and result.",
		},
		[]string{"kind", "result"},
	)

	commandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roobench_agent_command_duration_seconds",
			Help:    "Time to handle an agent command, by kind.",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"kind"},
	)

	snapshotsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roobench_agent_snapshots_total",
			Help: "Snapshot file pairs confirmed on disk.",
		},
	)
)

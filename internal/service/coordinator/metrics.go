package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	phaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roobench_coordinator_phase_duration_seconds",
			Help:    "Time from dispatch to barrier for each phase.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"phase"},
	)

	hostFaults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roobench_coordinator_host_faults_total",
			Help: "Host faults recorded by the coordinator, by phase and fault code.",
		},
		[]string{"phase", "code"},
	)

	degradedHosts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roobench_coordinator_degraded_hosts",
			Help: "Hosts excluded from the current run.",
		},
	)
)

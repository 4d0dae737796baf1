package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var ScansTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hiberctl",
		Subsystem: "scan",
		Name:      "total",
		Help:      "Total number of scans run, by mode and trigger source.",
	},
	[]string{"mode", "trigger"},
)

var ScanDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "hiberctl",
		Subsystem: "scan",
		Name:      "duration_seconds",
		Help:      "Scan duration in seconds, by mode.",
		Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	},
	[]string{"mode"},
)

var ScheduleLockContentionTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "hiberctl",
		Subsystem: "scan",
		Name:      "schedule_lock_contention_total",
		Help:      "Total number of times a schedule was skipped because its lock was already held.",
	},
)

var ResourceActionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hiberctl",
		Subsystem: "resource",
		Name:      "actions_total",
		Help:      "Total number of resource actions attempted, by kind, action, and outcome.",
	},
	[]string{"kind", "action", "outcome"},
)

var CredentialAcquisitionFailuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hiberctl",
		Subsystem: "creds",
		Name:      "acquisition_failures_total",
		Help:      "Total number of failures assuming a role for an account/region pair.",
	},
	[]string{"account_id", "region"},
)

var NotificationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hiberctl",
		Subsystem: "notify",
		Name:      "total",
		Help:      "Total number of execution summary notifications sent, by outcome.",
	},
	[]string{"outcome"},
)

// All returns all hiberctl-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		ScansTotal,
		ScanDuration,
		ScheduleLockContentionTotal,
		ResourceActionsTotal,
		CredentialAcquisitionFailuresTotal,
		NotificationsTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process
// collectors plus any additional collectors passed as arguments.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}

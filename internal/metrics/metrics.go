// Package metrics exposes Prometheus collectors for the control plane.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// InstanceLaunches counts launch requests accepted by the fleet manager.
	InstanceLaunches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roam_instance_launches_total",
		Help: "Instance launch requests accepted.",
	})

	// InstanceTerminations counts terminate requests accepted by the fleet manager.
	InstanceTerminations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roam_instance_terminations_total",
		Help: "Instance terminate requests accepted.",
	})

	// InstancesByStatus tracks instances currently in each lifecycle status.
	InstancesByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "roam_instances",
		Help: "Instances by lifecycle status.",
	}, []string{"status"})

	// CommandsTotal counts finished commands by type and outcome.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roam_commands_total",
		Help: "Commands by type and terminal outcome.",
	}, []string{"type", "outcome"})

	// CommandDuration observes dispatch-to-terminal latency in seconds.
	CommandDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "roam_command_duration_seconds",
		Help:    "Command dispatch-to-terminal latency.",
		Buckets: prometheus.DefBuckets,
	})

	// ActiveSessions tracks currently active browser sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roam_active_sessions",
		Help: "Browser sessions currently active.",
	})
)

// Register mounts the Prometheus handler on the provided mux.
func Register(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}

// MoveInstance shifts the per-status instance gauge from one status to another.
// Empty from means a newly tracked instance.
func MoveInstance(from, to string) {
	if from != "" {
		InstancesByStatus.WithLabelValues(from).Dec()
	}
	if to != "" {
		InstancesByStatus.WithLabelValues(to).Inc()
	}
}

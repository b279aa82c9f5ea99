// Package metrics exposes Prometheus instrumentation for the daemon:
// gauges and counters wired to session, bridge, and permission state
// transitions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "conduit",
		Name:      "active_sessions",
		Help:      "Number of sessions currently in a non-terminal state.",
	})

	PortsAllocated = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "conduit",
		Name:      "bridge_ports_allocated",
		Help:      "Number of bridge ports currently allocated.",
	})

	PermissionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conduit",
		Name:      "permission_decisions_total",
		Help:      "Permission engine decisions, partitioned by decision and source.",
	}, []string{"decision", "source"})

	BridgeConnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "conduit",
		Name:      "bridge_connects_total",
		Help:      "Number of sessions whose agent connected to its bridge before the connect timeout.",
	})

	BridgeReplacedConnections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "conduit",
		Name:      "bridge_replaced_connections_total",
		Help:      "Number of times a second agent connection replaced an already-attached one.",
	})

	SessionCreateFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conduit",
		Name:      "session_create_failures_total",
		Help:      "Session creation failures, partitioned by error kind.",
	}, []string{"kind"})

	SpawnTerminations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conduit",
		Name:      "subprocess_terminations_total",
		Help:      "Agent subprocess terminations, partitioned by reason.",
	}, []string{"reason"})
)

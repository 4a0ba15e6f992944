// SPDX-License-Identifier: MIT
// Package metrics exposes Prometheus instrumentation for the router.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NodesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dbrouter_nodes_active",
			Help: "Number of nodes currently in the active set.",
		},
	)

	NodesDowned = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dbrouter_nodes_downed",
			Help: "Number of known nodes currently downed.",
		},
	)

	ProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbrouter_probe_duration_seconds",
			Help:    "Duration of a single node status probe.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"node"},
	)

	ProbeFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbrouter_probe_failures_total",
			Help: "Total number of failed node status probes.",
		},
		[]string{"node"},
	)

	ElectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dbrouter_elections_total",
			Help: "Total number of node elections attempted by the client facade.",
		},
	)

	ElectionFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dbrouter_election_failures_total",
			Help: "Total number of elections that exhausted their retry budget.",
		},
	)

	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbrouter_connections_total",
			Help: "Total number of connections handed out, by node.",
		},
		[]string{"node"},
	)
)

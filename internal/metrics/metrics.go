// Package metrics exposes the control plane's Prometheus counters and
// gauges behind GET /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CommandsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_commands_enqueued_total",
		Help: "Commands accepted by the submission facade, by command verb.",
	}, []string{"verb"})

	CommandsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_commands_completed_total",
		Help: "Commands that reached a terminal state, by outcome.",
	}, []string{"outcome"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "controlplane_queue_depth",
		Help: "Current depth of the bounded dispatch queue.",
	})

	BreakerOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "controlplane_breakers_open",
		Help: "Number of device circuit breakers currently open.",
	})

	DevicesOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "controlplane_devices_online",
		Help: "Number of devices currently marked online.",
	})

	DispatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "controlplane_dispatch_latency_seconds",
		Help:    "Observed end-to-end dispatch latency per command.",
		Buckets: prometheus.DefBuckets,
	})
)

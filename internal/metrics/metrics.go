// Package metrics exposes Prometheus instrumentation for the sync
// engine. Scraped via the dashboard's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	SyncCycles        prometheus.Counter
	SyncCyclesSkipped prometheus.Counter
	HeartbeatFailures prometheus.Counter
	ChangesProcessed  *prometheus.CounterVec
	QueueDepth        prometheus.Gauge
	PendingOutbound   prometheus.Gauge
	OutboundPushes    *prometheus.CounterVec
	BootstrapRuns     prometheus.Counter
	Online            prometheus.Gauge
}

// New creates and registers all engine metrics on reg. Pass a fresh
// registry in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SyncCycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "lanesync_sync_cycles_total",
			Help: "Total number of sync cycles run",
		}),
		SyncCyclesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "lanesync_sync_cycles_skipped_total",
			Help: "Sync cycle ticks skipped because a cycle was already in flight",
		}),
		HeartbeatFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "lanesync_heartbeat_failures_total",
			Help: "Total number of failed heartbeat probes",
		}),
		ChangesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lanesync_changes_processed_total",
			Help: "Change notifications processed, by entity type and outcome",
		}, []string{"entity_type", "outcome"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lanesync_change_queue_depth",
			Help: "Current depth of the change notification queue",
		}),
		PendingOutbound: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lanesync_pending_outbound",
			Help: "Locally stored records awaiting transmission",
		}),
		OutboundPushes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lanesync_outbound_pushes_total",
			Help: "Outbound push attempts, by result",
		}, []string{"result"}),
		BootstrapRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "lanesync_bootstrap_runs_total",
			Help: "Total number of full bootstrap passes",
		}),
		Online: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lanesync_online",
			Help: "1 when the terminal considers itself online, 0 otherwise",
		}),
	}
}

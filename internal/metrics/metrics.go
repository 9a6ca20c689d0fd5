// Package metrics holds the Prometheus collectors shared by the coordinator,
// the collector and the machine process. All of them are registered on the
// default registry and served by promhttp.Handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Fleet sync ─────────────────────────────────────────────────────────────

var (
	ConnectedPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vending_fleet_connected_peers",
		Help: "Peers currently connected to the coordinator",
	})

	SyncMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vending_fleet_messages_total",
		Help: "Sync messages processed by the coordinator",
	}, []string{"type", "result"})

	BroadcastDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vending_fleet_broadcast_dropped_total",
		Help: "Messages dropped because a peer send queue was full",
	})

	PersistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vending_persist_failures_total",
		Help: "Best-effort persistence writes that failed",
	}, []string{"store"})
)

// ─── Telemetry ──────────────────────────────────────────────────────────────

var (
	TelemetryConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vending_telemetry_connections",
		Help: "Machines currently streaming sale records",
	})

	TelemetryRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vending_telemetry_records_total",
		Help: "Sale record lines received by the collector",
	}, []string{"result"})

	LowStockWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vending_telemetry_low_stock_warnings_total",
		Help: "Low-stock warnings sent back to machines",
	})
)

// ─── Machine ────────────────────────────────────────────────────────────────

var (
	Sales = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vending_machine_sales_total",
		Help: "Completed purchases by item",
	}, []string{"item"})

	ChangeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vending_machine_change_failures_total",
		Help: "Change requests that could not be paid from coin stock",
	})
)

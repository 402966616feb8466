// Package metrics exposes the address index's Prometheus instruments:
// block connect/disconnect throughput, the live store watermark, query
// latency and volume, and recovery scan activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// BlocksConnectedTotal counts blocks applied via Connect.
	BlocksConnectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "addrindex_blocks_connected_total",
			Help: "Total number of blocks connected to the address index",
		},
	)

	// BlocksDisconnectedTotal counts blocks reverted via Disconnect.
	BlocksDisconnectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "addrindex_blocks_disconnected_total",
			Help: "Total number of blocks disconnected from the address index",
		},
	)

	// IndexWatermark is the height of the last block whose batch committed.
	IndexWatermark = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "addrindex_watermark_height",
			Help: "Height of the last block whose batch committed to the store",
		},
	)

	// QueryRequestsTotal counts RPC query calls by method and outcome.
	QueryRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "addrindex_query_requests_total",
			Help: "Total address index query RPC requests",
		},
		[]string{"method", "status"},
	)

	// QueryDurationSeconds is a histogram of query handler latency.
	QueryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "addrindex_query_duration_seconds",
			Help:    "Query handler latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		},
		[]string{"method"},
	)

	// RecoveryScansTotal counts completed gap-limit recovery scans.
	RecoveryScansTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "addrindex_recovery_scans_total",
			Help: "Total completed gap-limit recovery scans",
		},
	)

	// RecoveryDerivedAddresses counts addresses derived across all recovery
	// scans, the dominant cost of a scan against a large gap.
	RecoveryDerivedAddresses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "addrindex_recovery_derived_addresses_total",
			Help: "Total addresses derived while scanning for wallet recovery",
		},
	)

	// WireMessagesTotal counts STBTS binary messages by command and outcome.
	WireMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "addrindex_wire_messages_total",
			Help: "Total STBTS binary protocol messages processed",
		},
		[]string{"command", "status"},
	)
)

func init() {
	prometheus.MustRegister(BlocksConnectedTotal)
	prometheus.MustRegister(BlocksDisconnectedTotal)
	prometheus.MustRegister(IndexWatermark)
	prometheus.MustRegister(QueryRequestsTotal)
	prometheus.MustRegister(QueryDurationSeconds)
	prometheus.MustRegister(RecoveryScansTotal)
	prometheus.MustRegister(RecoveryDerivedAddresses)
	prometheus.MustRegister(WireMessagesTotal)
}

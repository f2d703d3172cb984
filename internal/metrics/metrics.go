package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Feed metrics
	FeedConnectionStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alertd_feed_connection_status",
			Help: "Upstream feed connection status (1=open, 0=down)",
		},
	)

	FeedReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alertd_feed_reconnects_total",
			Help: "Total number of upstream reconnect attempts",
		},
	)

	TicksDecoded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alertd_ticks_decoded_total",
			Help: "Total number of ticks decoded from the upstream feed",
		},
	)

	// Dispatcher metrics
	TickFlushSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "alertd_tick_flush_size",
			Help:    "Number of coalesced ticks per cache flush",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	EngineQueueDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alertd_engine_queue_drops_total",
			Help: "Ticks dropped because the engine queue was full",
		},
	)

	// Engine metrics
	AlertTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertd_alert_transitions_total",
			Help: "Total number of alert status transitions",
		},
		[]string{"status"},
	)

	BulkWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alertd_bulk_write_failures_total",
			Help: "Failed bulk writes of alert updates",
		},
	)

	CachedAlerts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alertd_cached_alerts",
			Help: "Number of non-terminal alerts in the in-process cache",
		},
	)

	// Notification metrics
	NotificationsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertd_notifications_enqueued_total",
			Help: "Notification jobs enqueued per channel",
		},
		[]string{"channel"},
	)

	// Live metrics
	LiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alertd_live_sessions",
			Help: "Number of open client websocket sessions",
		},
	)

	SubscribedInstruments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alertd_subscribed_instruments",
			Help: "Number of instruments in the upstream subscription set",
		},
	)
)

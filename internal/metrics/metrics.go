package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FeedMessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradeflow_feed_messages_received_total",
		Help: "Total number of frames received from the market-data websocket",
	})

	FeedMessagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradeflow_feed_messages_dropped_total",
		Help: "Frames dropped because the feed output buffer was full",
	})

	FeedReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradeflow_feed_reconnects_total",
		Help: "Successful websocket reconnections",
	})

	IngestSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeflow_ingest_skipped_total",
		Help: "Feed frames not buffered, by message type",
	}, []string{"type"})

	IngestDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradeflow_ingest_dropped_total",
		Help: "Events dropped because the ingest buffer was full",
	})

	IngestInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradeflow_ingest_raw_events_inserted_total",
		Help: "Raw events appended to the raw event store",
	})

	IngestFlushErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradeflow_ingest_flush_errors_total",
		Help: "Failed raw event flushes (batch retained)",
	})

	IngestFlushLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradeflow_ingest_flush_latency_seconds",
		Help:    "Latency of raw event batch appends",
		Buckets: prometheus.DefBuckets,
	})

	DedupTrades = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeflow_dedup_trades_total",
		Help: "Valid trades seen by the deduplicator, by outcome (inserted, duplicate)",
	}, []string{"outcome"})

	DedupQuarantined = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeflow_dedup_quarantined_total",
		Help: "Raw events quarantined, by reason",
	}, []string{"reason"})

	RollupRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeflow_rollup_rows_written_total",
		Help: "Aggregate rows written, by table",
	}, []string{"table"})

	RollupSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeflow_rollup_rows_skipped_total",
		Help: "Aggregate rows the store rejected as invalid data, by table",
	}, []string{"table"})

	StageRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeflow_stage_runs_total",
		Help: "Pipeline stage executions, by stage and status",
	}, []string{"stage", "status"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradeflow_stage_duration_seconds",
		Help:    "Pipeline stage execution time",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"stage"})

	QualityCheckPassed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradeflow_quality_check_passed",
		Help: "1 if the latest evaluation of the check passed, else 0",
	}, []string{"check"})
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Bool converts a pass/fail flag to a gauge value.
func Bool(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

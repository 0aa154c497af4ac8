package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/tradeflow/internal/model"
)

var (
	// ErrNotFound is returned when a keyed lookup has no row.
	ErrNotFound = errors.New("not found")

	// ErrInvalidData is returned when a row violates a column type or range.
	// Retrying the same write cannot succeed.
	ErrInvalidData = errors.New("invalid data")
)

// Watermark names used by the pipeline stages.
const (
	WatermarkDedup  = "dedup"  // last promoted raw event id
	WatermarkRollup = "rollup" // max trade ingest_time folded into aggregates (µs)
)

// RawStore is the append-only bronze store. Sole writer: ingest.Batcher.
type RawStore interface {
	// AppendRaw inserts all events atomically and returns the number written.
	// IDs on the input are ignored; the store assigns monotonic ids.
	AppendRaw(ctx context.Context, events []model.RawEvent) (int, error)

	// RawAfter returns up to limit events with id > afterID in id order.
	RawAfter(ctx context.Context, afterID int64, limit int) ([]model.RawEvent, error)
}

// TradeStore is the canonical silver store. Sole writer: dedup.Deduplicator.
type TradeStore interface {
	// InsertTrades inserts rows whose trade_id is absent and returns how many were inserted.
	// Rows whose trade_id already exists are dropped without error.
	InsertTrades(ctx context.Context, trades []model.Trade) (int, error)

	// TradesIngestedSince returns trades with ingest_time >= since.
	TradesIngestedSince(ctx context.Context, since time.Time) ([]model.Trade, error)

	// TradesBetween returns trades with from <= trade_time < to. An empty
	// productID selects every product.
	TradesBetween(ctx context.Context, productID string, from, to time.Time) ([]model.Trade, error)
}

// QuarantineStore holds rejected raw events. Sole writer: dedup.Deduplicator.
type QuarantineStore interface {
	// InsertQuarantine inserts rows whose source_raw_id is absent and returns how many were inserted.
	InsertQuarantine(ctx context.Context, records []model.QuarantinedRecord) (int, error)
}

// AggregateStore holds gold tables. Sole writer: rollup.Engine.
type AggregateStore interface {
	// GetCandle returns ErrNotFound when no row exists for the key.
	GetCandle(ctx context.Context, g model.Granularity, productID string, bucketStart time.Time) (model.Candle, error)
	UpsertCandle(ctx context.Context, c model.Candle) error
	// CandlesBetween returns candles with from <= bucket_start < to ordered by bucket_start.
	CandlesBetween(ctx context.Context, g model.Granularity, productID string, from, to time.Time) ([]model.Candle, error)

	GetDailyKPI(ctx context.Context, productID string, day time.Time) (model.DailyKPI, error)
	UpsertDailyKPI(ctx context.Context, k model.DailyKPI) error

	// PurgeMoversBefore deletes snapshots older than cutoff and returns how many were deleted.
	PurgeMoversBefore(ctx context.Context, cutoff time.Time) (int, error)
	InsertMovers(ctx context.Context, rows []model.TopMoverSnapshot) (int, error)
	LatestMovers(ctx context.Context, period model.MoverPeriod) ([]model.TopMoverSnapshot, error)
}

// WatermarkStore tracks how far each stage has consumed its input.
type WatermarkStore interface {
	// Watermark returns 0 for an unknown name.
	Watermark(ctx context.Context, name string) (int64, error)
	// AdvanceWatermark sets the watermark to max(current, value).
	AdvanceWatermark(ctx context.Context, name string, value int64) error
}

// RunStore persists PipelineRun lifecycles.
type RunStore interface {
	CreateRun(ctx context.Context, run model.PipelineRun) error
	FinishRun(ctx context.Context, run model.PipelineRun) error
	GetRun(ctx context.Context, id uuid.UUID) (model.PipelineRun, error)
}

// CheckStore is the append-only sink for quality results.
type CheckStore interface {
	InsertCheckResults(ctx context.Context, results []model.DQCheckResult) error
}

// QualitySource answers the read-only questions asked by the quality checks.
type QualitySource interface {
	// LatestArrival returns the newest raw event arrival time, nil when empty.
	LatestArrival(ctx context.Context) (*time.Time, error)
	// LatestTradeTime returns the newest trade_time, nil when empty.
	LatestTradeTime(ctx context.Context) (*time.Time, error)
	CountRawSince(ctx context.Context, since time.Time) (int64, error)
	CountTradesSince(ctx context.Context, since time.Time) (int64, error)
	CountRaw(ctx context.Context) (int64, error)
	CountQuarantined(ctx context.Context) (int64, error)
	TradeStats(ctx context.Context) (TradeStats, error)
	// AggregateProductsMissingTrades lists aggregate product ids absent from trades.
	AggregateProductsMissingTrades(ctx context.Context) ([]string, error)
}

// TradeStats are the silver-table counters used by null, range and duplicate checks.
type TradeStats struct {
	NullPrice         int64
	NullProductID     int64
	DuplicateTradeIDs int64
	NegativePrice     int64
	ZeroSize          int64
}

// Store is the full durable store used by the commands.
type Store interface {
	RawStore
	TradeStore
	QuarantineStore
	AggregateStore
	WatermarkStore
	RunStore
	CheckStore
	QualitySource

	Ping(ctx context.Context) error
	Close()
}

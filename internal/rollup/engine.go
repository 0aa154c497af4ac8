package rollup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/rickgao/tradeflow/internal/metrics"
	"github.com/rickgao/tradeflow/internal/model"
	"github.com/rickgao/tradeflow/internal/store"
)

// Store is the storage the Engine reads and owns.
type Store interface {
	store.TradeStore
	store.AggregateStore
	store.WatermarkStore
}

// Config controls the rollup window.
type Config struct {
	Lookback       time.Duration // Re-scan overlap behind the watermark for late trades
	MoverRetention time.Duration // Age after which mover snapshots are purged
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Lookback:       10 * time.Minute,
		MoverRetention: time.Hour,
	}
}

// Counts is the write tally for one aggregate table.
type Counts struct {
	Upserted  int
	Unchanged int
	Skipped   int // Rows the store rejected as invalid data
}

// Result summarises one Run.
type Result struct {
	TradesScanned  int
	Minute         Counts
	Hour           Counts
	Daily          Counts
	MoversInserted int
	MoversSkipped  int
	MoversPurged   int
	Watermark      int64 // Max trade ingest_time folded in (Unix µs)
}

// Processed is the number of trades scanned.
func (r Result) Processed() int64 { return int64(r.TradesScanned) }

// Engine recomputes the aggregates touched by newly ingested trades.
type Engine struct {
	cfg    Config
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(cfg Config, s Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	if cfg.MoverRetention <= 0 {
		cfg.MoverRetention = def.MoverRetention
	}
	return &Engine{
		cfg:    cfg,
		store:  s,
		logger: logger.With("component", "rollup"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// bucketKey identifies one aggregate row.
type bucketKey struct {
	productID string
	start     time.Time
}

// Run rebuilds every bucket containing a trade ingested since the watermark
// (minus the lookback), then refreshes the top movers. Buckets are rebuilt 1m,
// then 1h, then daily.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	var res Result
	now := e.now().Truncate(time.Microsecond)

	wm, err := e.store.Watermark(ctx, store.WatermarkRollup)
	if err != nil {
		return res, fmt.Errorf("read watermark: %w", err)
	}
	res.Watermark = wm

	var since time.Time
	if wm > 0 {
		since = time.UnixMicro(wm).UTC().Add(-e.cfg.Lookback)
	}

	trades, err := e.store.TradesIngestedSince(ctx, since)
	if err != nil {
		return res, fmt.Errorf("read trades: %w", err)
	}
	res.TradesScanned = len(trades)

	minutes := affectedBuckets(trades, model.Granularity1m)
	hours := affectedBuckets(trades, model.Granularity1h)
	days := affectedBuckets(trades, model.Granularity1d)

	if res.Minute, err = e.rebuildMinutes(ctx, minutes, now); err != nil {
		return res, err
	}
	if res.Hour, err = e.rebuildHours(ctx, hours, now); err != nil {
		return res, err
	}
	if res.Daily, err = e.rebuildDays(ctx, days, now); err != nil {
		return res, err
	}

	if err = e.refreshMovers(ctx, now, &res); err != nil {
		return res, err
	}

	maxIngest := wm
	for _, t := range trades {
		if us := t.IngestTime.UnixMicro(); us > maxIngest {
			maxIngest = us
		}
	}
	if maxIngest > wm {
		if err := e.store.AdvanceWatermark(ctx, store.WatermarkRollup, maxIngest); err != nil {
			return res, fmt.Errorf("advance watermark: %w", err)
		}
		res.Watermark = maxIngest
	}

	e.logger.Info("rollup run complete",
		"trades_scanned", res.TradesScanned,
		"candles_1m_upserted", res.Minute.Upserted,
		"candles_1h_upserted", res.Hour.Upserted,
		"daily_upserted", res.Daily.Upserted,
		"movers_inserted", res.MoversInserted,
		"movers_purged", res.MoversPurged,
		"rows_skipped", res.Minute.Skipped+res.Hour.Skipped+res.Daily.Skipped+res.MoversSkipped,
	)
	return res, nil
}

// affectedBuckets returns the distinct (product, bucket) keys of trades,
// ordered by product then bucket start.
func affectedBuckets(trades []model.Trade, g model.Granularity) []bucketKey {
	seen := make(map[bucketKey]struct{})
	for _, t := range trades {
		seen[bucketKey{productID: t.ProductID, start: g.Truncate(t.TradeTime)}] = struct{}{}
	}

	keys := make([]bucketKey, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].productID != keys[j].productID {
			return keys[i].productID < keys[j].productID
		}
		return keys[i].start.Before(keys[j].start)
	})
	return keys
}

func (e *Engine) rebuildMinutes(ctx context.Context, keys []bucketKey, now time.Time) (Counts, error) {
	var c Counts
	for _, k := range keys {
		trades, err := e.store.TradesBetween(ctx, k.productID, k.start, k.start.Add(time.Minute))
		if err != nil {
			return c, fmt.Errorf("read trades for %s %s: %w", k.productID, k.start.Format(time.RFC3339), err)
		}
		fresh, ok := BuildCandle(k.productID, model.Granularity1m, k.start, trades)
		if !ok {
			continue
		}
		if err := e.upsertCandle(ctx, fresh, now, &c); err != nil {
			return c, err
		}
	}
	metrics.RollupRows.WithLabelValues("candles_1m").Add(float64(c.Upserted))
	return c, nil
}

// rebuildHours rolls up stored 1m candles; rebuildMinutes must run first.
func (e *Engine) rebuildHours(ctx context.Context, keys []bucketKey, now time.Time) (Counts, error) {
	var c Counts
	for _, k := range keys {
		finer, err := e.store.CandlesBetween(ctx, model.Granularity1m, k.productID, k.start, k.start.Add(time.Hour))
		if err != nil {
			return c, fmt.Errorf("read 1m candles for %s %s: %w", k.productID, k.start.Format(time.RFC3339), err)
		}
		fresh, ok := RollupCandles(k.productID, model.Granularity1h, k.start, finer)
		if !ok {
			continue
		}
		if err := e.upsertCandle(ctx, fresh, now, &c); err != nil {
			return c, err
		}
	}
	metrics.RollupRows.WithLabelValues("candles_1h").Add(float64(c.Upserted))
	return c, nil
}

func (e *Engine) upsertCandle(ctx context.Context, fresh model.Candle, now time.Time, c *Counts) error {
	var old *model.Candle
	existing, err := e.store.GetCandle(ctx, fresh.Granularity, fresh.ProductID, fresh.BucketStart)
	switch {
	case err == nil:
		old = &existing
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("get %s candle: %w", fresh.Granularity, err)
	}

	fresh.UpdatedAt = now
	merged := MergeCandle(old, fresh)
	if old != nil && sameCandle(*old, merged) {
		c.Unchanged++
		return nil
	}
	if err := e.store.UpsertCandle(ctx, merged); err != nil {
		if !errors.Is(err, store.ErrInvalidData) {
			return err
		}
		e.skip("candles_"+string(fresh.Granularity), fresh.ProductID, fresh.BucketStart, err)
		c.Skipped++
		return nil
	}
	c.Upserted++
	return nil
}

// skip records a bucket whose row the store cannot hold. The rest of the run
// continues.
func (e *Engine) skip(table, productID string, bucketStart time.Time, err error) {
	e.logger.Warn("skipping unstorable aggregate row",
		"table", table,
		"product_id", productID,
		"bucket_start", bucketStart,
		"error", err,
	)
	metrics.RollupSkipped.WithLabelValues(table).Inc()
}

func (e *Engine) rebuildDays(ctx context.Context, keys []bucketKey, now time.Time) (Counts, error) {
	var c Counts
	for _, k := range keys {
		trades, err := e.store.TradesBetween(ctx, k.productID, k.start, k.start.Add(24*time.Hour))
		if err != nil {
			return c, fmt.Errorf("read trades for %s %s: %w", k.productID, k.start.Format(time.DateOnly), err)
		}
		fresh, ok := BuildDailyKPI(k.productID, k.start, trades)
		if !ok {
			continue
		}

		var old *model.DailyKPI
		existing, err := e.store.GetDailyKPI(ctx, k.productID, fresh.Day)
		switch {
		case err == nil:
			old = &existing
		case !errors.Is(err, store.ErrNotFound):
			return c, fmt.Errorf("get daily kpi: %w", err)
		}

		fresh.UpdatedAt = now
		merged := MergeDailyKPI(old, fresh)
		if old != nil && sameDailyKPI(*old, merged) {
			c.Unchanged++
			continue
		}
		if err := e.store.UpsertDailyKPI(ctx, merged); err != nil {
			if !errors.Is(err, store.ErrInvalidData) {
				return c, err
			}
			e.skip("daily_kpis", k.productID, k.start, err)
			c.Skipped++
			continue
		}
		c.Upserted++
	}
	metrics.RollupRows.WithLabelValues("daily_kpis").Add(float64(c.Upserted))
	return c, nil
}

// refreshMovers purges expired snapshots and inserts one snapshot per product
// and period at now.
func (e *Engine) refreshMovers(ctx context.Context, now time.Time, res *Result) error {
	purged, err := e.store.PurgeMoversBefore(ctx, now.Add(-e.cfg.MoverRetention))
	if err != nil {
		return fmt.Errorf("purge movers: %w", err)
	}
	res.MoversPurged = purged

	for _, period := range model.MoverPeriods {
		// Window is [now-period, now]
		trades, err := e.store.TradesBetween(ctx, "", now.Add(-period.Duration()), now.Add(time.Microsecond))
		if err != nil {
			return fmt.Errorf("read trades for %s movers: %w", period, err)
		}
		rows := Movers(trades, now, period)
		if len(rows) == 0 {
			continue
		}
		n, err := e.store.InsertMovers(ctx, rows)
		if errors.Is(err, store.ErrInvalidData) {
			n, err = e.insertMoversEach(ctx, rows, res)
		}
		if err != nil {
			return fmt.Errorf("insert %s movers: %w", period, err)
		}
		res.MoversInserted += n
	}
	metrics.RollupRows.WithLabelValues("top_movers").Add(float64(res.MoversInserted))
	return nil
}

// insertMoversEach inserts rows one at a time so a single unstorable snapshot
// does not drop the others.
func (e *Engine) insertMoversEach(ctx context.Context, rows []model.TopMoverSnapshot, res *Result) (int, error) {
	inserted := 0
	for _, m := range rows {
		n, err := e.store.InsertMovers(ctx, []model.TopMoverSnapshot{m})
		switch {
		case errors.Is(err, store.ErrInvalidData):
			e.skip("top_movers", m.ProductID, m.SnapshotTime, err)
			res.MoversSkipped++
		case err != nil:
			return inserted, err
		}
		inserted += n
	}
	return inserted, nil
}

package quality

import (
	"context"
	"time"

	"github.com/rickgao/tradeflow/internal/store"
)

// Check types.
const (
	TypeFreshness      = "freshness"
	TypeVolume         = "volume"
	TypeNullCheck      = "null_check"
	TypeDuplicate      = "duplicate"
	TypeRange          = "range"
	TypeReferential    = "referential"
	TypeQuarantineRate = "quarantine_rate"
)

// Config holds the check thresholds.
type Config struct {
	BronzeFreshness    time.Duration
	SilverFreshness    time.Duration
	BronzeVolumeWindow time.Duration
	SilverVolumeWindow time.Duration
	MaxQuarantineRate  float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BronzeFreshness:    10 * time.Minute,
		SilverFreshness:    15 * time.Minute,
		BronzeVolumeWindow: 5 * time.Minute,
		SilverVolumeWindow: 10 * time.Minute,
		MaxQuarantineRate:  0.05,
	}
}

// evaluation is the state shared by the checks of one Run.
type evaluation struct {
	src store.QualitySource
	now time.Time

	// Trade counters are read once per Run so the null, duplicate and range
	// checks see the same snapshot.
	stats     store.TradeStats
	statsErr  error
	statsRead bool
}

func (e *evaluation) tradeStats(ctx context.Context) (store.TradeStats, error) {
	if !e.statsRead {
		e.stats, e.statsErr = e.src.TradeStats(ctx)
		e.statsRead = true
	}
	return e.stats, e.statsErr
}

// evalFunc evaluates one check.
type evalFunc func(ctx context.Context, ev *evaluation) (bool, map[string]any, error)

// Check is one entry of the battery.
type Check struct {
	Name  string
	Type  string
	Table string
	eval  evalFunc
}

// Checks returns the battery in evaluation order.
func Checks(cfg Config) []Check {
	return []Check{
		{"bronze_freshness", TypeFreshness, "raw_events", freshness(cfg.BronzeFreshness, "last_ingest_ts",
			func(ctx context.Context, src store.QualitySource) (*time.Time, error) { return src.LatestArrival(ctx) })},
		{"silver_freshness", TypeFreshness, "trades", freshness(cfg.SilverFreshness, "last_trade_time",
			func(ctx context.Context, src store.QualitySource) (*time.Time, error) { return src.LatestTradeTime(ctx) })},
		{"bronze_volume_5m", TypeVolume, "raw_events", volume(cfg.BronzeVolumeWindow,
			func(ctx context.Context, src store.QualitySource, since time.Time) (int64, error) {
				return src.CountRawSince(ctx, since)
			})},
		{"silver_volume_10m", TypeVolume, "trades", volume(cfg.SilverVolumeWindow,
			func(ctx context.Context, src store.QualitySource, since time.Time) (int64, error) {
				return src.CountTradesSince(ctx, since)
			})},
		{"silver_no_null_price", TypeNullCheck, "trades", zeroStat("null_count",
			func(s store.TradeStats) int64 { return s.NullPrice })},
		{"silver_no_null_product_id", TypeNullCheck, "trades", zeroStat("null_count",
			func(s store.TradeStats) int64 { return s.NullProductID })},
		{"silver_no_duplicates", TypeDuplicate, "trades", zeroStat("duplicate_count",
			func(s store.TradeStats) int64 { return s.DuplicateTradeIDs })},
		{"silver_no_negative_price", TypeRange, "trades", zeroStat("negative_count",
			func(s store.TradeStats) int64 { return s.NegativePrice })},
		{"silver_no_zero_size", TypeRange, "trades", zeroStat("zero_count",
			func(s store.TradeStats) int64 { return s.ZeroSize })},
		{"gold_referential_integrity", TypeReferential, "candles_1m,candles_1h,daily_kpis,top_movers", referential},
		{"quarantine_rate", TypeQuarantineRate, "quarantined_records", quarantineRate(cfg.MaxQuarantineRate)},
	}
}

// freshness passes when the newest timestamp is within maxAge of now. An empty
// table fails with a null age.
func freshness(maxAge time.Duration, key string, latest func(context.Context, store.QualitySource) (*time.Time, error)) evalFunc {
	return func(ctx context.Context, ev *evaluation) (bool, map[string]any, error) {
		ts, err := latest(ctx, ev.src)
		if err != nil {
			return false, nil, err
		}
		if ts == nil {
			return false, map[string]any{key: nil, "age_seconds": nil}, nil
		}
		age := ev.now.Sub(*ts)
		return age <= maxAge, map[string]any{
			key:           ts.UTC().Format(time.RFC3339Nano),
			"age_seconds": age.Seconds(),
		}, nil
	}
}

// volume passes when at least one row landed inside the window.
func volume(window time.Duration, count func(context.Context, store.QualitySource, time.Time) (int64, error)) evalFunc {
	return func(ctx context.Context, ev *evaluation) (bool, map[string]any, error) {
		n, err := count(ctx, ev.src, ev.now.Add(-window))
		if err != nil {
			return false, nil, err
		}
		return n > 0, map[string]any{"record_count": n}, nil
	}
}

// zeroStat passes when the selected trade counter is zero.
func zeroStat(key string, pick func(store.TradeStats) int64) evalFunc {
	return func(ctx context.Context, ev *evaluation) (bool, map[string]any, error) {
		stats, err := ev.tradeStats(ctx)
		if err != nil {
			return false, nil, err
		}
		n := pick(stats)
		return n == 0, map[string]any{key: n}, nil
	}
}

func referential(ctx context.Context, ev *evaluation) (bool, map[string]any, error) {
	orphans, err := ev.src.AggregateProductsMissingTrades(ctx)
	if err != nil {
		return false, nil, err
	}
	if orphans == nil {
		orphans = []string{}
	}
	return len(orphans) == 0, map[string]any{
		"orphan_count":    len(orphans),
		"orphan_products": orphans,
	}, nil
}

// quarantineRate passes when quarantined/raw is below threshold. No raw events
// passes.
func quarantineRate(threshold float64) evalFunc {
	return func(ctx context.Context, ev *evaluation) (bool, map[string]any, error) {
		quarantined, err := ev.src.CountQuarantined(ctx)
		if err != nil {
			return false, nil, err
		}
		total, err := ev.src.CountRaw(ctx)
		if err != nil {
			return false, nil, err
		}

		var rate float64
		if total > 0 {
			rate = float64(quarantined) / float64(total)
		}
		return rate < threshold, map[string]any{
			"quarantined": quarantined,
			"total":       total,
			"rate":        rate,
			"threshold":   threshold,
		}, nil
	}
}

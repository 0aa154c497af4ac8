package rollup

import (
	"github.com/shopspring/decimal"

	"github.com/rickgao/tradeflow/internal/model"
)

// MergeCandle combines a stored candle with a fresh recompute of the same key.
// High and low only widen; every other value comes from fresh. When the result
// equals old, old is returned unchanged, including its UpdatedAt.
func MergeCandle(old *model.Candle, fresh model.Candle) model.Candle {
	if old == nil {
		return fresh
	}

	merged := fresh
	merged.High = decimal.Max(old.High, fresh.High)
	merged.Low = decimal.Min(old.Low, fresh.Low)

	if sameCandle(*old, merged) {
		return *old
	}
	return merged
}

// MergeDailyKPI is MergeCandle for daily KPI rows.
func MergeDailyKPI(old *model.DailyKPI, fresh model.DailyKPI) model.DailyKPI {
	if old == nil {
		return fresh
	}

	merged := fresh
	merged.High = decimal.Max(old.High, fresh.High)
	merged.Low = decimal.Min(old.Low, fresh.Low)

	if sameDailyKPI(*old, merged) {
		return *old
	}
	return merged
}

// sameCandle compares every value column, ignoring UpdatedAt.
func sameCandle(a, b model.Candle) bool {
	return a.Open.Equal(b.Open) &&
		a.High.Equal(b.High) &&
		a.Low.Equal(b.Low) &&
		a.Close.Equal(b.Close) &&
		a.Volume.Equal(b.Volume) &&
		a.TradeCount == b.TradeCount &&
		sameNull(a.VWAP, b.VWAP)
}

func sameDailyKPI(a, b model.DailyKPI) bool {
	return a.Trades == b.Trades &&
		a.Volume.Equal(b.Volume) &&
		sameNull(a.VWAP, b.VWAP) &&
		a.High.Equal(b.High) &&
		a.Low.Equal(b.Low) &&
		a.Open.Equal(b.Open) &&
		a.Close.Equal(b.Close) &&
		a.PriceChangePct.Equal(b.PriceChangePct)
}

func sameNull(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}

package rollup

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/tradeflow/internal/model"
)

const (
	vwapPlaces = model.AmountScale
	pctPlaces  = model.PctScale
)

var hundred = decimal.NewFromInt(100)

// sortTrades returns a copy of trades ordered by (trade_time, trade_id).
func sortTrades(trades []model.Trade) []model.Trade {
	out := make([]model.Trade, len(trades))
	copy(out, trades)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TradeTime.Equal(out[j].TradeTime) {
			return out[i].TradeTime.Before(out[j].TradeTime)
		}
		return out[i].TradeID < out[j].TradeID
	})
	return out
}

// ohlcv is the shared reduction over a sorted trade sequence.
type ohlcv struct {
	open, high, low, close decimal.Decimal
	volume                 decimal.Decimal
	count                  int64
	vwap                   decimal.NullDecimal
}

func reduce(trades []model.Trade) ohlcv {
	sorted := sortTrades(trades)

	r := ohlcv{
		open:  sorted[0].Price,
		high:  sorted[0].Price,
		low:   sorted[0].Price,
		close: sorted[len(sorted)-1].Price,
	}
	notional := decimal.Zero
	r.volume = decimal.Zero
	for _, t := range sorted {
		if t.Price.GreaterThan(r.high) {
			r.high = t.Price
		}
		if t.Price.LessThan(r.low) {
			r.low = t.Price
		}
		r.volume = r.volume.Add(t.Size)
		notional = notional.Add(t.Notional())
		r.count++
	}
	r.vwap = weightedAverage(notional, r.volume)
	return r
}

// weightedAverage returns sum/weight rounded to vwap precision, or null when
// weight is zero.
func weightedAverage(sum, weight decimal.Decimal) decimal.NullDecimal {
	if weight.IsZero() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(sum.DivRound(weight, vwapPlaces))
}

// PriceChangePct returns (close-open)/open*100 rounded to 4 dp and clamped to
// ±model.MaxPct, or zero when open is not positive.
func PriceChangePct(open, close decimal.Decimal) decimal.Decimal {
	if !open.IsPositive() {
		return decimal.Zero
	}
	return model.ClampPct(close.Sub(open).Mul(hundred).DivRound(open, pctPlaces))
}

// BuildCandle aggregates the trades of one bucket. It reports false when
// trades is empty.
func BuildCandle(productID string, g model.Granularity, bucketStart time.Time, trades []model.Trade) (model.Candle, bool) {
	if len(trades) == 0 {
		return model.Candle{}, false
	}
	r := reduce(trades)
	return model.Candle{
		ProductID:   productID,
		Granularity: g,
		BucketStart: bucketStart.UTC(),
		Open:        r.open,
		High:        r.high,
		Low:         r.low,
		Close:       r.close,
		Volume:      r.volume,
		TradeCount:  r.count,
		VWAP:        r.vwap,
	}, true
}

// RollupCandles aggregates finer candles into one coarser bucket. The finer
// candles must already be up to date.
func RollupCandles(productID string, g model.Granularity, bucketStart time.Time, finer []model.Candle) (model.Candle, bool) {
	if len(finer) == 0 {
		return model.Candle{}, false
	}

	sorted := make([]model.Candle, len(finer))
	copy(sorted, finer)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].BucketStart.Before(sorted[j].BucketStart) })

	out := model.Candle{
		ProductID:   productID,
		Granularity: g,
		BucketStart: bucketStart.UTC(),
		Open:        sorted[0].Open,
		High:        sorted[0].High,
		Low:         sorted[0].Low,
		Close:       sorted[len(sorted)-1].Close,
		Volume:      decimal.Zero,
	}

	weighted := decimal.Zero
	weight := decimal.Zero
	for _, c := range sorted {
		if c.High.GreaterThan(out.High) {
			out.High = c.High
		}
		if c.Low.LessThan(out.Low) {
			out.Low = c.Low
		}
		out.Volume = out.Volume.Add(c.Volume)
		out.TradeCount += c.TradeCount
		if c.VWAP.Valid {
			weighted = weighted.Add(c.VWAP.Decimal.Mul(c.Volume))
			weight = weight.Add(c.Volume)
		}
	}
	out.VWAP = weightedAverage(weighted, weight)
	return out, true
}

// BuildDailyKPI aggregates one product's trades for one UTC day.
func BuildDailyKPI(productID string, day time.Time, trades []model.Trade) (model.DailyKPI, bool) {
	if len(trades) == 0 {
		return model.DailyKPI{}, false
	}
	r := reduce(trades)
	return model.DailyKPI{
		ProductID:      productID,
		Day:            model.Granularity1d.Truncate(day),
		Trades:         r.count,
		Volume:         r.volume,
		VWAP:           r.vwap,
		High:           r.high,
		Low:            r.low,
		Open:           r.open,
		Close:          r.close,
		PriceChangePct: PriceChangePct(r.open, r.close),
	}, true
}

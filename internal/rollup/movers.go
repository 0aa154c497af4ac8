package rollup

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/tradeflow/internal/model"
)

// Movers builds one snapshot per product from the trades of a trailing window.
// The change is measured from the earliest to the latest trade by
// (trade_time, trade_id). Rows are ordered by product id.
func Movers(trades []model.Trade, snapshotTime time.Time, period model.MoverPeriod) []model.TopMoverSnapshot {
	byProduct := make(map[string][]model.Trade)
	for _, t := range trades {
		byProduct[t.ProductID] = append(byProduct[t.ProductID], t)
	}

	products := make([]string, 0, len(byProduct))
	for p := range byProduct {
		products = append(products, p)
	}
	sort.Strings(products)

	out := make([]model.TopMoverSnapshot, 0, len(products))
	for _, p := range products {
		sorted := sortTrades(byProduct[p])
		volume := decimal.Zero
		for _, t := range sorted {
			volume = volume.Add(t.Size)
		}
		out = append(out, model.TopMoverSnapshot{
			SnapshotTime:   snapshotTime.UTC(),
			ProductID:      p,
			Period:         period,
			PriceChangePct: PriceChangePct(sorted[0].Price, sorted[len(sorted)-1].Price),
			Volume:         volume,
			TradeCount:     int64(len(sorted)),
		})
	}
	return out
}

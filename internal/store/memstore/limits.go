package memstore

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rickgao/tradeflow/internal/model"
	"github.com/rickgao/tradeflow/internal/store"
)

// Column limits of the Postgres schema. A write past them fails the whole call
// with store.ErrInvalidData, as a numeric overflow or a rejected jsonb value
// aborts the batch there.

type numeric struct {
	precision, scale int32
}

var (
	amountCol = numeric{20, 8}
	volumeCol = numeric{28, 8}
	pctCol    = numeric{12, 4}
)

// check fails when d, rounded to the column scale, needs more integer digits
// than the column has. Extra fractional digits are rounded by Postgres, not rejected.
func (n numeric) check(name string, d decimal.Decimal) error {
	limit := decimal.New(1, n.precision-n.scale)
	if d.Round(n.scale).Abs().GreaterThanOrEqual(limit) {
		return fmt.Errorf("%s %s overflows numeric(%d,%d): %w", name, d, n.precision, n.scale, store.ErrInvalidData)
	}
	return nil
}

func checkPayload(payload []byte) error {
	if err := model.CheckPayload(payload); err != nil {
		return fmt.Errorf("payload: %w: %w", store.ErrInvalidData, err)
	}
	return nil
}

func checkTrade(t model.Trade) error {
	if err := amountCol.check("price", t.Price); err != nil {
		return err
	}
	return amountCol.check("size", t.Size)
}

func checkCandle(c model.Candle) error {
	for _, f := range []struct {
		name string
		d    decimal.Decimal
	}{
		{"open", c.Open},
		{"high", c.High},
		{"low", c.Low},
		{"close", c.Close},
	} {
		if err := amountCol.check(f.name, f.d); err != nil {
			return err
		}
	}
	if c.VWAP.Valid {
		if err := amountCol.check("vwap", c.VWAP.Decimal); err != nil {
			return err
		}
	}
	return volumeCol.check("volume", c.Volume)
}

func checkDailyKPI(k model.DailyKPI) error {
	err := checkCandle(model.Candle{
		Open:   k.Open,
		High:   k.High,
		Low:    k.Low,
		Close:  k.Close,
		Volume: k.Volume,
		VWAP:   k.VWAP,
	})
	if err != nil {
		return err
	}
	return pctCol.check("price_change_pct", k.PriceChangePct)
}

func checkMover(m model.TopMoverSnapshot) error {
	if err := pctCol.check("price_change_pct", m.PriceChangePct); err != nil {
		return err
	}
	return volumeCol.check("volume", m.Volume)
}

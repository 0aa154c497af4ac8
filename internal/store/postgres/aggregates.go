package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/tradeflow/internal/model"
	"github.com/rickgao/tradeflow/internal/store"
)

// GetCandle returns the candle for the key or store.ErrNotFound.
func (s *Store) GetCandle(ctx context.Context, g model.Granularity, productID string, bucketStart time.Time) (model.Candle, error) {
	table, err := candleTable(g)
	if err != nil {
		return model.Candle{}, err
	}

	row := s.db.QueryRow(ctx, `
		SELECT product_id, bucket_start, open, high, low, close, volume, trade_count, vwap, updated_at
		FROM `+table+`
		WHERE product_id = $1 AND bucket_start = $2
	`, productID, bucketStart)

	c, err := scanCandle(row, g)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Candle{}, store.ErrNotFound
	}
	if err != nil {
		return model.Candle{}, fmt.Errorf("get candle: %w", err)
	}
	return c, nil
}

// UpsertCandle inserts or replaces the candle row for its key.
func (s *Store) UpsertCandle(ctx context.Context, c model.Candle) error {
	table, err := candleTable(c.Granularity)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO `+table+` (product_id, bucket_start, open, high, low, close, volume, trade_count, vwap, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (product_id, bucket_start) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			trade_count = EXCLUDED.trade_count,
			vwap = EXCLUDED.vwap,
			updated_at = EXCLUDED.updated_at
	`, c.ProductID, c.BucketStart, c.Open, c.High, c.Low, c.Close, c.Volume, c.TradeCount, c.VWAP, c.UpdatedAt)
	if err != nil {
		return wrapErr("upsert "+table, err)
	}
	return nil
}

// CandlesBetween returns candles with from <= bucket_start < to ordered by bucket_start.
func (s *Store) CandlesBetween(ctx context.Context, g model.Granularity, productID string, from, to time.Time) ([]model.Candle, error) {
	table, err := candleTable(g)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT product_id, bucket_start, open, high, low, close, volume, trade_count, vwap, updated_at
		FROM `+table+`
		WHERE product_id = $1 AND bucket_start >= $2 AND bucket_start < $3
		ORDER BY bucket_start
	`, productID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var out []model.Candle
	for rows.Next() {
		c, err := scanCandle(rows, g)
		if err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCandle(row pgx.Row, g model.Granularity) (model.Candle, error) {
	c := model.Candle{Granularity: g}
	err := row.Scan(&c.ProductID, &c.BucketStart, &c.Open, &c.High, &c.Low, &c.Close,
		&c.Volume, &c.TradeCount, &c.VWAP, &c.UpdatedAt)
	c.BucketStart = c.BucketStart.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, err
}

// GetDailyKPI returns the KPI row for the key or store.ErrNotFound.
func (s *Store) GetDailyKPI(ctx context.Context, productID string, day time.Time) (model.DailyKPI, error) {
	var k model.DailyKPI
	err := s.db.QueryRow(ctx, `
		SELECT product_id, day, trades, volume, vwap, high, low, open, close, price_change_pct, updated_at
		FROM daily_kpis
		WHERE product_id = $1 AND day = $2
	`, productID, day).Scan(&k.ProductID, &k.Day, &k.Trades, &k.Volume, &k.VWAP, &k.High, &k.Low,
		&k.Open, &k.Close, &k.PriceChangePct, &k.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DailyKPI{}, store.ErrNotFound
	}
	if err != nil {
		return model.DailyKPI{}, fmt.Errorf("get daily kpi: %w", err)
	}
	k.Day = time.Date(k.Day.Year(), k.Day.Month(), k.Day.Day(), 0, 0, 0, 0, time.UTC)
	k.UpdatedAt = k.UpdatedAt.UTC()
	return k, nil
}

// UpsertDailyKPI inserts or replaces the KPI row for its key.
func (s *Store) UpsertDailyKPI(ctx context.Context, k model.DailyKPI) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO daily_kpis (product_id, day, trades, volume, vwap, high, low, open, close, price_change_pct, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (product_id, day) DO UPDATE SET
			trades = EXCLUDED.trades,
			volume = EXCLUDED.volume,
			vwap = EXCLUDED.vwap,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			open = EXCLUDED.open,
			close = EXCLUDED.close,
			price_change_pct = EXCLUDED.price_change_pct,
			updated_at = EXCLUDED.updated_at
	`, k.ProductID, k.Day, k.Trades, k.Volume, k.VWAP, k.High, k.Low, k.Open, k.Close, k.PriceChangePct, k.UpdatedAt)
	if err != nil {
		return wrapErr("upsert daily kpi", err)
	}
	return nil
}

// PurgeMoversBefore deletes snapshots with snapshot_time < cutoff.
func (s *Store) PurgeMoversBefore(ctx context.Context, cutoff time.Time) (int, error) {
	ct, err := s.db.Exec(ctx, `DELETE FROM top_movers WHERE snapshot_time < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge top movers: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

// InsertMovers inserts snapshots with ON CONFLICT DO NOTHING.
func (s *Store) InsertMovers(ctx context.Context, rows []model.TopMoverSnapshot) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, m := range rows {
		batch.Queue(`
			INSERT INTO top_movers (snapshot_time, product_id, period, price_change_pct, volume, trade_count)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (snapshot_time, product_id, period) DO NOTHING
		`, m.SnapshotTime, m.ProductID, string(m.Period), m.PriceChangePct, m.Volume, m.TradeCount)
	}

	n, err := execBatch(ctx, s.db, batch)
	if err != nil {
		return 0, wrapErr("insert top movers", err)
	}
	return n, nil
}

// LatestMovers returns the newest snapshot of a period, largest price change first.
func (s *Store) LatestMovers(ctx context.Context, period model.MoverPeriod) ([]model.TopMoverSnapshot, error) {
	rows, err := s.db.Query(ctx, `
		SELECT snapshot_time, product_id, period, price_change_pct, volume, trade_count
		FROM top_movers
		WHERE period = $1
		  AND snapshot_time = (SELECT max(snapshot_time) FROM top_movers WHERE period = $1)
		ORDER BY price_change_pct DESC, product_id
	`, string(period))
	if err != nil {
		return nil, fmt.Errorf("query top movers: %w", err)
	}
	defer rows.Close()

	var out []model.TopMoverSnapshot
	for rows.Next() {
		var m model.TopMoverSnapshot
		var p string
		if err := rows.Scan(&m.SnapshotTime, &m.ProductID, &p, &m.PriceChangePct, &m.Volume, &m.TradeCount); err != nil {
			return nil, fmt.Errorf("scan top mover: %w", err)
		}
		m.Period = model.MoverPeriod(p)
		m.SnapshotTime = m.SnapshotTime.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/rickgao/tradeflow/internal/store"
)

// LatestArrival returns max(arrival_time) from raw_events.
func (s *Store) LatestArrival(ctx context.Context) (*time.Time, error) {
	return s.maxTime(ctx, `SELECT max(arrival_time) FROM raw_events`)
}

// LatestTradeTime returns max(trade_time) from trades.
func (s *Store) LatestTradeTime(ctx context.Context) (*time.Time, error) {
	return s.maxTime(ctx, `SELECT max(trade_time) FROM trades`)
}

func (s *Store) maxTime(ctx context.Context, sql string) (*time.Time, error) {
	var t *time.Time
	if err := s.db.QueryRow(ctx, sql).Scan(&t); err != nil {
		return nil, fmt.Errorf("query max time: %w", err)
	}
	if t != nil {
		utc := t.UTC()
		t = &utc
	}
	return t, nil
}

// CountRawSince counts raw events with arrival_time >= since.
func (s *Store) CountRawSince(ctx context.Context, since time.Time) (int64, error) {
	return s.count(ctx, `SELECT count(*) FROM raw_events WHERE arrival_time >= $1`, since)
}

// CountTradesSince counts trades with trade_time >= since.
func (s *Store) CountTradesSince(ctx context.Context, since time.Time) (int64, error) {
	return s.count(ctx, `SELECT count(*) FROM trades WHERE trade_time >= $1`, since)
}

// CountRaw counts all raw events.
func (s *Store) CountRaw(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT count(*) FROM raw_events`)
}

// CountQuarantined counts all quarantined records.
func (s *Store) CountQuarantined(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT count(*) FROM quarantined_records`)
}

func (s *Store) count(ctx context.Context, sql string, args ...any) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// TradeStats computes the silver-table counters in two scans.
func (s *Store) TradeStats(ctx context.Context) (store.TradeStats, error) {
	var st store.TradeStats
	err := s.db.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE price IS NULL),
			count(*) FILTER (WHERE product_id IS NULL OR product_id = ''),
			count(*) FILTER (WHERE price < 0),
			count(*) FILTER (WHERE size = 0)
		FROM trades
	`).Scan(&st.NullPrice, &st.NullProductID, &st.NegativePrice, &st.ZeroSize)
	if err != nil {
		return store.TradeStats{}, fmt.Errorf("trade stats: %w", err)
	}

	err = s.db.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT trade_id FROM trades GROUP BY trade_id HAVING count(*) > 1
		) d
	`).Scan(&st.DuplicateTradeIDs)
	if err != nil {
		return store.TradeStats{}, fmt.Errorf("trade duplicates: %w", err)
	}
	return st, nil
}

// AggregateProductsMissingTrades lists aggregate product ids absent from trades.
func (s *Store) AggregateProductsMissingTrades(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT a.product_id
		FROM (
			SELECT product_id FROM candles_1m
			UNION SELECT product_id FROM candles_1h
			UNION SELECT product_id FROM daily_kpis
			UNION SELECT product_id FROM top_movers
		) a
		WHERE NOT EXISTS (SELECT 1 FROM trades t WHERE t.product_id = a.product_id)
		ORDER BY a.product_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query orphan products: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan orphan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

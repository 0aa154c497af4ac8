package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/tradeflow/internal/model"
)

const tradeColumns = `trade_id, product_id, price, size, side, trade_time, maker_ref, taker_ref, ingest_time, source_raw_id`

// InsertTrades inserts trades with ON CONFLICT (trade_id) DO NOTHING.
func (s *Store) InsertTrades(ctx context.Context, trades []model.Trade) (int, error) {
	if len(trades) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(`
			INSERT INTO trades (`+tradeColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (trade_id) DO NOTHING
		`, t.TradeID, t.ProductID, t.Price, t.Size, string(t.Side), t.TradeTime,
			t.MakerRef, t.TakerRef, t.IngestTime, t.SourceRawID)
	}

	n, err := execBatch(ctx, s.db, batch)
	if err != nil {
		return 0, wrapErr("insert trades", err)
	}
	return n, nil
}

// TradesIngestedSince returns trades with ingest_time >= since.
func (s *Store) TradesIngestedSince(ctx context.Context, since time.Time) ([]model.Trade, error) {
	return s.queryTrades(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE ingest_time >= $1
		ORDER BY trade_time, trade_id
	`, since)
}

// TradesBetween returns trades with from <= trade_time < to.
func (s *Store) TradesBetween(ctx context.Context, productID string, from, to time.Time) ([]model.Trade, error) {
	if productID == "" {
		return s.queryTrades(ctx, `
			SELECT `+tradeColumns+`
			FROM trades
			WHERE trade_time >= $1 AND trade_time < $2
			ORDER BY trade_time, trade_id
		`, from, to)
	}
	return s.queryTrades(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE product_id = $1 AND trade_time >= $2 AND trade_time < $3
		ORDER BY trade_time, trade_id
	`, productID, from, to)
}

func (s *Store) queryTrades(ctx context.Context, sql string, args ...any) ([]model.Trade, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		var side string
		if err := rows.Scan(&t.TradeID, &t.ProductID, &t.Price, &t.Size, &side, &t.TradeTime,
			&t.MakerRef, &t.TakerRef, &t.IngestTime, &t.SourceRawID); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Side = model.Side(side)
		t.TradeTime = t.TradeTime.UTC()
		t.IngestTime = t.IngestTime.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertQuarantine inserts records with ON CONFLICT (source_raw_id) DO NOTHING.
func (s *Store) InsertQuarantine(ctx context.Context, records []model.QuarantinedRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`
			INSERT INTO quarantined_records (source_raw_id, reason, payload, quarantine_time)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (source_raw_id) DO NOTHING
		`, r.SourceRawID, string(r.Reason), []byte(r.Payload), r.QuarantineTime)
	}

	n, err := execBatch(ctx, s.db, batch)
	if err != nil {
		return 0, wrapErr("insert quarantine", err)
	}
	return n, nil
}

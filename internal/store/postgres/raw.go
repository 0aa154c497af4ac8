package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/tradeflow/internal/model"
)

// AppendRaw inserts all events in one transaction.
func (s *Store) AppendRaw(ctx context.Context, events []model.RawEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(`
			INSERT INTO raw_events (arrival_time, source_channel, payload, payload_fingerprint, event_time)
			VALUES ($1, $2, $3, $4, $5)
		`, ev.ArrivalTime, ev.SourceChannel, []byte(ev.Payload), ev.PayloadFingerprint, ev.EventTime)
	}

	n, err := execBatch(ctx, tx, batch)
	if err != nil {
		return 0, wrapErr("insert raw events", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

// RawAfter returns up to limit events with id > afterID in id order.
func (s *Store) RawAfter(ctx context.Context, afterID int64, limit int) ([]model.RawEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, arrival_time, source_channel, payload, payload_fingerprint, event_time
		FROM raw_events
		WHERE id > $1
		ORDER BY id
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query raw events: %w", err)
	}
	defer rows.Close()

	var out []model.RawEvent
	for rows.Next() {
		var ev model.RawEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.ArrivalTime, &ev.SourceChannel, &payload, &ev.PayloadFingerprint, &ev.EventTime); err != nil {
			return nil, fmt.Errorf("scan raw event: %w", err)
		}
		ev.Payload = payload
		ev.ArrivalTime = ev.ArrivalTime.UTC()
		if ev.EventTime != nil {
			t := ev.EventTime.UTC()
			ev.EventTime = &t
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

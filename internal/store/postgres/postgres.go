// Package postgres implements store.Store on PostgreSQL via pgx.
//
// The schema lives in internal/database/migrations. Inserts into keyed tables use
// ON CONFLICT DO NOTHING so every writer is safe to replay; aggregate rows use
// ON CONFLICT DO UPDATE.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/tradeflow/internal/model"
	"github.com/rickgao/tradeflow/internal/store"
)

// Store implements store.Store on a pgx pool.
type Store struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// New wraps an open pool. Close closes the pool.
func New(db *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger.With("component", "postgres_store")}
}

// Ping verifies the pool is healthy.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the underlying pool.
func (s *Store) Close() {
	s.db.Close()
}

// execBatch sends one statement per row and returns how many rows were affected.
func execBatch(ctx context.Context, q interface {
	SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
}, batch *pgx.Batch) (int, error) {
	results := q.SendBatch(ctx, batch)
	defer results.Close()

	affected := 0
	for i := 0; i < batch.Len(); i++ {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		affected += int(ct.RowsAffected())
	}
	return affected, nil
}

// wrapErr adds op context and marks data exceptions (SQLSTATE class 22, e.g.
// numeric overflow or an untranslatable character) with store.ErrInvalidData.
func wrapErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "22") {
		return fmt.Errorf("%s: %w: %w", op, store.ErrInvalidData, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func candleTable(g model.Granularity) (string, error) {
	switch g {
	case model.Granularity1m:
		return "candles_1m", nil
	case model.Granularity1h:
		return "candles_1h", nil
	}
	return "", fmt.Errorf("no candle table for granularity %q", g)
}

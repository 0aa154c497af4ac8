package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/tradeflow/internal/model"
	"github.com/rickgao/tradeflow/internal/store"
)

// Watermark returns the named watermark, 0 if unset.
func (s *Store) Watermark(ctx context.Context, name string) (int64, error) {
	var v int64
	err := s.db.QueryRow(ctx, `SELECT value FROM watermarks WHERE name = $1`, name).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get watermark %s: %w", name, err)
	}
	return v, nil
}

// AdvanceWatermark sets the watermark to GREATEST(current, value).
func (s *Store) AdvanceWatermark(ctx context.Context, name string, value int64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO watermarks (name, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET
			value = GREATEST(watermarks.value, EXCLUDED.value),
			updated_at = now()
	`, name, value)
	if err != nil {
		return fmt.Errorf("advance watermark %s: %w", name, err)
	}
	return nil
}

// CreateRun inserts a new run row.
func (s *Store) CreateRun(ctx context.Context, run model.PipelineRun) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO pipeline_runs (run_id, pipeline_name, start_time, end_time, status, records_processed, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, run.RunID, run.PipelineName, run.StartTime, run.EndTime, string(run.Status), run.RecordsProcessed, run.ErrorMessage)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// FinishRun records the terminal state of a run.
func (s *Store) FinishRun(ctx context.Context, run model.PipelineRun) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE pipeline_runs
		SET end_time = $2, status = $3, records_processed = $4, error_message = $5
		WHERE run_id = $1
	`, run.RunID, run.EndTime, string(run.Status), run.RecordsProcessed, run.ErrorMessage)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetRun returns a run by id.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (model.PipelineRun, error) {
	var run model.PipelineRun
	var status string
	err := s.db.QueryRow(ctx, `
		SELECT run_id, pipeline_name, start_time, end_time, status, records_processed, error_message
		FROM pipeline_runs
		WHERE run_id = $1
	`, id).Scan(&run.RunID, &run.PipelineName, &run.StartTime, &run.EndTime, &status, &run.RecordsProcessed, &run.ErrorMessage)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PipelineRun{}, store.ErrNotFound
	}
	if err != nil {
		return model.PipelineRun{}, fmt.Errorf("get run: %w", err)
	}
	run.Status = model.RunStatus(status)
	return run, nil
}

// InsertCheckResults appends quality results in one batch.
func (s *Store) InsertCheckResults(ctx context.Context, results []model.DQCheckResult) error {
	if len(results) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range results {
		details := r.Details
		if details == nil {
			details = map[string]any{}
		}
		batch.Queue(`
			INSERT INTO dq_check_results (check_time, check_name, check_type, table_name, passed, details, run_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, r.CheckTime, r.CheckName, r.CheckType, r.TableName, r.Passed, details, r.RunID)
	}

	if _, err := execBatch(ctx, s.db, batch); err != nil {
		return fmt.Errorf("insert check results: %w", err)
	}
	return nil
}

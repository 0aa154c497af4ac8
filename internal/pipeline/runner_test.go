package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/rickgao/tradeflow/internal/model"
	"github.com/rickgao/tradeflow/internal/store/memstore"
)

func TestExecute_Success(t *testing.T) {
	s := memstore.New()
	r := NewRunner(s, nil)

	run, err := r.Execute(context.Background(), StageFunc{
		StageName: "dedup",
		Fn:        func(context.Context) (int64, error) { return 42, nil },
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if run.Status != model.RunSuccess || run.RecordsProcessed != 42 || run.EndTime == nil {
		t.Errorf("Execute() = %+v, want success with 42 records", run)
	}

	stored, err := s.GetRun(context.Background(), run.RunID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if stored.Status != model.RunSuccess || stored.PipelineName != "dedup" {
		t.Errorf("stored run = %+v", stored)
	}
	if stored.EndTime.Before(stored.StartTime) {
		t.Errorf("EndTime %v before StartTime %v", stored.EndTime, stored.StartTime)
	}
}

func TestExecute_Failure(t *testing.T) {
	s := memstore.New()
	r := NewRunner(s, nil)
	boom := errors.New("boom")

	run, err := r.Execute(context.Background(), StageFunc{
		StageName: "rollup",
		Fn:        func(context.Context) (int64, error) { return 3, boom },
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Execute() error = %v, want boom", err)
	}

	stored, _ := s.GetRun(context.Background(), run.RunID)
	if stored.Status != model.RunFailed || stored.ErrorMessage != "boom" || stored.RecordsProcessed != 3 {
		t.Errorf("stored run = %+v, want failed with message boom", stored)
	}
}

func TestExecute_CanceledStageStillRecorded(t *testing.T) {
	s := memstore.New()
	r := NewRunner(s, nil)
	ctx, cancel := context.WithCancel(context.Background())

	run, err := r.Execute(ctx, StageFunc{
		StageName: "dedup",
		Fn: func(ctx context.Context) (int64, error) {
			cancel()
			return 0, ctx.Err()
		},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() error = %v, want context.Canceled", err)
	}

	stored, _ := s.GetRun(context.Background(), run.RunID)
	if stored.Status != model.RunFailed {
		t.Errorf("stored status = %s, want failed", stored.Status)
	}
}

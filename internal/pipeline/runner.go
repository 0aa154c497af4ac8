package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/tradeflow/internal/metrics"
	"github.com/rickgao/tradeflow/internal/model"
	"github.com/rickgao/tradeflow/internal/store"
)

// finishTimeout bounds recording a run's outcome after its context ended.
const finishTimeout = 5 * time.Second

// Runner executes stages and records each execution in the run registry.
type Runner struct {
	runs   store.RunStore
	logger *slog.Logger
	now    func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(runs store.RunStore, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		runs:   runs,
		logger: logger.With("component", "pipeline"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Execute runs stage once and returns the finished PipelineRun. The returned
// error is the stage's error, or a failure to record the run.
func (r *Runner) Execute(ctx context.Context, stage Stage) (model.PipelineRun, error) {
	run := model.PipelineRun{
		RunID:        uuid.New(),
		PipelineName: stage.Name(),
		StartTime:    r.now().Truncate(time.Microsecond),
		Status:       model.RunRunning,
	}
	if err := r.runs.CreateRun(ctx, run); err != nil {
		return run, fmt.Errorf("create run: %w", err)
	}

	r.logger.Debug("stage started", "stage", run.PipelineName, "run_id", run.RunID)

	n, stageErr := stage.Run(ctx)

	end := r.now().Truncate(time.Microsecond)
	run.EndTime = &end
	run.RecordsProcessed = n
	run.Status = model.RunSuccess
	if stageErr != nil {
		run.Status = model.RunFailed
		run.ErrorMessage = stageErr.Error()
	}

	metrics.StageRuns.WithLabelValues(run.PipelineName, string(run.Status)).Inc()
	metrics.StageDuration.WithLabelValues(run.PipelineName).Observe(end.Sub(run.StartTime).Seconds())

	// The outcome is recorded even when ctx was canceled mid-stage
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	if err := r.runs.FinishRun(finishCtx, run); err != nil {
		if stageErr != nil {
			return run, fmt.Errorf("%w (finish run: %v)", stageErr, err)
		}
		return run, fmt.Errorf("finish run: %w", err)
	}

	if stageErr != nil {
		r.logger.Warn("stage failed",
			"stage", run.PipelineName,
			"run_id", run.RunID,
			"error", stageErr,
		)
		return run, stageErr
	}

	r.logger.Info("stage succeeded",
		"stage", run.PipelineName,
		"run_id", run.RunID,
		"records", n,
		"duration", end.Sub(run.StartTime),
	)
	return run, nil
}

package quality

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

// Store is what the Runner reads from and writes to.
type Store interface {
	store.QualitySource
	store.CheckStore
}

// Report summarises one evaluation of the battery.
type Report struct {
	RunID   string
	Total   int
	Passed  int
	Failed  int
	Results []model.DQCheckResult
}

// OK reports whether every check passed.
func (r Report) OK() bool { return r.Failed == 0 }

// FailedChecks returns the names of the failed checks.
func (r Report) FailedChecks() []string {
	var names []string
	for _, res := range r.Results {
		if !res.Passed {
			names = append(names, res.CheckName)
		}
	}
	return names
}

// Processed is the number of checks evaluated.
func (r Report) Processed() int64 { return int64(r.Total) }

// Runner evaluates the check battery.
type Runner struct {
	checks []Check
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewRunner creates a Runner with the standard battery.
func NewRunner(cfg Config, s Store, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		checks: Checks(cfg),
		store:  s,
		logger: logger.With("component", "quality"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run evaluates every check and appends one result per check. The returned
// error only reports a failure to persist the results; the Report is complete
// either way.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	now := r.now()
	report := Report{
		RunID:   uuid.NewString()[:8],
		Results: make([]model.DQCheckResult, 0, len(r.checks)),
	}

	ev := &evaluation{src: r.store, now: now}
	for _, c := range r.checks {
		passed, details, err := c.eval(ctx, ev)
		if err != nil {
			passed = false
			details = map[string]any{"error": err.Error()}
			r.logger.Warn("quality check errored", "check", c.Name, "error", err)
		}

		report.Results = append(report.Results, model.DQCheckResult{
			CheckTime: now,
			CheckName: c.Name,
			CheckType: c.Type,
			TableName: c.Table,
			Passed:    passed,
			Details:   details,
			RunID:     report.RunID,
		})
		report.Total++
		if passed {
			report.Passed++
		} else {
			report.Failed++
		}
		metrics.QualityCheckPassed.WithLabelValues(c.Name).Set(metrics.Bool(passed))
	}

	if err := r.store.InsertCheckResults(ctx, report.Results); err != nil {
		return report, fmt.Errorf("record check results: %w", err)
	}

	r.logger.Info("quality run complete",
		"run_id", report.RunID,
		"passed", report.Passed,
		"total", report.Total,
		"failed_checks", report.FailedChecks(),
	)
	return report, nil
}

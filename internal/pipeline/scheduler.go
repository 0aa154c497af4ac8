package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/tradeflow/internal/dedup"
	"github.com/rickgao/tradeflow/internal/model"
	"github.com/rickgao/tradeflow/internal/quality"
	"github.com/rickgao/tradeflow/internal/rollup"
)

// Deduplicator promotes raw events to trades.
type Deduplicator interface {
	Run(ctx context.Context) (dedup.Result, error)
}

// Rollup rebuilds aggregates.
type Rollup interface {
	Run(ctx context.Context) (rollup.Result, error)
}

// QualityRunner evaluates the check battery.
type QualityRunner interface {
	Run(ctx context.Context) (quality.Report, error)
}

// Config holds scheduler configuration.
type Config struct {
	Interval   time.Duration // Time between passes (default: 5m)
	Retries    int           // Extra attempts per failed stage (default: 2)
	RetryDelay time.Duration // Wait between attempts (default: 30s)
	RunQuality bool          // Evaluate checks after each pass
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:   5 * time.Minute,
		Retries:    2,
		RetryDelay: 30 * time.Second,
		RunQuality: true,
	}
}

// Pass is the outcome of one dedup → rollup → quality pass.
type Pass struct {
	Dedup   dedup.Result
	Rollup  rollup.Result
	Quality *quality.Report // Nil when quality is disabled or not reached
	Runs    []model.PipelineRun
}

// Stats holds scheduler statistics.
type Stats struct {
	Passes   int64
	Failures int64
}

// Scheduler runs passes on an interval.
type Scheduler struct {
	cfg     Config
	runner  *Runner
	dedup   Deduplicator
	rollup  Rollup
	quality QualityRunner
	logger  *slog.Logger

	group singleflight.Group

	passes   atomic.Int64
	failures atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler. quality may be nil.
func NewScheduler(cfg Config, runner *Runner, d Deduplicator, r Rollup, q QualityRunner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Scheduler{
		cfg:     cfg,
		runner:  runner,
		dedup:   d,
		rollup:  r,
		quality: q,
		logger:  logger.With("component", "scheduler"),
	}
}

// Start begins the pass loop. The first pass runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cancel != nil {
		return errors.New("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.logger.Info("scheduler started",
		"interval", s.cfg.Interval,
		"retries", s.cfg.Retries,
		"retry_delay", s.cfg.RetryDelay,
		"run_quality", s.cfg.RunQuality,
	)
	return nil
}

// Stop cancels the loop and waits for the current pass to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped",
			"passes", s.passes.Load(),
			"failures", s.failures.Load(),
		)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current statistics.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Passes:   s.passes.Load(),
		Failures: s.failures.Load(),
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(s.ctx); err != nil && s.ctx.Err() == nil {
			s.logger.Error("pipeline pass failed", "error", err)
		}

		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce executes dedup, then rollup, then (if enabled) quality. A stage that
// still fails after its retries ends the pass.
func (s *Scheduler) RunOnce(ctx context.Context) (Pass, error) {
	var pass Pass
	start := time.Now()

	dres, run, err := runStage(ctx, s, StageDedup, s.dedup.Run)
	pass.Dedup = dres
	pass.Runs = append(pass.Runs, run)
	if err != nil {
		s.failures.Add(1)
		return pass, fmt.Errorf("dedup: %w", err)
	}

	rres, run, err := runStage(ctx, s, StageRollup, s.rollup.Run)
	pass.Rollup = rres
	pass.Runs = append(pass.Runs, run)
	if err != nil {
		s.failures.Add(1)
		return pass, fmt.Errorf("rollup: %w", err)
	}

	if s.cfg.RunQuality && s.quality != nil {
		rep, run, err := s.RunQuality(ctx)
		pass.Runs = append(pass.Runs, run)
		if err != nil {
			s.failures.Add(1)
			return pass, fmt.Errorf("quality: %w", err)
		}
		pass.Quality = &rep
	}

	s.passes.Add(1)
	s.logPass(pass, time.Since(start))
	return pass, nil
}

// RunQuality executes only the quality stage.
func (s *Scheduler) RunQuality(ctx context.Context) (quality.Report, model.PipelineRun, error) {
	if s.quality == nil {
		return quality.Report{}, model.PipelineRun{}, errors.New("quality runner not configured")
	}
	return runStage(ctx, s, StageQuality, s.quality.Run)
}

func (s *Scheduler) logPass(p Pass, took time.Duration) {
	attrs := []any{
		"raw_read", p.Dedup.RawRead,
		"new_trades", p.Dedup.TradesInserted,
		"quarantined", p.Dedup.Quarantined,
		"candles_1m", p.Rollup.Minute.Upserted,
		"candles_1h", p.Rollup.Hour.Upserted,
		"daily_kpis", p.Rollup.Daily.Upserted,
		"movers", p.Rollup.MoversInserted,
		"duration", took,
	}
	if p.Quality != nil {
		attrs = append(attrs,
			"dq_passed", p.Quality.Passed,
			"dq_total", p.Quality.Total,
		)
	}
	s.logger.Info("pipeline pass complete", attrs...)
}

// result is what a stage returns besides its error.
type result interface {
	Processed() int64
}

type stageOutcome[T result] struct {
	value T
	run   model.PipelineRun
}

// runStage executes fn as the named stage with retries. Concurrent calls for
// the same stage share one execution.
func runStage[T result](ctx context.Context, s *Scheduler, name string, fn func(context.Context) (T, error)) (T, model.PipelineRun, error) {
	v, err, shared := s.group.Do(name, func() (any, error) {
		var out stageOutcome[T]
		stage := StageFunc{
			StageName: name,
			Fn: func(ctx context.Context) (int64, error) {
				val, err := fn(ctx)
				out.value = val
				return val.Processed(), err
			},
		}
		run, err := s.executeWithRetry(ctx, stage)
		out.run = run
		return out, err
	})
	if shared {
		s.logger.Debug("stage invocation shared", "stage", name)
	}

	out, _ := v.(stageOutcome[T])
	return out.value, out.run, err
}

// executeWithRetry runs stage up to Retries+1 times, waiting RetryDelay between
// attempts.
func (s *Scheduler) executeWithRetry(ctx context.Context, stage Stage) (model.PipelineRun, error) {
	var (
		run model.PipelineRun
		err error
	)
	for attempt := 0; attempt <= s.cfg.Retries; attempt++ {
		if attempt > 0 {
			s.logger.Warn("retrying stage",
				"stage", stage.Name(),
				"attempt", attempt+1,
				"delay", s.cfg.RetryDelay,
			)
			select {
			case <-ctx.Done():
				return run, err
			case <-time.After(s.cfg.RetryDelay):
			}
		}

		run, err = s.runner.Execute(ctx, stage)
		if err == nil || ctx.Err() != nil {
			return run, err
		}
	}
	return run, err
}

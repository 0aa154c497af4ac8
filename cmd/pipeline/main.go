package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/tradeflow/internal/config"
	"github.com/rickgao/tradeflow/internal/database"
	"github.com/rickgao/tradeflow/internal/dedup"
	"github.com/rickgao/tradeflow/internal/metrics"
	"github.com/rickgao/tradeflow/internal/pipeline"
	"github.com/rickgao/tradeflow/internal/quality"
	"github.com/rickgao/tradeflow/internal/rollup"
	"github.com/rickgao/tradeflow/internal/store/postgres"
	"github.com/rickgao/tradeflow/internal/version"
)

// errChecksFailed makes -quality-only exit non-zero.
var errChecksFailed = errors.New("quality checks failed")

func main() {
	configPath := flag.String("config", "configs/tradeflow.yaml", "path to config file")
	envPath := flag.String("env", ".env", "optional env file loaded before the config")
	once := flag.Bool("once", false, "run a single dedup → rollup → quality pass and exit")
	qualityOnly := flag.Bool("quality-only", false, "run the quality checks once and exit non-zero on any failure")
	flag.Parse()

	if err := run(*configPath, *envPath, *once, *qualityOnly); err != nil {
		slog.Error("pipeline failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, envPath string, once, qualityOnly bool) error {
	if err := config.LoadDotEnv(envPath); err != nil {
		return err
	}

	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLogger(cfg.Log, os.Stdout)
	if err != nil {
		return err
	}
	logger = logger.With("instance_id", cfg.Instance.ID)
	slog.SetDefault(logger)

	logger.Info("starting pipeline", append(version.LogAttrs(),
		"config", configPath,
		"once", once,
		"quality_only", qualityOnly,
	)...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	st := postgres.New(pool, logger)
	defer st.Close()
	logger.Info("database connected", "host", cfg.Database.Host, "database", cfg.Database.Name)

	deduper := dedup.New(dedup.Config{
		BatchSize:  cfg.Dedup.BatchSize,
		MaxBatches: cfg.Dedup.MaxBatches,
	}, st, logger)

	engine := rollup.NewEngine(rollup.Config{
		Lookback:       cfg.Rollup.Lookback,
		MoverRetention: cfg.Rollup.MoverRetention,
	}, st, logger)

	checks := quality.NewRunner(quality.Config{
		BronzeFreshness:    cfg.Quality.BronzeFreshness,
		SilverFreshness:    cfg.Quality.SilverFreshness,
		BronzeVolumeWindow: cfg.Quality.BronzeVolumeWindow,
		SilverVolumeWindow: cfg.Quality.SilverVolumeWindow,
		MaxQuarantineRate:  cfg.Quality.MaxQuarantineRate,
	}, st, logger)

	sched := pipeline.NewScheduler(pipeline.Config{
		Interval:   cfg.Schedule.Interval,
		Retries:    cfg.Schedule.Retries,
		RetryDelay: cfg.Schedule.RetryDelay,
		RunQuality: cfg.Schedule.QualityEnabled(),
	}, pipeline.NewRunner(st, logger), deduper, engine, checks, logger)

	switch {
	case qualityOnly:
		rep, _, err := sched.RunQuality(ctx)
		if err != nil {
			return err
		}
		printReport(rep)
		if !rep.OK() {
			return fmt.Errorf("%w: %v", errChecksFailed, rep.FailedChecks())
		}
		return nil

	case once:
		_, err := sched.RunOnce(ctx)
		return err
	}

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           createHealthHandler(cfg.Metrics.Path, st, sched),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Metrics.Port)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	if err := sched.Start(gctx); err != nil {
		return err
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := sched.Stop(shutdownCtx); err != nil {
			logger.Warn("scheduler stop timed out", "error", err)
		}
		return healthServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("pipeline stopped")
	return err
}

// printReport writes the check results as a table.
func printReport(rep quality.Report) {
	fmt.Printf("Data quality run %s: %d/%d passed\n", rep.RunID, rep.Passed, rep.Total)
	for _, res := range rep.Results {
		status := "PASS"
		if !res.Passed {
			status = "FAIL"
		}
		details, _ := json.Marshal(res.Details)
		fmt.Printf("  [%s] %-28s %-16s %s\n", status, res.CheckName, res.CheckType, details)
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// createHealthHandler serves /health and the Prometheus registry.
func createHealthHandler(metricsPath string, db pinger, sched *pipeline.Scheduler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, metrics.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		if err := db.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["database"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["database"] = "connected"
		}

		stats := sched.Stats()
		health.Components["scheduler"] = map[string]any{
			"passes":   stats.Passes,
			"failures": stats.Failures,
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}

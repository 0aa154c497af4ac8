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
	"github.com/rickgao/tradeflow/internal/connection"
	"github.com/rickgao/tradeflow/internal/database"
	"github.com/rickgao/tradeflow/internal/ingest"
	"github.com/rickgao/tradeflow/internal/metrics"
	"github.com/rickgao/tradeflow/internal/store/postgres"
	"github.com/rickgao/tradeflow/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/tradeflow.yaml", "path to config file")
	envPath := flag.String("env", ".env", "optional env file loaded before the config")
	flag.Parse()

	if err := run(*configPath, *envPath); err != nil {
		slog.Error("ingestor failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, envPath string) error {
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

	logger.Info("starting ingestor", append(version.LogAttrs(), "config", configPath)...)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	st := postgres.New(pool, logger)
	defer st.Close()
	logger.Info("database connected")

	feed := connection.NewFeed(connection.FeedConfig{
		WSURL:             cfg.Feed.WSURL,
		Products:          cfg.Feed.Products,
		Channel:           cfg.Feed.Channel,
		PingInterval:      cfg.Feed.PingInterval,
		PingTimeout:       cfg.Feed.PingTimeout,
		WriteTimeout:      cfg.Feed.WriteTimeout,
		ReconnectBaseWait: cfg.Feed.ReconnectBaseDelay,
		ReconnectMaxWait:  cfg.Feed.ReconnectMaxDelay,
		MessageBufferSize: cfg.Feed.MessageBuffer,
	}, nil, logger)

	batcher := ingest.NewBatcher(ingest.Config{
		BatchSize:     cfg.Ingest.BatchSize,
		FlushInterval: cfg.Ingest.FlushInterval,
		BufferSize:    cfg.Ingest.BufferSize,
	}, feed.Messages(), st, logger)

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           createHealthHandler(cfg.Metrics.Path, st, feed, batcher),
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

	if err := batcher.Start(gctx); err != nil {
		return fmt.Errorf("start batcher: %w", err)
	}
	if err := feed.Start(gctx); err != nil {
		return fmt.Errorf("start feed: %w", err)
	}

	logger.Info("ingestor running",
		"products", cfg.Feed.Products,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	g.Go(func() error {
		// Wait for shutdown
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		// Feed first so no frame arrives after the final flush
		if err := feed.Stop(shutdownCtx); err != nil {
			logger.Warn("feed stop failed", "error", err)
		}
		flushErr := batcher.Stop(shutdownCtx)
		if flushErr != nil {
			logger.Error("final flush failed", "error", flushErr)
		}

		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("health server shutdown failed", "error", err)
		}

		fs := feed.Stats()
		bs := batcher.Stats()
		logger.Info("ingestor stopped",
			"frames_received", fs.Received,
			"reconnects", fs.Reconnects,
			"events_inserted", bs.Inserted,
			"events_dropped", bs.Dropped+fs.Dropped,
			"events_lost", bs.Pending,
		)
		return flushErr
	})

	return g.Wait()
}

// pinger reports database reachability.
type pinger interface {
	Ping(ctx context.Context) error
}

// createHealthHandler serves /health and the Prometheus registry.
func createHealthHandler(metricsPath string, db pinger, feed connection.Feed, batcher *ingest.Batcher) http.Handler {
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

		// Check database
		if err := db.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["database"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["database"] = "connected"
		}

		// Check feed
		fs := feed.Stats()
		health.Components["feed"] = map[string]any{
			"connected":  fs.Connected,
			"received":   fs.Received,
			"reconnects": fs.Reconnects,
		}
		if !fs.Connected && health.Status == "healthy" {
			health.Status = "degraded"
		}

		bs := batcher.Stats()
		health.Components["batcher"] = map[string]any{
			"inserted": bs.Inserted,
			"pending":  bs.Pending,
			"dropped":  bs.Dropped,
			"errors":   bs.Errors,
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}

// streamtest connects to the market-data feed and prints each frame with the
// outcome the validator would assign it. Nothing is written to the database.
// Usage: go run ./cmd/streamtest --config configs/tradeflow.example.yaml --products BTC-USD
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/tradeflow/internal/config"
	"github.com/rickgao/tradeflow/internal/connection"
	"github.com/rickgao/tradeflow/internal/dedup"
	"github.com/rickgao/tradeflow/internal/ingest"
)

func main() {
	configPath := flag.String("config", "configs/tradeflow.example.yaml", "path to config file")
	products := flag.String("products", "", "comma-separated product ids (overrides feed.products)")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Only the feed section is needed, so defaults are applied without validation
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *products != "" {
		cfg.Feed.Products = strings.Split(*products, ",")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

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

	logger.Info("starting feed", "url", cfg.Feed.WSURL, "products", cfg.Feed.Products)
	if err := feed.Start(ctx); err != nil {
		logger.Error("failed to start feed", "error", err)
		os.Exit(1)
	}

	var valid, rejected, control int64
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for msg := range feed.Messages() {
			switch printFrame(msg, *verbose) {
			case frameValid:
				valid++
			case frameRejected:
				rejected++
			default:
				control++
			}
		}
	}()

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := feed.Stats()
				logger.Info("stats",
					"connected", st.Connected,
					"received", st.Received,
					"dropped", st.Dropped,
					"reconnects", st.Reconnects,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	if err := feed.Stop(shutdownCtx); err == nil {
		<-printed
	}

	logger.Info("shutdown complete", "valid", valid, "rejected", rejected, "control", control)
}

type frameKind int

const (
	frameControl frameKind = iota
	frameValid
	frameRejected
)

func printFrame(msg connection.RawMessage, verbose bool) frameKind {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg.Data, &envelope); err != nil || envelope.Type != ingest.MatchType {
		fmt.Printf("[%s] %s\n", strings.ToUpper(envelope.Type), msg.Data)
		return frameControl
	}

	if verbose {
		fmt.Printf("[RAW] %s\n", msg.Data)
	}

	out := dedup.Evaluate(msg.Data)
	if !out.Valid() {
		fmt.Printf("[REJECT] reason=%s payload=%s\n", out.Reason, msg.Data)
		return frameRejected
	}

	t := out.Trade
	fmt.Printf("[TRADE] product=%s id=%d side=%s price=%s size=%s time=%s lag=%s\n",
		t.ProductID, t.TradeID, t.Side, t.Price, t.Size,
		t.TradeTime.Format(time.RFC3339Nano), msg.ReceivedAt.Sub(t.TradeTime).Round(time.Millisecond))
	return frameValid
}

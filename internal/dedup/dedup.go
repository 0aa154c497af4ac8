package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rickgao/tradeflow/internal/metrics"
	"github.com/rickgao/tradeflow/internal/model"
	"github.com/rickgao/tradeflow/internal/store"
)

// Store is the storage the Deduplicator reads and owns.
type Store interface {
	store.RawStore
	store.TradeStore
	store.QuarantineStore
	store.WatermarkStore
}

// Config controls paging.
type Config struct {
	BatchSize  int // Raw events per page
	MaxBatches int // Pages per Run
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:  1000,
		MaxBatches: 100,
	}
}

// Result summarises one Run.
type Result struct {
	RawRead              int
	TradesInserted       int
	Duplicates           int // Valid events whose trade_id already existed
	Quarantined          int
	QuarantineDuplicates int // Quarantine rows already present for the raw id
	FingerprintHits      int // Events evaluated from the page memo
	Pages                int
	Watermark            int64
}

// Processed is the number of raw events consumed.
func (r Result) Processed() int64 { return int64(r.RawRead) }

// Deduplicator promotes raw events to trades or quarantine.
type Deduplicator struct {
	cfg    Config
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Deduplicator.
func New(cfg Config, s Store, logger *slog.Logger) *Deduplicator {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxBatches <= 0 {
		cfg.MaxBatches = def.MaxBatches
	}
	return &Deduplicator{
		cfg:    cfg,
		store:  s,
		logger: logger.With("component", "dedup"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run processes up to MaxBatches pages of raw events after the watermark.
// Re-running over already processed input writes nothing new and never fails
// on duplicates.
func (d *Deduplicator) Run(ctx context.Context) (Result, error) {
	var res Result

	wm, err := d.store.Watermark(ctx, store.WatermarkDedup)
	if err != nil {
		return res, fmt.Errorf("read watermark: %w", err)
	}
	res.Watermark = wm

	for page := 0; page < d.cfg.MaxBatches; page++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		events, err := d.store.RawAfter(ctx, wm, d.cfg.BatchSize)
		if err != nil {
			return res, fmt.Errorf("read raw events: %w", err)
		}
		if len(events) == 0 {
			break
		}

		pr, err := d.processPage(ctx, events)
		if err != nil {
			return res, err
		}

		wm = events[len(events)-1].ID
		if err := d.store.AdvanceWatermark(ctx, store.WatermarkDedup, wm); err != nil {
			return res, fmt.Errorf("advance watermark: %w", err)
		}

		res.RawRead += len(events)
		res.TradesInserted += pr.TradesInserted
		res.Duplicates += pr.Duplicates
		res.Quarantined += pr.Quarantined
		res.QuarantineDuplicates += pr.QuarantineDuplicates
		res.FingerprintHits += pr.FingerprintHits
		res.Pages++
		res.Watermark = wm

		if len(events) < d.cfg.BatchSize {
			break
		}
	}

	d.logger.Info("dedup run complete",
		"raw_read", res.RawRead,
		"trades_inserted", res.TradesInserted,
		"duplicates", res.Duplicates,
		"quarantined", res.Quarantined,
		"fingerprint_hits", res.FingerprintHits,
		"watermark", res.Watermark,
	)
	return res, nil
}

// processPage evaluates one page and writes its trades and quarantine rows.
func (d *Deduplicator) processPage(ctx context.Context, events []model.RawEvent) (Result, error) {
	var res Result
	now := d.now()

	// Identical payloads within a page share one evaluation
	memo := make(map[string]Outcome)

	trades := make([]model.Trade, 0, len(events))
	var rejects []model.QuarantinedRecord

	for _, ev := range events {
		out, hit := memo[ev.PayloadFingerprint]
		if hit && ev.PayloadFingerprint != "" {
			res.FingerprintHits++
		} else {
			out = Evaluate(ev.Payload)
			if ev.PayloadFingerprint != "" {
				memo[ev.PayloadFingerprint] = out
			}
		}

		if out.Valid() {
			t := out.Trade
			t.IngestTime = now
			t.SourceRawID = ev.ID
			trades = append(trades, t)
			continue
		}

		rejects = append(rejects, model.QuarantinedRecord{
			SourceRawID:    ev.ID,
			Reason:         out.Reason,
			Payload:        ev.Payload,
			QuarantineTime: now,
		})
		metrics.DedupQuarantined.WithLabelValues(string(out.Reason)).Inc()
	}

	valid := len(trades)
	inserted, err := d.store.InsertTrades(ctx, trades)
	if errors.Is(err, store.ErrInvalidData) {
		var refused []model.QuarantinedRecord
		inserted, refused, err = d.insertEach(ctx, trades, events, now)
		rejects = append(rejects, refused...)
		valid -= len(refused)
	}
	if err != nil {
		return res, fmt.Errorf("insert trades: %w", err)
	}
	quarantined, err := d.store.InsertQuarantine(ctx, rejects)
	if err != nil {
		return res, fmt.Errorf("insert quarantine: %w", err)
	}

	res.TradesInserted = inserted
	res.Duplicates = valid - inserted
	res.Quarantined = quarantined
	res.QuarantineDuplicates = len(rejects) - quarantined

	metrics.DedupTrades.WithLabelValues("inserted").Add(float64(inserted))
	metrics.DedupTrades.WithLabelValues("duplicate").Add(float64(res.Duplicates))

	d.logger.Debug("dedup page processed",
		"first_id", events[0].ID,
		"last_id", events[len(events)-1].ID,
		"trades", len(trades),
		"inserted", inserted,
		"quarantined", quarantined,
	)
	return res, nil
}

// insertEach inserts trades one at a time after the store refused the page.
// Trades the store cannot hold are returned as unknown quarantine records.
func (d *Deduplicator) insertEach(ctx context.Context, trades []model.Trade, events []model.RawEvent, now time.Time) (int, []model.QuarantinedRecord, error) {
	payloads := make(map[int64]json.RawMessage, len(events))
	for _, ev := range events {
		payloads[ev.ID] = ev.Payload
	}

	inserted := 0
	var refused []model.QuarantinedRecord
	for _, t := range trades {
		n, err := d.store.InsertTrades(ctx, []model.Trade{t})
		switch {
		case errors.Is(err, store.ErrInvalidData):
			d.logger.Warn("store refused trade, quarantining",
				"trade_id", t.TradeID,
				"source_raw_id", t.SourceRawID,
				"error", err,
			)
			refused = append(refused, model.QuarantinedRecord{
				SourceRawID:    t.SourceRawID,
				Reason:         model.ReasonUnknown,
				Payload:        payloads[t.SourceRawID],
				QuarantineTime: now,
			})
			metrics.DedupQuarantined.WithLabelValues(string(model.ReasonUnknown)).Inc()
		case err != nil:
			return inserted, refused, err
		}
		inserted += n
	}
	return inserted, refused, nil
}

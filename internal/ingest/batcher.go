package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/tradeflow/internal/connection"
	"github.com/rickgao/tradeflow/internal/metrics"
	"github.com/rickgao/tradeflow/internal/model"
	"github.com/rickgao/tradeflow/internal/store"
)

// Batcher consumes feed frames and appends trade payloads to the raw event store.
type Batcher struct {
	cfg    Config
	logger *slog.Logger

	// Input from the Feed
	input <-chan connection.RawMessage

	// Output
	store store.RawStore

	// Batching
	batch       []model.RawEvent
	inflight    int // Events taken by a flush that has not finished
	batchMu     sync.Mutex
	flushMu     sync.Mutex // Serializes appends
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats Stats
}

// NewBatcher creates a new Batcher.
func NewBatcher(cfg Config, input <-chan connection.RawMessage, raw store.RawStore, logger *slog.Logger) *Batcher {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize < cfg.BatchSize {
		cfg.BufferSize = cfg.BatchSize
	}

	return &Batcher{
		cfg:    cfg,
		logger: logger.With("component", "batcher"),
		input:  input,
		store:  raw,
		batch:  make([]model.RawEvent, 0, cfg.BatchSize),
	}
}

// Start begins consuming frames and flushing batches.
func (b *Batcher) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.flushTicker = time.NewTicker(b.cfg.FlushInterval)

	// Consumer goroutine
	b.wg.Add(1)
	go b.consumeLoop()

	// Flush ticker goroutine
	b.wg.Add(1)
	go b.flushLoop()

	b.logger.Info("batcher started",
		"batch_size", b.cfg.BatchSize,
		"flush_interval", b.cfg.FlushInterval,
		"buffer_size", b.cfg.BufferSize,
	)
	return nil
}

// Stop drains frames already delivered, performs a final flush with ctx, and
// returns the flush error if events remain unwritten.
func (b *Batcher) Stop(ctx context.Context) error {
	b.logger.Info("stopping batcher")

	if b.cancel != nil {
		b.cancel()
	}
	if b.flushTicker != nil {
		b.flushTicker.Stop()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("batcher stop timed out")
	}

	b.drain(ctx)

	// Final flush
	err := b.flush(ctx)

	st := b.Stats()
	b.logger.Info("batcher stopped",
		"received", st.Received,
		"inserted", st.Inserted,
		"skipped", st.Skipped,
		"dropped", st.Dropped,
		"rejected", st.Rejected,
		"pending", st.Pending,
	)
	return err
}

// Stats returns current counters.
func (b *Batcher) Stats() Stats {
	b.batchMu.Lock()
	defer b.batchMu.Unlock()
	st := b.stats
	st.Pending = len(b.batch) + b.inflight
	return st
}

// consumeLoop reads frames until the input closes or the batcher stops.
func (b *Batcher) consumeLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-b.input:
			if !ok {
				b.logger.Info("input channel closed")
				return
			}
			b.handleMessage(b.ctx, msg)
		}
	}
}

// drain consumes frames that are already buffered on the input channel.
func (b *Batcher) drain(ctx context.Context) {
	for {
		select {
		case msg, ok := <-b.input:
			if !ok {
				return
			}
			b.handleMessage(ctx, msg)
		default:
			return
		}
	}
}

// flushLoop periodically flushes the batch.
func (b *Batcher) flushLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-b.flushTicker.C:
			b.flush(b.ctx)
		}
	}
}

// handleMessage filters a frame and adds trade payloads to the batch.
func (b *Batcher) handleMessage(ctx context.Context, msg connection.RawMessage) {
	ev, ok := b.transform(msg)
	if !ok {
		return
	}

	b.batchMu.Lock()
	if len(b.batch)+b.inflight >= b.cfg.BufferSize {
		b.stats.Dropped++
		b.batchMu.Unlock()
		metrics.IngestDropped.Inc()
		b.logger.Warn("ingest buffer full, dropping event", "buffer_size", b.cfg.BufferSize)
		return
	}
	b.batch = append(b.batch, ev)
	shouldFlush := len(b.batch) >= b.cfg.BatchSize
	b.batchMu.Unlock()

	if shouldFlush {
		b.flush(ctx)
	}
}

// transform converts a match frame into a RawEvent. Other frames are counted and skipped.
func (b *Batcher) transform(msg connection.RawMessage) (model.RawEvent, bool) {
	b.batchMu.Lock()
	b.stats.Received++
	b.batchMu.Unlock()

	var env messageEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		b.logger.Warn("failed to parse feed message", "error", err)
		b.count(func(s *Stats) { s.Invalid++ })
		metrics.IngestSkipped.WithLabelValues("invalid").Inc()
		return model.RawEvent{}, false
	}

	if env.Type != MatchType {
		switch {
		case env.Type == "error":
			b.logger.Warn("feed error message", "message", env.Message, "reason", env.Reason)
		case !controlTypes[env.Type]:
			b.logger.Debug("skipping message type", "type", env.Type)
		}
		b.count(func(s *Stats) { s.Skipped++ })
		metrics.IngestSkipped.WithLabelValues(env.Type).Inc()
		return model.RawEvent{}, false
	}

	if err := model.CheckPayload(msg.Data); err != nil {
		b.logger.Warn("dropping unstorable payload", "error", err)
		b.count(func(s *Stats) { s.Invalid++ })
		metrics.IngestSkipped.WithLabelValues("unstorable").Inc()
		return model.RawEvent{}, false
	}

	fp, err := Fingerprint(msg.Data)
	if err != nil {
		b.logger.Warn("failed to fingerprint payload", "error", err)
		b.count(func(s *Stats) { s.Invalid++ })
		metrics.IngestSkipped.WithLabelValues("invalid").Inc()
		return model.RawEvent{}, false
	}

	return model.RawEvent{
		ArrivalTime:        msg.ReceivedAt.UTC(),
		SourceChannel:      msg.Channel,
		Payload:            json.RawMessage(msg.Data),
		PayloadFingerprint: fp,
		EventTime:          parseEventTime(env.Time),
	}, true
}

func (b *Batcher) count(fn func(*Stats)) {
	b.batchMu.Lock()
	fn(&b.stats)
	b.batchMu.Unlock()
}

// flush appends the pending batch. If the store refuses the batch as invalid
// data, events are appended one by one and the refused ones are discarded. On
// any other failure the unwritten events are put back in front of newer events
// and retried by the next trigger.
func (b *Batcher) flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.batchMu.Lock()
	if len(b.batch) == 0 {
		b.batchMu.Unlock()
		return nil
	}

	// Take ownership of current batch
	batch := b.batch
	b.batch = make([]model.RawEvent, 0, b.cfg.BatchSize)
	b.inflight = len(batch)
	b.batchMu.Unlock()

	start := time.Now()

	n, err := b.store.AppendRaw(ctx, batch)
	var remaining []model.RawEvent
	switch {
	case errors.Is(err, store.ErrInvalidData):
		n, remaining, err = b.appendEach(ctx, batch)
	case err != nil:
		remaining = batch
	}
	metrics.IngestFlushLatency.Observe(time.Since(start).Seconds())
	metrics.IngestInserted.Add(float64(n))

	if err != nil {
		b.logger.Error("raw event flush failed, retaining batch", "error", err, "count", len(remaining))
		b.batchMu.Lock()
		b.batch = append(remaining, b.batch...)
		b.inflight = 0
		b.stats.Inserted += int64(n)
		b.stats.Errors++
		b.batchMu.Unlock()
		metrics.IngestFlushErrors.Inc()
		return err
	}

	b.batchMu.Lock()
	b.inflight = 0
	b.stats.Inserted += int64(n)
	b.stats.Flushes++
	b.batchMu.Unlock()

	b.logger.Debug("flushed raw events",
		"count", n,
		"duration", time.Since(start),
	)
	return nil
}

// appendEach appends events one at a time. Events the store refuses as invalid
// data are discarded; on any other error the events not yet written are returned.
func (b *Batcher) appendEach(ctx context.Context, batch []model.RawEvent) (int, []model.RawEvent, error) {
	inserted := 0
	for i, ev := range batch {
		n, err := b.store.AppendRaw(ctx, []model.RawEvent{ev})
		switch {
		case errors.Is(err, store.ErrInvalidData):
			b.logger.Warn("store refused raw event, discarding",
				"fingerprint", ev.PayloadFingerprint,
				"error", err,
			)
			b.count(func(s *Stats) { s.Rejected++ })
			metrics.IngestSkipped.WithLabelValues("rejected").Inc()
		case err != nil:
			return inserted, batch[i:], err
		}
		inserted += n
	}
	return inserted, nil, nil
}

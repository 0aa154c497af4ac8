// Package memstore is an in-memory store.Store.
//
// It enforces the same keys, conflict rules and column limits as the Postgres
// schema and backs the package tests of every pipeline stage. Nothing is persisted.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/tradeflow/internal/model"
	"github.com/rickgao/tradeflow/internal/store"
)

type bucketKey struct {
	productID string
	start     int64 // µs since epoch
}

func keyOf(productID string, t time.Time) bucketKey {
	return bucketKey{productID: productID, start: t.UnixMicro()}
}

type moverKey struct {
	snapshot  int64
	productID string
	period    model.MoverPeriod
}

// Store implements store.Store in memory. Safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	nextRawID  int64
	raw        []model.RawEvent
	trades     map[int64]model.Trade
	quarantine map[int64]model.QuarantinedRecord
	candles    map[model.Granularity]map[bucketKey]model.Candle
	daily      map[bucketKey]model.DailyKPI
	movers     map[moverKey]model.TopMoverSnapshot
	watermarks map[string]int64
	runs       map[uuid.UUID]model.PipelineRun
	checks     []model.DQCheckResult
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		trades:     make(map[int64]model.Trade),
		quarantine: make(map[int64]model.QuarantinedRecord),
		candles: map[model.Granularity]map[bucketKey]model.Candle{
			model.Granularity1m: {},
			model.Granularity1h: {},
		},
		daily:      make(map[bucketKey]model.DailyKPI),
		movers:     make(map[moverKey]model.TopMoverSnapshot),
		watermarks: make(map[string]int64),
		runs:       make(map[uuid.UUID]model.PipelineRun),
	}
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// Close is a no-op.
func (s *Store) Close() {}

// -----------------------------------------------------------------------------
// Raw events
// -----------------------------------------------------------------------------

// AppendRaw appends events with monotonic ids. The whole batch is visible at once.
func (s *Store) AppendRaw(ctx context.Context, events []model.RawEvent) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	for _, ev := range events {
		if err := checkPayload(ev.Payload); err != nil {
			return 0, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range events {
		s.nextRawID++
		ev.ID = s.nextRawID
		ev.Payload = cloneBytes(ev.Payload)
		s.raw = append(s.raw, ev)
	}
	return len(events), nil
}

// RawAfter returns up to limit events with id > afterID.
func (s *Store) RawAfter(ctx context.Context, afterID int64, limit int) ([]model.RawEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// ids are dense and start at 1
	start := int(afterID)
	if start < 0 {
		start = 0
	}
	if start >= len(s.raw) {
		return nil, nil
	}
	end := len(s.raw)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	out := make([]model.RawEvent, 0, end-start)
	for _, ev := range s.raw[start:end] {
		ev.Payload = cloneBytes(ev.Payload)
		out = append(out, ev)
	}
	return out, nil
}

// RawEvents returns a copy of every raw event.
func (s *Store) RawEvents() []model.RawEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.RawEvent(nil), s.raw...)
}

// -----------------------------------------------------------------------------
// Trades and quarantine
// -----------------------------------------------------------------------------

// InsertTrades inserts trades whose trade_id is absent.
func (s *Store) InsertTrades(ctx context.Context, trades []model.Trade) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	for _, t := range trades {
		if err := checkTrade(t); err != nil {
			return 0, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, t := range trades {
		if _, exists := s.trades[t.TradeID]; exists {
			continue
		}
		s.trades[t.TradeID] = t
		inserted++
	}
	return inserted, nil
}

// TradesIngestedSince returns trades with ingest_time >= since.
func (s *Store) TradesIngestedSince(ctx context.Context, since time.Time) ([]model.Trade, error) {
	return s.selectTrades(ctx, func(t model.Trade) bool {
		return !t.IngestTime.Before(since)
	})
}

// TradesBetween returns trades with from <= trade_time < to.
func (s *Store) TradesBetween(ctx context.Context, productID string, from, to time.Time) ([]model.Trade, error) {
	return s.selectTrades(ctx, func(t model.Trade) bool {
		if productID != "" && t.ProductID != productID {
			return false
		}
		return !t.TradeTime.Before(from) && t.TradeTime.Before(to)
	})
}

func (s *Store) selectTrades(ctx context.Context, keep func(model.Trade) bool) ([]model.Trade, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Trade
	for _, t := range s.trades {
		if keep(t) {
			out = append(out, t)
		}
	}
	sortTrades(out)
	return out, nil
}

// Trades returns every trade ordered by (trade_time, trade_id).
func (s *Store) Trades() []model.Trade {
	out, _ := s.selectTrades(context.Background(), func(model.Trade) bool { return true })
	return out
}

// InsertQuarantine inserts records whose source_raw_id is absent.
func (s *Store) InsertQuarantine(ctx context.Context, records []model.QuarantinedRecord) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	for _, r := range records {
		if err := checkPayload(r.Payload); err != nil {
			return 0, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, r := range records {
		if _, exists := s.quarantine[r.SourceRawID]; exists {
			continue
		}
		r.Payload = cloneBytes(r.Payload)
		s.quarantine[r.SourceRawID] = r
		inserted++
	}
	return inserted, nil
}

// Quarantined returns every quarantined record ordered by source_raw_id.
func (s *Store) Quarantined() []model.QuarantinedRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.QuarantinedRecord, 0, len(s.quarantine))
	for _, r := range s.quarantine {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceRawID < out[j].SourceRawID })
	return out
}

// -----------------------------------------------------------------------------
// Aggregates
// -----------------------------------------------------------------------------

// GetCandle returns the candle for the key or store.ErrNotFound.
func (s *Store) GetCandle(ctx context.Context, g model.Granularity, productID string, bucketStart time.Time) (model.Candle, error) {
	if err := ctx.Err(); err != nil {
		return model.Candle{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.candles[g][keyOf(productID, bucketStart)]
	if !ok {
		return model.Candle{}, store.ErrNotFound
	}
	return c, nil
}

// UpsertCandle replaces the candle row for its key.
func (s *Store) UpsertCandle(ctx context.Context, c model.Candle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkCandle(c); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	table, ok := s.candles[c.Granularity]
	if !ok {
		table = make(map[bucketKey]model.Candle)
		s.candles[c.Granularity] = table
	}
	table[keyOf(c.ProductID, c.BucketStart)] = c
	return nil
}

// CandlesBetween returns candles in [from, to) ordered by bucket_start.
func (s *Store) CandlesBetween(ctx context.Context, g model.Granularity, productID string, from, to time.Time) ([]model.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Candle
	for _, c := range s.candles[g] {
		if c.ProductID != productID {
			continue
		}
		if c.BucketStart.Before(from) || !c.BucketStart.Before(to) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart.Before(out[j].BucketStart) })
	return out, nil
}

// Candles returns every candle of one granularity ordered by (product, bucket).
func (s *Store) Candles(g model.Granularity) []model.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Candle, 0, len(s.candles[g]))
	for _, c := range s.candles[g] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].BucketStart.Before(out[j].BucketStart)
	})
	return out
}

// GetDailyKPI returns the KPI row for the key or store.ErrNotFound.
func (s *Store) GetDailyKPI(ctx context.Context, productID string, day time.Time) (model.DailyKPI, error) {
	if err := ctx.Err(); err != nil {
		return model.DailyKPI{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.daily[keyOf(productID, day)]
	if !ok {
		return model.DailyKPI{}, store.ErrNotFound
	}
	return k, nil
}

// UpsertDailyKPI replaces the KPI row for its key.
func (s *Store) UpsertDailyKPI(ctx context.Context, k model.DailyKPI) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkDailyKPI(k); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.daily[keyOf(k.ProductID, k.Day)] = k
	return nil
}

// PurgeMoversBefore deletes snapshots with snapshot_time < cutoff.
func (s *Store) PurgeMoversBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for k, m := range s.movers {
		if m.SnapshotTime.Before(cutoff) {
			delete(s.movers, k)
			purged++
		}
	}
	return purged, nil
}

// InsertMovers inserts snapshots whose key is absent.
func (s *Store) InsertMovers(ctx context.Context, rows []model.TopMoverSnapshot) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	for _, m := range rows {
		if err := checkMover(m); err != nil {
			return 0, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, m := range rows {
		k := moverKey{snapshot: m.SnapshotTime.UnixMicro(), productID: m.ProductID, period: m.Period}
		if _, exists := s.movers[k]; exists {
			continue
		}
		s.movers[k] = m
		inserted++
	}
	return inserted, nil
}

// LatestMovers returns the newest snapshot of a period ordered by price change, largest first.
func (s *Store) LatestMovers(ctx context.Context, period model.MoverPeriod) ([]model.TopMoverSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest time.Time
	for _, m := range s.movers {
		if m.Period == period && m.SnapshotTime.After(latest) {
			latest = m.SnapshotTime
		}
	}

	var out []model.TopMoverSnapshot
	for _, m := range s.movers {
		if m.Period == period && m.SnapshotTime.Equal(latest) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].PriceChangePct.Cmp(out[j].PriceChangePct); c != 0 {
			return c > 0
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out, nil
}

// MoverCount returns the number of stored snapshot rows.
func (s *Store) MoverCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.movers)
}

// -----------------------------------------------------------------------------
// Watermarks, runs, checks
// -----------------------------------------------------------------------------

// Watermark returns the named watermark, 0 if unset.
func (s *Store) Watermark(ctx context.Context, name string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watermarks[name], nil
}

// AdvanceWatermark sets the watermark to max(current, value).
func (s *Store) AdvanceWatermark(ctx context.Context, name string, value int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if value > s.watermarks[name] {
		s.watermarks[name] = value
	}
	return nil
}

// CreateRun stores a new run.
func (s *Store) CreateRun(ctx context.Context, run model.PipelineRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.RunID] = run
	return nil
}

// FinishRun updates the terminal fields of an existing run.
func (s *Store) FinishRun(ctx context.Context, run model.PipelineRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.RunID]; !ok {
		return store.ErrNotFound
	}
	s.runs[run.RunID] = run
	return nil
}

// GetRun returns a run by id.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (model.PipelineRun, error) {
	if err := ctx.Err(); err != nil {
		return model.PipelineRun{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return model.PipelineRun{}, store.ErrNotFound
	}
	return run, nil
}

// Runs returns every run ordered by start time.
func (s *Store) Runs() []model.PipelineRun {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.PipelineRun, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// InsertCheckResults appends quality results.
func (s *Store) InsertCheckResults(ctx context.Context, results []model.DQCheckResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.checks = append(s.checks, results...)
	return nil
}

// CheckResults returns every stored quality result in insertion order.
func (s *Store) CheckResults() []model.DQCheckResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.DQCheckResult(nil), s.checks...)
}

// -----------------------------------------------------------------------------
// Quality source
// -----------------------------------------------------------------------------

// LatestArrival returns the newest raw arrival time.
func (s *Store) LatestArrival(ctx context.Context) (*time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *time.Time
	for i := range s.raw {
		if latest == nil || s.raw[i].ArrivalTime.After(*latest) {
			t := s.raw[i].ArrivalTime
			latest = &t
		}
	}
	return latest, nil
}

// LatestTradeTime returns the newest trade_time.
func (s *Store) LatestTradeTime(ctx context.Context) (*time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *time.Time
	for _, t := range s.trades {
		if latest == nil || t.TradeTime.After(*latest) {
			tt := t.TradeTime
			latest = &tt
		}
	}
	return latest, nil
}

// CountRawSince counts raw events with arrival_time >= since.
func (s *Store) CountRawSince(ctx context.Context, since time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, ev := range s.raw {
		if !ev.ArrivalTime.Before(since) {
			n++
		}
	}
	return n, nil
}

// CountTradesSince counts trades with trade_time >= since.
func (s *Store) CountTradesSince(ctx context.Context, since time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, t := range s.trades {
		if !t.TradeTime.Before(since) {
			n++
		}
	}
	return n, nil
}

// CountRaw counts all raw events.
func (s *Store) CountRaw(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.raw)), nil
}

// CountQuarantined counts all quarantined records.
func (s *Store) CountQuarantined(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.quarantine)), nil
}

// TradeStats computes the silver-table counters. Duplicates cannot occur
// here because trades are keyed by trade_id.
func (s *Store) TradeStats(ctx context.Context) (store.TradeStats, error) {
	if err := ctx.Err(); err != nil {
		return store.TradeStats{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var st store.TradeStats
	for _, t := range s.trades {
		if t.ProductID == "" {
			st.NullProductID++
		}
		if t.Price.IsNegative() {
			st.NegativePrice++
		}
		if t.Size.IsZero() {
			st.ZeroSize++
		}
	}
	return st, nil
}

// AggregateProductsMissingTrades lists aggregate product ids with no trade.
func (s *Store) AggregateProductsMissingTrades(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	known := make(map[string]struct{})
	for _, t := range s.trades {
		known[t.ProductID] = struct{}{}
	}

	missing := make(map[string]struct{})
	check := func(productID string) {
		if _, ok := known[productID]; !ok {
			missing[productID] = struct{}{}
		}
	}
	for _, table := range s.candles {
		for k := range table {
			check(k.productID)
		}
	}
	for k := range s.daily {
		check(k.productID)
	}
	for k := range s.movers {
		check(k.productID)
	}

	out := make([]string, 0, len(missing))
	for p := range missing {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func sortTrades(trades []model.Trade) {
	sort.Slice(trades, func(i, j int) bool {
		if !trades[i].TradeTime.Equal(trades[j].TradeTime) {
			return trades[i].TradeTime.Before(trades[j].TradeTime)
		}
		return trades[i].TradeID < trades[j].TradeID
	})
}

func cloneBytes(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}

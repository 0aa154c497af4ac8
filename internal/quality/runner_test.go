package quality

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/tradeflow/internal/model"
	"github.com/rickgao/tradeflow/internal/store"
	"github.com/rickgao/tradeflow/internal/store/memstore"
)

var checkNow = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func newTestRunner(s Store) *Runner {
	r := NewRunner(DefaultConfig(), s, nil)
	r.now = func() time.Time { return checkNow }
	return r
}

func resultByName(t *testing.T, rep Report, name string) model.DQCheckResult {
	t.Helper()
	for _, res := range rep.Results {
		if res.CheckName == name {
			return res
		}
	}
	t.Fatalf("no result for check %s", name)
	return model.DQCheckResult{}
}

func healthyStore(t *testing.T) *memstore.Store {
	t.Helper()
	s := memstore.New()
	ctx := context.Background()
	s.AppendRaw(ctx, []model.RawEvent{{ArrivalTime: checkNow.Add(-time.Minute), Payload: []byte(`{}`)}})
	s.InsertTrades(ctx, []model.Trade{{
		TradeID:   1,
		ProductID: "BTC-USD",
		Price:     decimal.NewFromInt(100),
		Size:      decimal.NewFromInt(1),
		Side:      model.SideBuy,
		TradeTime: checkNow.Add(-2 * time.Minute),
	}})
	s.UpsertCandle(ctx, model.Candle{ProductID: "BTC-USD", Granularity: model.Granularity1m, BucketStart: checkNow.Add(-2 * time.Minute)})
	return s
}

func TestRun_AllPass(t *testing.T) {
	s := healthyStore(t)

	rep, err := newTestRunner(s).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if rep.Total != 11 || rep.Passed != 11 || !rep.OK() {
		t.Errorf("Run() = %d/%d passed, failed %v", rep.Passed, rep.Total, rep.FailedChecks())
	}
	if len(rep.RunID) != 8 {
		t.Errorf("RunID = %q, want 8 chars", rep.RunID)
	}

	stored := s.CheckResults()
	if len(stored) != 11 {
		t.Fatalf("stored results = %d, want 11", len(stored))
	}
	for _, res := range stored {
		if res.RunID != rep.RunID {
			t.Errorf("%s RunID = %q, want %q", res.CheckName, res.RunID, rep.RunID)
		}
		if !res.CheckTime.Equal(checkNow) {
			t.Errorf("%s CheckTime = %v, want %v", res.CheckName, res.CheckTime, checkNow)
		}
	}
}

func TestRun_StaleTrades(t *testing.T) {
	s := memstore.New()
	s.InsertTrades(context.Background(), []model.Trade{{
		TradeID:   1,
		ProductID: "BTC-USD",
		Price:     decimal.NewFromInt(100),
		Size:      decimal.NewFromInt(1),
		TradeTime: checkNow.Add(-16 * time.Minute),
	}})

	rep, _ := newTestRunner(s).Run(context.Background())
	res := resultByName(t, rep, "silver_freshness")
	if res.Passed {
		t.Error("silver_freshness passed, want failure")
	}
	age, ok := res.Details["age_seconds"].(float64)
	if !ok || age <= 900 {
		t.Errorf("age_seconds = %v, want > 900", res.Details["age_seconds"])
	}
	if res.Details["last_trade_time"] != checkNow.Add(-16*time.Minute).Format(time.RFC3339Nano) {
		t.Errorf("last_trade_time = %v", res.Details["last_trade_time"])
	}

	if vol := resultByName(t, rep, "silver_volume_10m"); vol.Passed {
		t.Error("silver_volume_10m passed, want failure")
	}
}

func TestRun_EmptyStores(t *testing.T) {
	s := memstore.New()

	rep, err := newTestRunner(s).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	tests := []struct {
		name   string
		passed bool
	}{
		{"bronze_freshness", false},
		{"silver_freshness", false},
		{"bronze_volume_5m", false},
		{"silver_volume_10m", false},
		{"silver_no_null_price", true},
		{"silver_no_null_product_id", true},
		{"silver_no_duplicates", true},
		{"silver_no_negative_price", true},
		{"silver_no_zero_size", true},
		{"gold_referential_integrity", true},
		{"quarantine_rate", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resultByName(t, rep, tt.name).Passed; got != tt.passed {
				t.Errorf("Passed = %v, want %v", got, tt.passed)
			}
		})
	}

	fresh := resultByName(t, rep, "bronze_freshness")
	if v, ok := fresh.Details["age_seconds"]; !ok || v != nil {
		t.Errorf("age_seconds = %v (present %v), want explicit nil", v, ok)
	}
	if rep.Failed != 4 {
		t.Errorf("Failed = %d, want 4", rep.Failed)
	}
}

func TestRun_DataDefects(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	s.InsertTrades(ctx, []model.Trade{
		{TradeID: 1, ProductID: "BTC-USD", Price: decimal.NewFromInt(-1), Size: decimal.NewFromInt(1), TradeTime: checkNow},
		{TradeID: 2, ProductID: "BTC-USD", Price: decimal.NewFromInt(1), Size: decimal.Zero, TradeTime: checkNow},
	})
	s.UpsertDailyKPI(ctx, model.DailyKPI{ProductID: "DOGE-USD", Day: model.Granularity1d.Truncate(checkNow)})

	rep, _ := newTestRunner(s).Run(ctx)

	neg := resultByName(t, rep, "silver_no_negative_price")
	if neg.Passed || neg.Details["negative_count"] != int64(1) {
		t.Errorf("silver_no_negative_price = %v %v, want failed with 1", neg.Passed, neg.Details)
	}
	zero := resultByName(t, rep, "silver_no_zero_size")
	if zero.Passed || zero.Details["zero_count"] != int64(1) {
		t.Errorf("silver_no_zero_size = %v %v, want failed with 1", zero.Passed, zero.Details)
	}
	ref := resultByName(t, rep, "gold_referential_integrity")
	if ref.Passed || ref.Details["orphan_count"] != 1 {
		t.Errorf("gold_referential_integrity = %v %v, want failed with 1 orphan", ref.Passed, ref.Details)
	}
}

func TestRun_QuarantineRate(t *testing.T) {
	tests := []struct {
		name        string
		raw         int
		quarantined int
		want        bool
	}{
		{"below threshold", 100, 4, true},
		{"at threshold", 100, 5, false},
		{"above threshold", 10, 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := memstore.New()
			ctx := context.Background()
			s.AppendRaw(ctx, make([]model.RawEvent, tt.raw))
			recs := make([]model.QuarantinedRecord, tt.quarantined)
			for i := range recs {
				recs[i] = model.QuarantinedRecord{SourceRawID: int64(i + 1), Reason: model.ReasonUnknown}
			}
			s.InsertQuarantine(ctx, recs)

			rep, _ := newTestRunner(s).Run(ctx)
			res := resultByName(t, rep, "quarantine_rate")
			if res.Passed != tt.want {
				t.Errorf("Passed = %v, want %v (details %v)", res.Passed, tt.want, res.Details)
			}
			if res.Details["total"] != int64(tt.raw) {
				t.Errorf("total = %v, want %d", res.Details["total"], tt.raw)
			}
		})
	}
}

// brokenStatsStore fails the trade counters query.
type brokenStatsStore struct {
	*memstore.Store
}

func (brokenStatsStore) TradeStats(context.Context) (store.TradeStats, error) {
	return store.TradeStats{}, errors.New("relation \"trades\" does not exist")
}

func TestRun_QueryErrorRecordedAsFailure(t *testing.T) {
	s := healthyStore(t)

	rep, err := newTestRunner(brokenStatsStore{s}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if rep.Failed != 5 {
		t.Errorf("Failed = %d, want 5 (every trade counter check)", rep.Failed)
	}
	res := resultByName(t, rep, "silver_no_null_price")
	if res.Passed || res.Details["error"] == nil {
		t.Errorf("silver_no_null_price = %v %v, want failed with error detail", res.Passed, res.Details)
	}
	if len(s.CheckResults()) != 11 {
		t.Errorf("stored results = %d, want 11", len(s.CheckResults()))
	}
}

// countingStatsStore counts trade counter reads.
type countingStatsStore struct {
	*memstore.Store
	calls int
}

func (c *countingStatsStore) TradeStats(ctx context.Context) (store.TradeStats, error) {
	c.calls++
	return c.Store.TradeStats(ctx)
}

func TestRun_ReadsTradeStatsOncePerRun(t *testing.T) {
	s := &countingStatsStore{Store: healthyStore(t)}
	r := newTestRunner(s)

	for run := 1; run <= 2; run++ {
		rep, err := r.Run(context.Background())
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if !rep.OK() {
			t.Errorf("Run() failed %v", rep.FailedChecks())
		}
		if s.calls != run {
			t.Errorf("TradeStats calls after run %d = %d, want %d", run, s.calls, run)
		}
	}
}

func TestChecks_Battery(t *testing.T) {
	checks := Checks(DefaultConfig())
	if len(checks) != 11 {
		t.Fatalf("len(Checks()) = %d, want 11", len(checks))
	}
	seen := make(map[string]bool)
	for _, c := range checks {
		if seen[c.Name] {
			t.Errorf("duplicate check name %s", c.Name)
		}
		seen[c.Name] = true
		if c.Type == "" || c.Table == "" || c.eval == nil {
			t.Errorf("check %s is incomplete: %+v", c.Name, c)
		}
	}
}

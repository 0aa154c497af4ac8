package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/tradeflow/internal/connection"
	"github.com/rickgao/tradeflow/internal/model"
	"github.com/rickgao/tradeflow/internal/store"
	"github.com/rickgao/tradeflow/internal/store/memstore"
)

func matchMsg(tradeID int) connection.RawMessage {
	return connection.RawMessage{
		Data: []byte(fmt.Sprintf(
			`{"type":"match","trade_id":%d,"product_id":"BTC-USD","price":"100.0","size":"0.5","side":"buy","time":"2024-01-15T10:00:00Z"}`,
			tradeID)),
		Channel:    "matches",
		ReceivedAt: time.Date(2024, 1, 15, 10, 0, 1, 0, time.UTC),
	}
}

// flakyStore fails the first failures appends, or every append when failures < 0.
type flakyStore struct {
	*memstore.Store

	mu       sync.Mutex
	failures int
	calls    int
}

func (s *flakyStore) AppendRaw(ctx context.Context, events []model.RawEvent) (int, error) {
	s.mu.Lock()
	s.calls++
	fail := s.failures != 0
	if s.failures > 0 {
		s.failures--
	}
	s.mu.Unlock()

	if fail {
		return 0, errors.New("database unavailable")
	}
	return s.Store.AppendRaw(ctx, events)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestBatcher_Transform(t *testing.T) {
	b := NewBatcher(DefaultConfig(), nil, memstore.New(), nil)

	ev, ok := b.transform(matchMsg(7))
	if !ok {
		t.Fatal("transform() rejected a match message")
	}
	if ev.SourceChannel != "matches" {
		t.Errorf("SourceChannel = %q, want matches", ev.SourceChannel)
	}
	if ev.EventTime == nil || !ev.EventTime.Equal(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("EventTime = %v, want 2024-01-15T10:00:00Z", ev.EventTime)
	}
	if ev.ArrivalTime.Location() != time.UTC {
		t.Errorf("ArrivalTime location = %v, want UTC", ev.ArrivalTime.Location())
	}
	if len(ev.PayloadFingerprint) != 40 {
		t.Errorf("PayloadFingerprint = %q, want 40 hex chars", ev.PayloadFingerprint)
	}
}

func TestBatcher_FiltersNonMatch(t *testing.T) {
	s := memstore.New()
	b := NewBatcher(Config{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 100}, nil, s, nil)
	ctx := context.Background()

	for _, data := range []string{
		`{"type":"subscriptions","channels":[]}`,
		`{"type":"heartbeat","sequence":1}`,
		`{"type":"error","message":"bad product"}`,
		`{"type":"last_match","trade_id":1}`,
		`not json`,
	} {
		b.handleMessage(ctx, connection.RawMessage{Data: []byte(data), Channel: "matches"})
	}
	b.handleMessage(ctx, matchMsg(1))

	if err := b.flush(ctx); err != nil {
		t.Fatalf("flush() error = %v", err)
	}

	st := b.Stats()
	if st.Received != 6 {
		t.Errorf("Received = %d, want 6", st.Received)
	}
	if st.Skipped != 4 {
		t.Errorf("Skipped = %d, want 4", st.Skipped)
	}
	if st.Invalid != 1 {
		t.Errorf("Invalid = %d, want 1", st.Invalid)
	}
	if st.Inserted != 1 {
		t.Errorf("Inserted = %d, want 1", st.Inserted)
	}
	if got := len(s.RawEvents()); got != 1 {
		t.Errorf("stored raw events = %d, want 1", got)
	}
}

func TestBatcher_FlushOnSize(t *testing.T) {
	s := memstore.New()
	input := make(chan connection.RawMessage, 10)
	b := NewBatcher(Config{BatchSize: 3, FlushInterval: time.Hour, BufferSize: 10}, input, s, nil)

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer b.Stop(context.Background())

	for i := 1; i <= 3; i++ {
		input <- matchMsg(i)
	}

	waitFor(t, "size-triggered flush", func() bool { return b.Stats().Inserted == 3 })

	if st := b.Stats(); st.Flushes != 1 {
		t.Errorf("Flushes = %d, want 1", st.Flushes)
	}
}

func TestBatcher_FlushOnInterval(t *testing.T) {
	s := memstore.New()
	input := make(chan connection.RawMessage, 10)
	b := NewBatcher(Config{BatchSize: 100, FlushInterval: 20 * time.Millisecond, BufferSize: 100}, input, s, nil)

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer b.Stop(context.Background())

	input <- matchMsg(1)

	waitFor(t, "interval flush", func() bool { return len(s.RawEvents()) == 1 })
}

func TestBatcher_RetainsBatchOnFailure(t *testing.T) {
	s := &flakyStore{Store: memstore.New(), failures: 2}
	input := make(chan connection.RawMessage, 10)
	b := NewBatcher(Config{BatchSize: 100, FlushInterval: 10 * time.Millisecond, BufferSize: 100}, input, s, nil)

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer b.Stop(context.Background())

	input <- matchMsg(1)
	input <- matchMsg(2)

	waitFor(t, "retried flush", func() bool { return b.Stats().Inserted == 2 })

	st := b.Stats()
	if st.Errors < 1 {
		t.Errorf("Errors = %d, want >= 1", st.Errors)
	}
	if st.Inserted != 2 {
		t.Errorf("Inserted = %d, want 2", st.Inserted)
	}

	// Order is preserved across the retry
	raw := s.RawEvents()
	if raw[0].PayloadFingerprint == raw[1].PayloadFingerprint {
		t.Error("expected distinct payloads")
	}
}

func TestBatcher_DropsWhenBufferFull(t *testing.T) {
	s := &flakyStore{Store: memstore.New(), failures: -1}
	b := NewBatcher(Config{BatchSize: 2, FlushInterval: time.Hour, BufferSize: 3}, nil, s, nil)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		b.handleMessage(ctx, matchMsg(i))
	}

	st := b.Stats()
	if st.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2", st.Dropped)
	}
	if st.Pending != 3 {
		t.Errorf("Pending = %d, want 3", st.Pending)
	}
	if st.Errors != 2 {
		t.Errorf("Errors = %d, want 2", st.Errors)
	}

	// Once the store recovers, the retained events are written in arrival order.
	s.mu.Lock()
	s.failures = 0
	s.mu.Unlock()
	if err := b.flush(ctx); err != nil {
		t.Fatalf("flush() error = %v", err)
	}
	raw := s.RawEvents()
	if len(raw) != 3 {
		t.Fatalf("stored raw events = %d, want 3", len(raw))
	}
	want, _ := Fingerprint(matchMsg(1).Data)
	if raw[0].PayloadFingerprint != want {
		t.Error("first stored event is not the first received")
	}
}

func TestBatcher_StopFlushesPending(t *testing.T) {
	s := memstore.New()
	input := make(chan connection.RawMessage, 10)
	b := NewBatcher(Config{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 100}, input, s, nil)

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 1; i <= 3; i++ {
		input <- matchMsg(i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := len(s.RawEvents()); got != 3 {
		t.Errorf("stored raw events = %d, want 3", got)
	}
	if st := b.Stats(); st.Pending != 0 {
		t.Errorf("Pending = %d, want 0", st.Pending)
	}
}

func TestBatcher_TransformRejectsUnstorable(t *testing.T) {
	tests := []struct {
		name string
		data string
		want bool
	}{
		{"nul escape", `{"type":"match","trade_id":1,"product_id":"X\u0000"}`, false},
		{"invalid utf8", "{\"type\":\"match\",\"trade_id\":1,\"product_id\":\"X\xff\"}", false},
		{"lone high surrogate", `{"type":"match","trade_id":1,"product_id":"\ud800"}`, false},
		{"lone low surrogate", `{"type":"match","trade_id":1,"product_id":"\udc00x"}`, false},
		{"surrogate pair", `{"type":"match","trade_id":1,"product_id":"\ud83d\ude00"}`, true},
		{"escaped backslash", `{"type":"match","trade_id":1,"product_id":"X\\u0000"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBatcher(DefaultConfig(), nil, memstore.New(), nil)
			_, ok := b.transform(connection.RawMessage{Data: []byte(tt.data), Channel: "matches"})
			if ok != tt.want {
				t.Errorf("transform() ok = %v, want %v", ok, tt.want)
			}
			if st := b.Stats(); !tt.want && st.Invalid != 1 {
				t.Errorf("Invalid = %d, want 1", st.Invalid)
			}
		})
	}
}

// refusingStore rejects any append containing a payload with marker as invalid data.
type refusingStore struct {
	*memstore.Store
	marker []byte
}

func (s *refusingStore) AppendRaw(ctx context.Context, events []model.RawEvent) (int, error) {
	for _, ev := range events {
		if bytes.Contains(ev.Payload, s.marker) {
			return 0, fmt.Errorf("insert raw events: %w", store.ErrInvalidData)
		}
	}
	return s.Store.AppendRaw(ctx, events)
}

func TestBatcher_DiscardsRefusedEvent(t *testing.T) {
	s := &refusingStore{Store: memstore.New(), marker: []byte(`"trade_id":2,`)}
	b := NewBatcher(Config{BatchSize: 3, FlushInterval: time.Hour, BufferSize: 3}, nil, s, nil)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		b.handleMessage(ctx, matchMsg(i))
	}
	if err := b.flush(ctx); err != nil {
		t.Fatalf("flush() error = %v", err)
	}

	st := b.Stats()
	if st.Inserted != 2 || st.Rejected != 1 || st.Pending != 0 || st.Errors != 0 {
		t.Errorf("Stats() = %+v, want 2 inserted, 1 rejected, nothing pending", st)
	}

	raw := s.RawEvents()
	if len(raw) != 2 {
		t.Fatalf("stored raw events = %d, want 2", len(raw))
	}
	for i, id := range []int{1, 3} {
		want, _ := Fingerprint(matchMsg(id).Data)
		if raw[i].PayloadFingerprint != want {
			t.Errorf("raw[%d] is not trade %d", i, id)
		}
	}

	// The buffer is free again; later events are not dropped
	for i := 4; i <= 6; i++ {
		b.handleMessage(ctx, matchMsg(i))
	}
	if err := b.flush(ctx); err != nil {
		t.Fatalf("second flush() error = %v", err)
	}
	if st := b.Stats(); st.Dropped != 0 || st.Inserted != 5 {
		t.Errorf("Stats() = %+v, want 0 dropped, 5 inserted", st)
	}
}

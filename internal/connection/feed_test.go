package connection

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testFeedConfig(url string) FeedConfig {
	return FeedConfig{
		WSURL:             url,
		Products:          []string{"BTC-USD", "ETH-USD"},
		Channel:           "matches",
		PingInterval:      time.Second,
		PingTimeout:       5 * time.Second,
		WriteTimeout:      time.Second,
		ReconnectBaseWait: 10 * time.Millisecond,
		ReconnectMaxWait:  50 * time.Millisecond,
		MessageBufferSize: 100,
	}
}

func TestFeed_SubscribesAndForwards(t *testing.T) {
	var mu sync.Mutex
	var sub SubscribeRequest

	server := mockWSServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		mu.Lock()
		json.Unmarshal(data, &sub)
		mu.Unlock()

		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"match","trade_id":1}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	f := NewFeed(testFeedConfig(wsURL(server)), nil, nil)
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case msg := <-f.Messages():
		if string(msg.Data) != `{"type":"match","trade_id":1}` {
			t.Errorf("Data = %s", msg.Data)
		}
		if msg.Channel != "matches" {
			t.Errorf("Channel = %q, want matches", msg.Channel)
		}
		if msg.ReceivedAt.IsZero() {
			t.Error("ReceivedAt should not be zero")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	mu.Lock()
	if sub.Type != "subscribe" || len(sub.ProductIDs) != 2 || len(sub.Channels) != 1 || sub.Channels[0] != "matches" {
		t.Errorf("subscribe request = %+v", sub)
	}
	mu.Unlock()

	if !f.Stats().Connected {
		t.Error("expected Stats().Connected = true")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if _, ok := <-f.Messages(); ok {
		t.Error("expected Messages channel closed after Stop")
	}
}

func TestFeed_ReconnectsAndResubscribes(t *testing.T) {
	var connections atomic.Int32
	var subscribes atomic.Int32

	server := mockWSServer(t, func(conn *websocket.Conn) {
		n := connections.Add(1)
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		subscribes.Add(1)

		if n == 1 {
			// Drop the first connection right after subscribing
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"match","trade_id":2}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	f := NewFeed(testFeedConfig(wsURL(server)), nil, nil)
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.Stop(context.Background())

	select {
	case msg := <-f.Messages():
		if string(msg.Data) != `{"type":"match","trade_id":2}` {
			t.Errorf("Data = %s", msg.Data)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for message after reconnect")
	}

	if got := subscribes.Load(); got < 2 {
		t.Errorf("subscribes = %d, want >= 2", got)
	}
	if got := f.Stats().Reconnects; got < 1 {
		t.Errorf("Reconnects = %d, want >= 1", got)
	}
}

// fakeClient fails Connect a fixed number of times.
type fakeClient struct {
	failures *atomic.Int32
	attempts *atomic.Int32
	msgs     chan TimestampedMessage
	errs     chan error
}

func (c *fakeClient) Connect(ctx context.Context) error {
	c.attempts.Add(1)
	if c.failures.Add(-1) >= 0 {
		return ErrNotConnected
	}
	return nil
}
func (c *fakeClient) Close() error                        { return nil }
func (c *fakeClient) Send(data []byte) error              { return nil }
func (c *fakeClient) Messages() <-chan TimestampedMessage { return c.msgs }
func (c *fakeClient) Errors() <-chan error                { return c.errs }
func (c *fakeClient) IsConnected() bool                   { return true }

func TestFeed_RetriesInitialConnect(t *testing.T) {
	var failures, attempts atomic.Int32
	failures.Store(3)
	msgs := make(chan TimestampedMessage, 1)
	msgs <- TimestampedMessage{Data: []byte(`{}`), ReceivedAt: time.Now()}

	factory := func(cfg ClientConfig, _ *slog.Logger) Client {
		return &fakeClient{failures: &failures, attempts: &attempts, msgs: msgs, errs: make(chan error)}
	}

	f := NewFeed(testFeedConfig("ws://unused"), factory, nil)
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.Stop(context.Background())

	select {
	case <-f.Messages():
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	if got := attempts.Load(); got != 4 {
		t.Errorf("connect attempts = %d, want 4", got)
	}
}

func TestFeed_StartTwice(t *testing.T) {
	factory := func(cfg ClientConfig, _ *slog.Logger) Client {
		var f, a atomic.Int32
		return &fakeClient{failures: &f, attempts: &a, msgs: make(chan TimestampedMessage), errs: make(chan error)}
	}

	f := NewFeed(testFeedConfig("ws://unused"), factory, nil)
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.Stop(context.Background())

	if err := f.Start(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestFeed_StopTwice(t *testing.T) {
	factory := func(cfg ClientConfig, _ *slog.Logger) Client {
		var f, a atomic.Int32
		return &fakeClient{failures: &f, attempts: &a, msgs: make(chan TimestampedMessage), errs: make(chan error)}
	}

	f := NewFeed(testFeedConfig("ws://unused"), factory, nil)
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 1; i <= 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := f.Stop(ctx)
		cancel()
		if err != nil {
			t.Errorf("Stop() call %d error = %v, want nil", i, err)
		}
	}
	if _, ok := <-f.Messages(); ok {
		t.Errorf("Messages() open after Stop, want closed")
	}
}

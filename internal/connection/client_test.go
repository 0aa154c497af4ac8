package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer serves one handler per upgraded connection.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:          url,
		PingTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   100,
	}
}

func connectedClient(t *testing.T, server *httptest.Server) Client {
	t.Helper()
	client := NewClient(testClientConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return client
}

// drain reads until the peer goes away.
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func matchFrame(tradeID int64, product, price string) string {
	return fmt.Sprintf(`{"type":"match","trade_id":%d,"product_id":%q,"price":%q,"size":"0.5","side":"buy","time":"2024-01-15T12:00:00.000000Z"}`,
		tradeID, product, price)
}

func TestClient_ConnectAndClose(t *testing.T) {
	server := mockWSServer(t, drain)
	defer server.Close()

	client := connectedClient(t, server)
	if !client.IsConnected() {
		t.Errorf("IsConnected() = false after Connect, want true")
	}

	for i := 1; i <= 2; i++ {
		if err := client.Close(); err != nil {
			t.Errorf("Close() call %d error = %v, want nil", i, err)
		}
	}
	if client.IsConnected() {
		t.Errorf("IsConnected() = true after Close, want false")
	}
}

func TestClient_SubscribeRoundTrip(t *testing.T) {
	got := make(chan SubscribeRequest, 1)

	server := mockWSServer(t, func(conn *websocket.Conn) {
		var req SubscribeRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		got <- req
		ack := map[string]any{
			"type":     "subscriptions",
			"channels": []map[string]any{{"name": req.Channels[0], "product_ids": req.ProductIDs}},
		}
		if err := conn.WriteJSON(ack); err != nil {
			return
		}
		drain(conn)
	})
	defer server.Close()

	client := connectedClient(t, server)
	defer client.Close()

	want := SubscribeRequest{Type: "subscribe", ProductIDs: []string{"BTC-USD", "ETH-USD"}, Channels: []string{"matches"}}
	data, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal subscribe: %v", err)
	}
	if err := client.Send(data); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case req := <-got:
		if req.Type != want.Type || !slices.Equal(req.ProductIDs, want.ProductIDs) || !slices.Equal(req.Channels, want.Channels) {
			t.Errorf("server received %+v, want %+v", req, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for subscribe at server")
	}

	select {
	case msg := <-client.Messages():
		var ack struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg.Data, &ack); err != nil {
			t.Fatalf("decode ack: %v", err)
		}
		if ack.Type != "subscriptions" {
			t.Errorf("ack type = %q, want subscriptions", ack.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for subscriptions ack")
	}
}

func TestClient_Messages(t *testing.T) {
	frames := []string{
		matchFrame(101, "BTC-USD", "42000.10"),
		matchFrame(102, "BTC-USD", "42000.25"),
		matchFrame(57, "ETH-USD", "2500.00"),
	}

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		drain(conn)
	})
	defer server.Close()

	client := connectedClient(t, server)
	defer client.Close()

	timeout := time.After(2 * time.Second)
	for i, want := range frames {
		select {
		case msg := <-client.Messages():
			if string(msg.Data) != want {
				t.Errorf("frame %d = %s, want %s", i, msg.Data, want)
			}
			if msg.ReceivedAt.IsZero() {
				t.Errorf("frame %d ReceivedAt is zero", i)
			}
		case <-timeout:
			t.Fatalf("timeout after %d of %d frames", i, len(frames))
		}
	}
}

func TestClient_NotConnected(t *testing.T) {
	tests := []struct {
		name string
		run  func(Client) error
		want error
	}{
		{
			name: "send before connect",
			run:  func(c Client) error { return c.Send([]byte(`{"type":"subscribe"}`)) },
			want: ErrNotConnected,
		},
		{
			name: "connect after close",
			run: func(c Client) error {
				c.Close()
				return c.Connect(context.Background())
			},
			want: ErrAlreadyClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(testClientConfig("ws://localhost:12345"), nil)
			if err := tt.run(client); err != tt.want {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestClient_AnswersServerPing(t *testing.T) {
	pong := make(chan string, 1)

	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.SetPongHandler(func(data string) error {
			pong <- data
			return nil
		})
		if err := conn.WriteControl(websocket.PingMessage, []byte("heartbeat"), time.Now().Add(time.Second)); err != nil {
			return
		}
		drain(conn)
	})
	defer server.Close()

	client := connectedClient(t, server)
	defer client.Close()

	select {
	case data := <-pong:
		if data != "heartbeat" {
			t.Errorf("pong payload = %q, want heartbeat", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for pong")
	}
	if !client.IsConnected() {
		t.Errorf("IsConnected() = false after ping, want true")
	}
}

func TestClient_StaleConnection(t *testing.T) {
	// The server never reads, so the client's pings are never answered.
	server := mockWSServer(t, func(conn *websocket.Conn) {
		time.Sleep(time.Second)
	})
	defer server.Close()

	cfg := testClientConfig(wsURL(server))
	cfg.PingInterval = 20 * time.Millisecond
	cfg.PingTimeout = 50 * time.Millisecond

	client := NewClient(cfg, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	select {
	case err := <-client.Errors():
		if err != ErrStaleConnection {
			t.Errorf("error = %v, want ErrStaleConnection", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for stale connection error")
	}

	if client.IsConnected() {
		t.Errorf("IsConnected() = true after stale error, want false")
	}
}

func TestDefaultConfigs(t *testing.T) {
	clientCfg := DefaultClientConfig()
	feedCfg := DefaultFeedConfig()

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"client ping interval", clientCfg.PingInterval, 20 * time.Second},
		{"client buffer size", clientCfg.BufferSize, 1000},
		{"feed reconnect base wait", feedCfg.ReconnectBaseWait, time.Second},
		{"feed reconnect max wait", feedCfg.ReconnectMaxWait, 60 * time.Second},
		{"feed channel", feedCfg.Channel, "matches"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

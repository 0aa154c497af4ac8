package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no pong)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrAlreadyStarted  = errors.New("feed already started")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// RawMessage is a frame forwarded by a Feed to its consumer.
type RawMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	Channel    string    // Subscribed channel, e.g. "matches"
	ReceivedAt time.Time // Local timestamp when the client received the frame
}

// SubscribeRequest is the feed subscribe command.
type SubscribeRequest struct {
	Type       string   `json:"type"` // "subscribe"
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string        // WebSocket URL (e.g., wss://ws-feed.exchange.coinbase.com)
	PingInterval time.Duration // How often the client pings the server
	PingTimeout  time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval: 20 * time.Second,
		PingTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   1000,
	}
}

// FeedConfig configures a Feed.
type FeedConfig struct {
	WSURL             string
	Products          []string
	Channel           string
	PingInterval      time.Duration
	PingTimeout       time.Duration
	WriteTimeout      time.Duration
	ReconnectBaseWait time.Duration // First wait after a disconnect
	ReconnectMaxWait  time.Duration // Cap for the doubling wait
	MessageBufferSize int           // Buffer size for the output channel
}

// DefaultFeedConfig returns sensible defaults.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		WSURL:             "wss://ws-feed.exchange.coinbase.com",
		Channel:           "matches",
		PingInterval:      20 * time.Second,
		PingTimeout:       60 * time.Second,
		WriteTimeout:      5 * time.Second,
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  60 * time.Second,
		MessageBufferSize: 10000,
	}
}

// FeedStats provides statistics about a feed.
type FeedStats struct {
	Connected  bool
	Received   int64
	Dropped    int64 // Output buffer full
	Reconnects int64
}

package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/tradeflow/internal/metrics"
)

// Feed maintains one subscription and forwards its frames.
type Feed interface {
	// Start connects, subscribes, and keeps the subscription alive until Stop.
	// Connection failures are retried in the background.
	Start(ctx context.Context) error

	// Stop closes the connection and the Messages channel.
	Stop(ctx context.Context) error

	// Messages returns the channel of received frames.
	Messages() <-chan RawMessage

	// Stats returns current connection statistics.
	Stats() FeedStats
}

// ClientFactory builds a Client. Tests substitute their own.
type ClientFactory func(cfg ClientConfig, logger *slog.Logger) Client

// feed implements the Feed interface.
type feed struct {
	cfg       FeedConfig
	logger    *slog.Logger
	newClient ClientFactory

	out chan RawMessage

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	closed  sync.Once

	mu     sync.Mutex
	client Client

	received   atomic.Int64
	dropped    atomic.Int64
	reconnects atomic.Int64
}

// NewFeed creates a Feed. A nil factory uses NewClient.
func NewFeed(cfg FeedConfig, newClient ClientFactory, logger *slog.Logger) Feed {
	if logger == nil {
		logger = slog.Default()
	}
	if newClient == nil {
		newClient = NewClient
	}
	def := DefaultFeedConfig()
	if cfg.Channel == "" {
		cfg.Channel = def.Channel
	}
	if cfg.ReconnectBaseWait <= 0 {
		cfg.ReconnectBaseWait = def.ReconnectBaseWait
	}
	if cfg.ReconnectMaxWait < cfg.ReconnectBaseWait {
		cfg.ReconnectMaxWait = cfg.ReconnectBaseWait
	}
	if cfg.MessageBufferSize <= 0 {
		cfg.MessageBufferSize = def.MessageBufferSize
	}

	return &feed{
		cfg:       cfg,
		logger:    logger.With("component", "feed", "channel", cfg.Channel),
		newClient: newClient,
		out:       make(chan RawMessage, cfg.MessageBufferSize),
	}
}

// Start launches the connection loop.
func (f *feed) Start(ctx context.Context) error {
	if !f.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if len(f.cfg.Products) == 0 {
		return fmt.Errorf("feed: no products configured")
	}

	f.ctx, f.cancel = context.WithCancel(ctx)

	f.wg.Add(1)
	go f.run()

	f.logger.Info("feed started",
		"url", f.cfg.WSURL,
		"products", f.cfg.Products,
	)
	return nil
}

// Stop gracefully shuts down.
func (f *feed) Stop(ctx context.Context) error {
	f.logger.Info("stopping feed")

	if f.cancel != nil {
		f.cancel()
	}
	f.closeClient()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// Stop may be repeated, e.g. after a timed out attempt.
		f.closed.Do(func() {
			close(f.out)
			f.logger.Info("feed stopped",
				"received", f.received.Load(),
				"reconnects", f.reconnects.Load(),
				"dropped", f.dropped.Load(),
			)
		})
		return nil
	case <-ctx.Done():
		f.logger.Warn("feed stop timed out")
		return ctx.Err()
	}
}

// Messages returns the output channel.
func (f *feed) Messages() <-chan RawMessage {
	return f.out
}

// Stats returns current statistics.
func (f *feed) Stats() FeedStats {
	f.mu.Lock()
	connected := f.client != nil && f.client.IsConnected()
	f.mu.Unlock()

	return FeedStats{
		Connected:  connected,
		Received:   f.received.Load(),
		Dropped:    f.dropped.Load(),
		Reconnects: f.reconnects.Load(),
	}
}

// run connects, reads until the connection fails, and reconnects with
// exponential backoff. The wait resets after every successful subscribe.
func (f *feed) run() {
	defer f.wg.Done()

	wait := f.cfg.ReconnectBaseWait
	first := true

	for {
		if !first {
			select {
			case <-f.ctx.Done():
				return
			case <-time.After(wait):
			}
			f.logger.Info("attempting reconnection", "wait", wait)
		}

		c, err := f.connect()
		if err != nil {
			if f.ctx.Err() != nil {
				return
			}
			f.logger.Warn("connection failed", "error", err)
			if !first {
				wait *= 2
				if wait > f.cfg.ReconnectMaxWait {
					wait = f.cfg.ReconnectMaxWait
				}
			}
			first = false
			continue
		}

		if !first {
			f.reconnects.Add(1)
			metrics.FeedReconnects.Inc()
			f.logger.Info("reconnected")
		}
		first = false
		wait = f.cfg.ReconnectBaseWait

		err = f.readLoop(c)
		f.closeClient()
		if f.ctx.Err() != nil {
			return
		}
		f.logger.Warn("connection error", "error", err)
	}
}

// connect dials a fresh client and sends the subscribe request.
func (f *feed) connect() (Client, error) {
	c := f.newClient(ClientConfig{
		URL:          f.cfg.WSURL,
		PingInterval: f.cfg.PingInterval,
		PingTimeout:  f.cfg.PingTimeout,
		WriteTimeout: f.cfg.WriteTimeout,
		BufferSize:   f.cfg.MessageBufferSize,
	}, f.logger)

	if err := c.Connect(f.ctx); err != nil {
		return nil, err
	}

	req, err := json.Marshal(SubscribeRequest{
		Type:       "subscribe",
		ProductIDs: f.cfg.Products,
		Channels:   []string{f.cfg.Channel},
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("marshal subscribe: %w", err)
	}
	if err := c.Send(req); err != nil {
		c.Close()
		return nil, fmt.Errorf("send subscribe: %w", err)
	}

	f.mu.Lock()
	f.client = c
	f.mu.Unlock()

	return c, nil
}

func (f *feed) closeClient() {
	f.mu.Lock()
	c := f.client
	f.client = nil
	f.mu.Unlock()

	if c != nil {
		c.Close()
	}
}

// readLoop forwards frames until the client reports an error or the feed stops.
func (f *feed) readLoop(c Client) error {
	for {
		select {
		case <-f.ctx.Done():
			return f.ctx.Err()

		case err := <-c.Errors():
			return err

		case msg, ok := <-c.Messages():
			if !ok {
				return ErrNotConnected
			}
			f.received.Add(1)
			metrics.FeedMessagesReceived.Inc()

			raw := RawMessage{
				Data:       msg.Data,
				Channel:    f.cfg.Channel,
				ReceivedAt: msg.ReceivedAt,
			}

			select {
			case f.out <- raw:
			case <-f.ctx.Done():
				return f.ctx.Err()
			default:
				f.dropped.Add(1)
				metrics.FeedMessagesDropped.Inc()
				f.logger.Warn("message buffer full, dropping")
			}
		}
	}
}

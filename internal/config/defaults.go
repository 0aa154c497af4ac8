package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID         = "tradeflow"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
	DefaultWSURL              = "wss://ws-feed.exchange.coinbase.com"
	DefaultChannel            = "matches"
	DefaultPingInterval       = 20 * time.Second
	DefaultPingTimeout        = 60 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultMessageBuffer      = 10000
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultIngestBatchSize    = 100
	DefaultFlushInterval      = 5 * time.Second
	DefaultBufferSize         = 10000
	DefaultDedupBatchSize     = 1000
	DefaultDedupMaxBatches    = 100
	DefaultRollupLookback     = 10 * time.Minute
	DefaultMoverRetention     = 1 * time.Hour
	DefaultBronzeFreshness    = 10 * time.Minute
	DefaultSilverFreshness    = 15 * time.Minute
	DefaultBronzeVolumeWindow = 5 * time.Minute
	DefaultSilverVolumeWindow = 10 * time.Minute
	DefaultMaxQuarantineRate  = 0.05
	DefaultScheduleInterval   = 5 * time.Minute
	DefaultScheduleRetries    = 2
	DefaultScheduleRetryDelay = 30 * time.Second
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
)

// DefaultProducts are subscribed when feed.products is empty.
var DefaultProducts = []string{"BTC-USD", "ETH-USD"}

func (c *Config) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	// Feed defaults
	if c.Feed.WSURL == "" {
		c.Feed.WSURL = DefaultWSURL
	}
	if len(c.Feed.Products) == 0 {
		c.Feed.Products = append([]string(nil), DefaultProducts...)
	}
	if c.Feed.Channel == "" {
		c.Feed.Channel = DefaultChannel
	}
	if c.Feed.PingInterval == 0 {
		c.Feed.PingInterval = DefaultPingInterval
	}
	if c.Feed.PingTimeout == 0 {
		c.Feed.PingTimeout = DefaultPingTimeout
	}
	if c.Feed.WriteTimeout == 0 {
		c.Feed.WriteTimeout = DefaultWriteTimeout
	}
	if c.Feed.ReconnectBaseDelay == 0 {
		c.Feed.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Feed.ReconnectMaxDelay == 0 {
		c.Feed.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Feed.MessageBuffer == 0 {
		c.Feed.MessageBuffer = DefaultMessageBuffer
	}

	applyDBDefaults(&c.Database)

	// Ingest defaults
	if c.Ingest.BatchSize == 0 {
		c.Ingest.BatchSize = DefaultIngestBatchSize
	}
	if c.Ingest.FlushInterval == 0 {
		c.Ingest.FlushInterval = DefaultFlushInterval
	}
	if c.Ingest.BufferSize == 0 {
		c.Ingest.BufferSize = DefaultBufferSize
	}

	// Dedup defaults
	if c.Dedup.BatchSize == 0 {
		c.Dedup.BatchSize = DefaultDedupBatchSize
	}
	if c.Dedup.MaxBatches == 0 {
		c.Dedup.MaxBatches = DefaultDedupMaxBatches
	}

	// Rollup defaults
	if c.Rollup.Lookback == 0 {
		c.Rollup.Lookback = DefaultRollupLookback
	}
	if c.Rollup.MoverRetention == 0 {
		c.Rollup.MoverRetention = DefaultMoverRetention
	}

	// Quality defaults
	if c.Quality.BronzeFreshness == 0 {
		c.Quality.BronzeFreshness = DefaultBronzeFreshness
	}
	if c.Quality.SilverFreshness == 0 {
		c.Quality.SilverFreshness = DefaultSilverFreshness
	}
	if c.Quality.BronzeVolumeWindow == 0 {
		c.Quality.BronzeVolumeWindow = DefaultBronzeVolumeWindow
	}
	if c.Quality.SilverVolumeWindow == 0 {
		c.Quality.SilverVolumeWindow = DefaultSilverVolumeWindow
	}
	if c.Quality.MaxQuarantineRate == 0 {
		c.Quality.MaxQuarantineRate = DefaultMaxQuarantineRate
	}

	// Schedule defaults
	if c.Schedule.Interval == 0 {
		c.Schedule.Interval = DefaultScheduleInterval
	}
	if c.Schedule.Retries == 0 {
		c.Schedule.Retries = DefaultScheduleRetries
	}
	if c.Schedule.RetryDelay == 0 {
		c.Schedule.RetryDelay = DefaultScheduleRetryDelay
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

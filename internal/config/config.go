package config

import "time"

// Config is the root configuration shared by the tradeflow commands.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Log      LogConfig      `yaml:"log"`
	Feed     FeedConfig     `yaml:"feed"`
	Database DBConfig       `yaml:"database"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Dedup    DedupConfig    `yaml:"dedup"`
	Rollup   RollupConfig   `yaml:"rollup"`
	Quality  QualityConfig  `yaml:"quality"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// InstanceConfig identifies this process in logs and metrics.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// FeedConfig holds market-data websocket settings.
type FeedConfig struct {
	WSURL              string        `yaml:"ws_url"`
	Products           []string      `yaml:"products"`
	Channel            string        `yaml:"channel"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	PingTimeout        time.Duration `yaml:"ping_timeout"` // No pong within this window marks the connection stale
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	MessageBuffer      int           `yaml:"message_buffer"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// IngestConfig holds raw-event batcher settings.
type IngestConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"` // Events held in memory before new ones are dropped
}

// DedupConfig holds validation/deduplication paging.
type DedupConfig struct {
	BatchSize  int `yaml:"batch_size"`
	MaxBatches int `yaml:"max_batches"` // Pages per invocation
}

// RollupConfig holds aggregation settings.
type RollupConfig struct {
	Lookback       time.Duration `yaml:"lookback"`        // Re-scan window behind the watermark
	MoverRetention time.Duration `yaml:"mover_retention"` // Top-mover snapshots older than this are purged
}

// QualityConfig holds check thresholds.
type QualityConfig struct {
	BronzeFreshness    time.Duration `yaml:"bronze_freshness"`
	SilverFreshness    time.Duration `yaml:"silver_freshness"`
	BronzeVolumeWindow time.Duration `yaml:"bronze_volume_window"`
	SilverVolumeWindow time.Duration `yaml:"silver_volume_window"`
	MaxQuarantineRate  float64       `yaml:"max_quarantine_rate"`
}

// ScheduleConfig controls the pipeline loop.
type ScheduleConfig struct {
	Interval   time.Duration `yaml:"interval"`
	Retries    int           `yaml:"retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	RunQuality *bool         `yaml:"run_quality"` // nil means true
}

// QualityEnabled reports whether the quality stage runs after each pass.
func (s ScheduleConfig) QualityEnabled() bool {
	return s.RunQuality == nil || *s.RunQuality
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

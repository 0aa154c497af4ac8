package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	if c.Feed.WSURL == "" {
		return errors.New("feed.ws_url is required")
	}
	if len(c.Feed.Products) == 0 {
		return errors.New("feed.products is required")
	}
	for i, p := range c.Feed.Products {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("feed.products[%d] is empty", i)
		}
	}
	if c.Feed.ReconnectMaxDelay < c.Feed.ReconnectBaseDelay {
		return fmt.Errorf("feed.reconnect_max_delay (%v) cannot be less than reconnect_base_delay (%v)",
			c.Feed.ReconnectMaxDelay, c.Feed.ReconnectBaseDelay)
	}

	if err := c.Database.validate("database"); err != nil {
		return err
	}

	if c.Ingest.BatchSize < 1 {
		return errors.New("ingest.batch_size must be >= 1")
	}
	if c.Ingest.BufferSize < c.Ingest.BatchSize {
		return fmt.Errorf("ingest.buffer_size (%d) cannot be less than batch_size (%d)",
			c.Ingest.BufferSize, c.Ingest.BatchSize)
	}
	if c.Ingest.FlushInterval <= 0 {
		return errors.New("ingest.flush_interval must be > 0")
	}

	if c.Dedup.BatchSize < 1 {
		return errors.New("dedup.batch_size must be >= 1")
	}
	if c.Dedup.MaxBatches < 1 {
		return errors.New("dedup.max_batches must be >= 1")
	}

	if c.Rollup.Lookback < 0 {
		return errors.New("rollup.lookback must be >= 0")
	}

	if c.Quality.MaxQuarantineRate <= 0 || c.Quality.MaxQuarantineRate > 1 {
		return fmt.Errorf("quality.max_quarantine_rate must be in (0, 1], got %v", c.Quality.MaxQuarantineRate)
	}

	if c.Schedule.Interval <= 0 {
		return errors.New("schedule.interval must be > 0")
	}
	if c.Schedule.Retries < 0 {
		return errors.New("schedule.retries must be >= 0")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

// ParseLevel maps a log.level string to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown level %q", s)
}

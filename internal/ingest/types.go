package ingest

import "time"

// Config contains configuration for the Batcher.
type Config struct {
	// BatchSize is the number of events to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// BufferSize bounds the events held in memory, including a retained batch.
	BufferSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
		BufferSize:    10000,
	}
}

// Stats contains Batcher counters.
type Stats struct {
	Received int64 // Frames consumed from the feed
	Skipped  int64 // Control frames and non-trade types
	Invalid  int64 // Frames that were not JSON objects or cannot be stored
	Rejected int64 // Events the store refused as invalid data
	Dropped  int64 // Trade events rejected by a full buffer
	Inserted int64 // Events appended to the store
	Flushes  int64
	Errors   int64 // Failed flushes
	Pending  int   // Events waiting to be flushed
}

// MatchType is the feed message type carrying a trade.
const MatchType = "match"

// Feed control frames, skipped without a debug log.
var controlTypes = map[string]bool{
	"subscriptions": true,
	"heartbeat":     true,
	"error":         true,
}

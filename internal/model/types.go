package model

import (
	"encoding/json"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Enumerations
// -----------------------------------------------------------------------------

// Side is the aggressor side reported by the feed.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is one of the accepted sides.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// QuarantineReason classifies why a raw event was rejected.
type QuarantineReason string

const (
	ReasonMissingTradeID   QuarantineReason = "missing_trade_id"
	ReasonMissingPrice     QuarantineReason = "missing_price"
	ReasonMissingSize      QuarantineReason = "missing_size"
	ReasonMissingProductID QuarantineReason = "missing_product_id"
	ReasonInvalidSide      QuarantineReason = "invalid_side"
	ReasonUnknown          QuarantineReason = "unknown"
)

// Granularity is an aggregation bucket width.
type Granularity string

const (
	Granularity1m Granularity = "1m"
	Granularity1h Granularity = "1h"
	Granularity1d Granularity = "1d"
)

// Duration returns the bucket width.
func (g Granularity) Duration() time.Duration {
	switch g {
	case Granularity1m:
		return time.Minute
	case Granularity1h:
		return time.Hour
	case Granularity1d:
		return 24 * time.Hour
	}
	return 0
}

// Truncate returns the start of the UTC bucket containing t.
func (g Granularity) Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(g.Duration())
}

// MoverPeriod is a trailing window for top-mover snapshots.
type MoverPeriod string

const (
	Period1h  MoverPeriod = "1h"
	Period24h MoverPeriod = "24h"
	Period7d  MoverPeriod = "7d"
)

// MoverPeriods lists the windows refreshed on every rollup.
var MoverPeriods = []MoverPeriod{Period1h, Period24h, Period7d}

// Duration returns the window length.
func (p MoverPeriod) Duration() time.Duration {
	switch p {
	case Period1h:
		return time.Hour
	case Period24h:
		return 24 * time.Hour
	case Period7d:
		return 7 * 24 * time.Hour
	}
	return 0
}

// RunStatus is the lifecycle state of a PipelineRun.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// -----------------------------------------------------------------------------
// Bronze / Silver
// -----------------------------------------------------------------------------

// RawEvent is a feed message exactly as received.
type RawEvent struct {
	ID                 int64           // Surrogate key, assigned on append
	ArrivalTime        time.Time       // Local receive time
	SourceChannel      string          // Feed channel, e.g. "matches"
	Payload            json.RawMessage // Exact payload bytes
	PayloadFingerprint string          // SHA-1 hex of the canonicalized payload
	EventTime          *time.Time      // Payload "time" field, nil if absent
}

// Trade is a validated, deduplicated trade.
type Trade struct {
	TradeID     int64 // Natural key
	ProductID   string
	Price       decimal.Decimal
	Size        decimal.Decimal
	Side        Side
	TradeTime   time.Time
	MakerRef    string // maker_order_id
	TakerRef    string // taker_order_id
	IngestTime  time.Time
	SourceRawID int64 // Raw event that produced this row
}

// Notional returns price × size.
func (t Trade) Notional() decimal.Decimal {
	return t.Price.Mul(t.Size)
}

// -----------------------------------------------------------------------------
// Storage limits
// -----------------------------------------------------------------------------

// Prices, sizes and vwap are stored as NUMERIC(20,8); percentages as NUMERIC(12,4).
const (
	AmountScale = 8
	PctScale    = 4
)

var (
	amountLimit = decimal.New(1, 20-AmountScale)

	// MaxPct is the largest storable percentage.
	MaxPct = decimal.New(999999999999, -PctScale)
)

// AmountFits reports whether d can be stored as a price or size without
// overflow or rounding.
func AmountFits(d decimal.Decimal) bool {
	return d.Abs().LessThan(amountLimit) && d.Equal(d.Truncate(AmountScale))
}

// ClampPct limits a percentage to ±MaxPct.
func ClampPct(d decimal.Decimal) decimal.Decimal {
	switch {
	case d.GreaterThan(MaxPct):
		return MaxPct
	case d.LessThan(MaxPct.Neg()):
		return MaxPct.Neg()
	}
	return d
}

var (
	errPayloadUTF8 = errors.New("payload is not valid UTF-8")
	errPayloadNUL  = errors.New("payload contains a \\u0000 escape")
	errPayloadSurr = errors.New("payload contains an unpaired surrogate escape")
)

// CheckPayload reports whether a JSON payload can be stored as jsonb text:
// valid UTF-8, no \u0000 escapes and no unpaired surrogate escapes.
func CheckPayload(payload []byte) error {
	if !utf8.Valid(payload) {
		return errPayloadUTF8
	}
	for i := 0; i < len(payload); i++ {
		if payload[i] != '\\' || i+1 >= len(payload) {
			continue
		}
		if payload[i+1] != 'u' {
			i++ // Skip the escaped byte, including a second backslash
			continue
		}
		r, ok := hex4(payload[i+2:])
		if !ok {
			i++
			continue
		}
		switch {
		case r == 0:
			return errPayloadNUL
		case r >= 0xD800 && r <= 0xDBFF:
			next := payload[i+6:]
			if len(next) < 6 || next[0] != '\\' || next[1] != 'u' {
				return errPayloadSurr
			}
			lo, ok := hex4(next[2:])
			if !ok || lo < 0xDC00 || lo > 0xDFFF {
				return errPayloadSurr
			}
			i += 11
		case r >= 0xDC00 && r <= 0xDFFF:
			return errPayloadSurr
		default:
			i += 5
		}
	}
	return nil
}

func hex4(b []byte) (rune, bool) {
	if len(b) < 4 {
		return 0, false
	}
	var r rune
	for _, c := range b[:4] {
		r <<= 4
		switch {
		case c >= '0' && c <= '9':
			r |= rune(c - '0')
		case c >= 'a' && c <= 'f':
			r |= rune(c-'a') + 10
		case c >= 'A' && c <= 'F':
			r |= rune(c-'A') + 10
		default:
			return 0, false
		}
	}
	return r, true
}

// QuarantinedRecord is a raw event that failed validation.
type QuarantinedRecord struct {
	SourceRawID    int64
	Reason         QuarantineReason
	Payload        json.RawMessage
	QuarantineTime time.Time
}

// -----------------------------------------------------------------------------
// Gold
// -----------------------------------------------------------------------------

// Candle is an OHLCV row for one product and bucket.
type Candle struct {
	ProductID   string
	Granularity Granularity
	BucketStart time.Time
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
	TradeCount  int64
	VWAP        decimal.NullDecimal // Invalid when volume is zero
	UpdatedAt   time.Time
}

// DailyKPI summarises one product for one UTC day.
type DailyKPI struct {
	ProductID      string
	Day            time.Time // Midnight UTC
	Trades         int64
	Volume         decimal.Decimal
	VWAP           decimal.NullDecimal
	High           decimal.Decimal
	Low            decimal.Decimal
	Open           decimal.Decimal
	Close          decimal.Decimal
	PriceChangePct decimal.Decimal
	UpdatedAt      time.Time
}

// TopMoverSnapshot is one product's change over a trailing window.
type TopMoverSnapshot struct {
	SnapshotTime   time.Time
	ProductID      string
	Period         MoverPeriod
	PriceChangePct decimal.Decimal
	Volume         decimal.Decimal
	TradeCount     int64
}

// -----------------------------------------------------------------------------
// Bookkeeping
// -----------------------------------------------------------------------------

// PipelineRun records one execution of a stage.
type PipelineRun struct {
	RunID            uuid.UUID
	PipelineName     string
	StartTime        time.Time
	EndTime          *time.Time
	Status           RunStatus
	RecordsProcessed int64
	ErrorMessage     string
}

// DQCheckResult is the outcome of one quality check evaluation.
type DQCheckResult struct {
	CheckTime time.Time
	CheckName string
	CheckType string
	TableName string
	Passed    bool
	Details   map[string]any
	RunID     string
}

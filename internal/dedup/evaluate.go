package dedup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/tradeflow/internal/model"
)

var (
	errMalformed  = errors.New("malformed field")
	errOutOfRange = errors.New("amount out of storable range")
)

// FlexInt64 can unmarshal from either a JSON string or number.
// The feed sends trade ids as numbers; replays and other producers may quote them.
type FlexInt64 int64

func (f *FlexInt64) UnmarshalJSON(data []byte) error {
	// Try as number first
	var i int64
	if err := json.Unmarshal(data, &i); err == nil {
		*f = FlexInt64(i)
		return nil
	}

	// Try as string
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return err
	}
	*f = FlexInt64(i)
	return nil
}

// FlexDecimal can unmarshal a decimal from either a JSON string or number.
type FlexDecimal struct {
	decimal.Decimal
}

func (f *FlexDecimal) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	f.Decimal = d
	return nil
}

// Outcome is the result of evaluating one raw payload.
type Outcome struct {
	Trade  model.Trade // Valid when Reason is empty
	Reason model.QuarantineReason
}

// Valid reports whether the payload produced a trade.
func (o Outcome) Valid() bool { return o.Reason == "" }

// Evaluate validates a raw payload and builds its Trade. The returned trade has
// no IngestTime or SourceRawID; the caller stamps them.
func Evaluate(payload []byte) Outcome {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return Outcome{Reason: model.ReasonUnknown}
	}

	// Presence checks in fixed precedence
	switch {
	case absent(fields["trade_id"]):
		return Outcome{Reason: model.ReasonMissingTradeID}
	case absent(fields["price"]):
		return Outcome{Reason: model.ReasonMissingPrice}
	case absent(fields["size"]):
		return Outcome{Reason: model.ReasonMissingSize}
	case absent(fields["product_id"]):
		return Outcome{Reason: model.ReasonMissingProductID}
	}

	var side string
	if err := json.Unmarshal(fields["side"], &side); err != nil || !model.Side(side).Valid() {
		return Outcome{Reason: model.ReasonInvalidSide}
	}

	trade, err := buildTrade(fields, model.Side(side))
	if err != nil {
		return Outcome{Reason: model.ReasonUnknown}
	}
	return Outcome{Trade: trade}
}

// absent reports whether a field is missing, null or an empty string.
func absent(raw json.RawMessage) bool {
	v := bytes.TrimSpace(raw)
	return len(v) == 0 || bytes.Equal(v, []byte("null")) || bytes.Equal(v, []byte(`""`))
}

func buildTrade(fields map[string]json.RawMessage, side model.Side) (model.Trade, error) {
	var (
		id          FlexInt64
		price, size FlexDecimal
		productID   string
		ts          string
	)

	if err := json.Unmarshal(fields["trade_id"], &id); err != nil {
		return model.Trade{}, fmt.Errorf("trade_id: %w", errMalformed)
	}
	if err := json.Unmarshal(fields["price"], &price); err != nil {
		return model.Trade{}, fmt.Errorf("price: %w", errMalformed)
	}
	if err := json.Unmarshal(fields["size"], &size); err != nil {
		return model.Trade{}, fmt.Errorf("size: %w", errMalformed)
	}
	if err := json.Unmarshal(fields["product_id"], &productID); err != nil {
		return model.Trade{}, fmt.Errorf("product_id: %w", errMalformed)
	}
	if err := json.Unmarshal(fields["time"], &ts); err != nil {
		return model.Trade{}, fmt.Errorf("time: %w", errMalformed)
	}
	tradeTime, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return model.Trade{}, fmt.Errorf("time: %w", errMalformed)
	}

	// Anything past NUMERIC(20,8) would overflow or be rounded on insert
	if !model.AmountFits(price.Decimal) {
		return model.Trade{}, fmt.Errorf("price: %w", errOutOfRange)
	}
	if !model.AmountFits(size.Decimal) {
		return model.Trade{}, fmt.Errorf("size: %w", errOutOfRange)
	}

	return model.Trade{
		TradeID:   int64(id),
		ProductID: productID,
		Price:     price.Decimal,
		Size:      size.Decimal,
		Side:      side,
		TradeTime: tradeTime.UTC(),
		MakerRef:  optionalString(fields["maker_order_id"]),
		TakerRef:  optionalString(fields["taker_order_id"]),
	}, nil
}

func optionalString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

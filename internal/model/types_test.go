package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestSideValid(t *testing.T) {
	tests := []struct {
		side Side
		want bool
	}{
		{SideBuy, true},
		{SideSell, true},
		{"hold", false},
		{"BUY", false}, // Case-sensitive
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.side), func(t *testing.T) {
			if got := tt.side.Valid(); got != tt.want {
				t.Errorf("Side(%q).Valid() = %v, want %v", tt.side, got, tt.want)
			}
		})
	}
}

func TestGranularityTruncate(t *testing.T) {
	ts := time.Date(2024, 1, 15, 9, 37, 42, 500, time.UTC)

	tests := []struct {
		g    Granularity
		want time.Time
	}{
		{Granularity1m, time.Date(2024, 1, 15, 9, 37, 0, 0, time.UTC)},
		{Granularity1h, time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)},
		{Granularity1d, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(string(tt.g), func(t *testing.T) {
			if got := tt.g.Truncate(ts); !got.Equal(tt.want) {
				t.Errorf("Truncate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGranularityTruncate_NonUTC(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*60*60)
	ts := time.Date(2024, 1, 15, 2, 30, 0, 0, loc) // 2024-01-14 21:30 UTC

	got := Granularity1d.Truncate(ts)
	want := time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Truncate() = %v, want %v", got, want)
	}
	if got.Location() != time.UTC {
		t.Errorf("Truncate() location = %v, want UTC", got.Location())
	}
}

func TestMoverPeriodDuration(t *testing.T) {
	if got := Period7d.Duration(); got != 168*time.Hour {
		t.Errorf("Period7d.Duration() = %v, want 168h", got)
	}
	if got := MoverPeriod("30d").Duration(); got != 0 {
		t.Errorf("unknown period Duration() = %v, want 0", got)
	}
	if len(MoverPeriods) != 3 {
		t.Errorf("len(MoverPeriods) = %d, want 3", len(MoverPeriods))
	}
}

func TestTradeNotional(t *testing.T) {
	tr := Trade{
		Price: decimal.RequireFromString("100.25"),
		Size:  decimal.RequireFromString("0.5"),
	}
	if got := tr.Notional(); !got.Equal(decimal.RequireFromString("50.125")) {
		t.Errorf("Notional() = %s, want 50.125", got)
	}
}

func TestAmountFits(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"100", true},
		{"-5", true},
		{"0.00000001", true},
		{"100.0000000000", true},
		{"999999999999.99999999", true},
		{"1000000000000", false},
		{"-1000000000000", false},
		{"1e15", false},
		{"0.000000001", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := AmountFits(decimal.RequireFromString(tt.in)); got != tt.want {
				t.Errorf("AmountFits(%s) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestClampPct(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"12.5", "12.5"},
		{"99999999.9999", "99999999.9999"},
		{"99999999999900", "99999999.9999"},
		{"-100000000", "-99999999.9999"},
	}

	for _, tt := range tests {
		got := ClampPct(decimal.RequireFromString(tt.in))
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("ClampPct(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestCheckPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"plain", `{"product_id":"BTC-USD"}`, false},
		{"non-ascii", `{"a":"é"}`, false},
		{"unicode escape", `{"a":"\u00e9"}`, false},
		{"surrogate pair", `{"a":"\ud83d\ude00"}`, false},
		{"escaped backslash", `{"a":"\\u0000"}`, false},
		{"nul escape", `{"a":"\u0000"}`, true},
		{"lone high surrogate", `{"a":"\ud800"}`, true},
		{"high then non-low", `{"a":"\ud800A"}`, true},
		{"lone low surrogate", `{"a":"\udfff"}`, true},
		{"invalid utf8", "{\"a\":\"\xff\"}", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckPayload([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckPayload(%s) error = %v, wantErr %v", tt.payload, err, tt.wantErr)
			}
		})
	}
}

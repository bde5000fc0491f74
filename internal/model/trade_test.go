package model

import (
	"errors"
	"math/big"
	"testing"
)

func TestParseTradeType(t *testing.T) {
	for _, valid := range []string{"BuyYes", "BuyNo", "SellYes", "SellNo"} {
		if _, err := ParseTradeType(valid); err != nil {
			t.Errorf("ParseTradeType(%q) failed: %v", valid, err)
		}
	}
	if _, err := ParseTradeType("Redeem"); err == nil {
		t.Error("ParseTradeType(Redeem) must fail")
	}
}

func TestTradeTypeSide(t *testing.T) {
	tests := []struct {
		tt    TradeType
		side  Outcome
		isBuy bool
	}{
		{TradeBuyYes, OutcomeYes, true},
		{TradeBuyNo, OutcomeNo, true},
		{TradeSellYes, OutcomeYes, false},
		{TradeSellNo, OutcomeNo, false},
	}
	for _, tt := range tests {
		if got := tt.tt.Side(); got != tt.side {
			t.Errorf("%s.Side() = %v, want %v", tt.tt, got, tt.side)
		}
		if got := tt.tt.IsBuy(); got != tt.isBuy {
			t.Errorf("%s.IsBuy() = %v, want %v", tt.tt, got, tt.isBuy)
		}
	}
}

func TestParseTimeframe(t *testing.T) {
	tests := []struct {
		input   string
		want    Timeframe
		wantErr error
	}{
		{"5m", Timeframe5m, nil},
		{"1h", Timeframe1h, nil},
		{"1d", Timeframe1d, nil},
		{" 1H ", Timeframe1h, nil},
		{"15m", "", ErrInvalidTimeframe},
		{"", "", ErrInvalidTimeframe},
	}
	for _, tt := range tests {
		got, err := ParseTimeframe(tt.input)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("ParseTimeframe(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTimeframe(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestBucketStart(t *testing.T) {
	tests := []struct {
		tf   Timeframe
		ts   int64
		want int64
	}{
		{Timeframe5m, 1_700_000_000, 1_699_999_800},
		{Timeframe5m, 1_699_999_800, 1_699_999_800}, // exact boundary
		{Timeframe1h, 1_700_000_000, 1_699_999_200},
		{Timeframe1d, 1_700_000_000, 1_699_920_000},
	}
	for _, tt := range tests {
		if got := tt.tf.BucketStart(tt.ts); got != tt.want {
			t.Errorf("%s.BucketStart(%d) = %d, want %d", tt.tf, tt.ts, got, tt.want)
		}
	}
}

func TestCandleAggregation(t *testing.T) {
	c := NewCandle("0xmarket", Timeframe5m, 1_700_000_000, 520_000, big.NewInt(100_000_000))

	if c.BucketStart != 1_699_999_800 {
		t.Fatalf("BucketStart = %d, want 1699999800", c.BucketStart)
	}
	if c.OpenYes != 520_000 || c.CloseYes != 520_000 || c.HighYes != 520_000 || c.LowYes != 520_000 {
		t.Fatal("first trade must set the whole YES OHLC")
	}
	if c.OpenNo != 480_000 {
		t.Fatalf("OpenNo = %d, want complement 480000", c.OpenNo)
	}

	c.Apply(510_000, big.NewInt(50_000_000))
	c.Apply(560_000, big.NewInt(25_000_000))

	if c.OpenYes != 520_000 {
		t.Errorf("OpenYes changed to %d", c.OpenYes)
	}
	if c.HighYes != 560_000 || c.LowYes != 510_000 || c.CloseYes != 560_000 {
		t.Errorf("YES OHLC = %d/%d/%d, want 560000/510000/560000", c.HighYes, c.LowYes, c.CloseYes)
	}
	// NO mirrors YES: its high is the complement of the YES low.
	if c.HighNo != 490_000 || c.LowNo != 440_000 || c.CloseNo != 440_000 {
		t.Errorf("NO OHLC = %d/%d/%d, want 490000/440000/440000", c.HighNo, c.LowNo, c.CloseNo)
	}
	if c.VolumeUSDC.Cmp(big.NewInt(175_000_000)) != 0 {
		t.Errorf("VolumeUSDC = %s, want 175000000", c.VolumeUSDC)
	}
	if c.Trades != 3 {
		t.Errorf("Trades = %d, want 3", c.Trades)
	}
}

package model

import (
	"errors"
	"math/big"
	"strings"
	"time"
)

// TradeType tags a trade record with its direction and side.
type TradeType string

const (
	TradeBuyYes  TradeType = "BuyYes"
	TradeBuyNo   TradeType = "BuyNo"
	TradeSellYes TradeType = "SellYes"
	TradeSellNo  TradeType = "SellNo"
)

// ParseTradeType parses the wire form of a trade type.
func ParseTradeType(s string) (TradeType, error) {
	switch TradeType(s) {
	case TradeBuyYes, TradeBuyNo, TradeSellYes, TradeSellNo:
		return TradeType(s), nil
	default:
		return "", errors.New("invalid trade type: " + s)
	}
}

// Side returns the outcome side the trade touched.
func (t TradeType) Side() Outcome {
	if t == TradeBuyYes || t == TradeSellYes {
		return OutcomeYes
	}
	return OutcomeNo
}

// IsBuy reports whether collateral entered the pool.
func (t TradeType) IsBuy() bool {
	return t == TradeBuyYes || t == TradeBuyNo
}

func (t TradeType) String() string { return string(t) }

// TradeRecord is one indexed on-chain trade, keyed by
// (market, timestamp). PriceE6 is the effective fill price of the
// traded side in 6-decimal fixed point.
type TradeRecord struct {
	Market      string    `json:"market"`
	User        string    `json:"user"`
	Type        TradeType `json:"type"`
	USDCAmount  *big.Int  `json:"usdc_amount"`
	TokenAmount *big.Int  `json:"token_amount"`
	PriceE6     int64     `json:"price_e6"`
	Timestamp   int64     `json:"timestamp"`
	TxHash      string    `json:"tx_hash"`
	BlockNumber uint64    `json:"block_number"`
}

// HolderPosition is a user's aggregated outcome-token balance in one
// market, maintained by the indexer.
type HolderPosition struct {
	Market    string   `json:"market"`
	User      string   `json:"user"`
	YesTokens *big.Int `json:"yes_tokens"`
	NoTokens  *big.Int `json:"no_tokens"`
	UpdatedAt int64    `json:"updated_at"`
}

// Timeframe is a candle bucket width.
type Timeframe string

const (
	Timeframe5m Timeframe = "5m"
	Timeframe1h Timeframe = "1h"
	Timeframe1d Timeframe = "1d"
)

// Timeframes lists every supported bucket width.
func Timeframes() []Timeframe {
	return []Timeframe{Timeframe5m, Timeframe1h, Timeframe1d}
}

// ParseTimeframe parses a timeframe string.
func ParseTimeframe(s string) (Timeframe, error) {
	switch Timeframe(strings.ToLower(strings.TrimSpace(s))) {
	case Timeframe5m:
		return Timeframe5m, nil
	case Timeframe1h:
		return Timeframe1h, nil
	case Timeframe1d:
		return Timeframe1d, nil
	default:
		return "", ErrInvalidTimeframe
	}
}

// Seconds returns the bucket width in seconds.
func (tf Timeframe) Seconds() int64 {
	switch tf {
	case Timeframe5m:
		return 300
	case Timeframe1h:
		return 3600
	case Timeframe1d:
		return 86400
	default:
		return 0
	}
}

// BucketStart floors a unix timestamp to the containing bucket:
// floor(ts / width) * width.
func (tf Timeframe) BucketStart(ts int64) int64 {
	w := tf.Seconds()
	if w == 0 {
		return ts
	}
	return ts / w * w
}

func (tf Timeframe) String() string { return string(tf) }

// Candle aggregates YES and NO prices (6-decimal fixed point) over
// one timeframe bucket, keyed by (market, timeframe, bucketStart).
type Candle struct {
	Market      string    `json:"market"`
	Timeframe   Timeframe `json:"timeframe"`
	BucketStart int64     `json:"bucket_start"`
	OpenYes     int64     `json:"open_yes"`
	HighYes     int64     `json:"high_yes"`
	LowYes      int64     `json:"low_yes"`
	CloseYes    int64     `json:"close_yes"`
	OpenNo      int64     `json:"open_no"`
	HighNo      int64     `json:"high_no"`
	LowNo       int64     `json:"low_no"`
	CloseNo     int64     `json:"close_no"`
	VolumeUSDC  *big.Int  `json:"volume_usdc"`
	Trades      int64     `json:"trades"`
}

// PriceE6Denom converts between E6 prices and probabilities.
const PriceE6Denom = 1_000_000

// ComplementPriceE6 returns the other side's price: the two sides of
// a binary market always sum to one.
func ComplementPriceE6(p int64) int64 {
	return PriceE6Denom - p
}

// NewCandle opens a bucket from its first trade.
func NewCandle(market string, tf Timeframe, ts int64, priceYesE6 int64, volume *big.Int) *Candle {
	priceNo := ComplementPriceE6(priceYesE6)
	v := new(big.Int)
	if volume != nil {
		v.Set(volume)
	}
	return &Candle{
		Market:      market,
		Timeframe:   tf,
		BucketStart: tf.BucketStart(ts),
		OpenYes:     priceYesE6,
		HighYes:     priceYesE6,
		LowYes:      priceYesE6,
		CloseYes:    priceYesE6,
		OpenNo:      priceNo,
		HighNo:      priceNo,
		LowNo:       priceNo,
		CloseNo:     priceNo,
		VolumeUSDC:  v,
		Trades:      1,
	}
}

// Apply folds one more trade into the bucket.
func (c *Candle) Apply(priceYesE6 int64, volume *big.Int) {
	if priceYesE6 > c.HighYes {
		c.HighYes = priceYesE6
	}
	if priceYesE6 < c.LowYes {
		c.LowYes = priceYesE6
	}
	c.CloseYes = priceYesE6

	priceNo := ComplementPriceE6(priceYesE6)
	if priceNo > c.HighNo {
		c.HighNo = priceNo
	}
	if priceNo < c.LowNo {
		c.LowNo = priceNo
	}
	c.CloseNo = priceNo

	if volume != nil {
		c.VolumeUSDC.Add(c.VolumeUSDC, volume)
	}
	c.Trades++
}

// Time returns the bucket start as a time.Time.
func (c *Candle) Time() time.Time {
	return time.Unix(c.BucketStart, 0).UTC()
}

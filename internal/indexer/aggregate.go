package indexer

import (
	"math/big"
	"sort"

	"github.com/duomarket/duomarket/internal/model"
)

// PositionDelta is the net token movement for one (market, user) pair
// within a batch. The store adds it to the persisted position.
type PositionDelta struct {
	Market    string
	User      string
	YesDelta  *big.Int
	NoDelta   *big.Int
	UpdatedAt int64
}

// BatchFromTrades aggregates already-decoded trades into a batch. The
// subgraph backfill path uses it to seed history before log replay
// takes over at nextBlock.
func BatchFromTrades(market string, trades []model.TradeRecord, nextBlock uint64) Batch {
	return Batch{
		Market:    market,
		Trades:    trades,
		Deltas:    positionDeltas(trades),
		Candles:   buildCandles(market, trades),
		NextBlock: nextBlock,
	}
}

// positionDeltas nets each user's token flow across the batch. Buys
// credit the traded side, sells debit it.
func positionDeltas(trades []model.TradeRecord) []PositionDelta {
	byUser := make(map[string]*PositionDelta)
	for _, t := range trades {
		d, ok := byUser[t.User]
		if !ok {
			d = &PositionDelta{
				Market:   t.Market,
				User:     t.User,
				YesDelta: new(big.Int),
				NoDelta:  new(big.Int),
			}
			byUser[t.User] = d
		}

		amount := t.TokenAmount
		if !t.Type.IsBuy() {
			amount = new(big.Int).Neg(amount)
		}
		if t.Type.Side() == model.OutcomeYes {
			d.YesDelta.Add(d.YesDelta, amount)
		} else {
			d.NoDelta.Add(d.NoDelta, amount)
		}
		if t.Timestamp > d.UpdatedAt {
			d.UpdatedAt = t.Timestamp
		}
	}

	deltas := make([]PositionDelta, 0, len(byUser))
	for _, d := range byUser {
		deltas = append(deltas, *d)
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].User < deltas[j].User })
	return deltas
}

// buildCandles folds the batch's trades into every supported timeframe.
// Trades arrive in log order, so open/close within a bucket are exact.
// Candles track the YES price; the trade's own price is complemented
// for NO-side fills.
func buildCandles(market string, trades []model.TradeRecord) []*model.Candle {
	type key struct {
		tf     model.Timeframe
		bucket int64
	}
	buckets := make(map[key]*model.Candle)

	for _, t := range trades {
		priceYes := t.PriceE6
		if t.Type.Side() == model.OutcomeNo {
			priceYes = model.ComplementPriceE6(t.PriceE6)
		}

		for _, tf := range model.Timeframes() {
			k := key{tf, tf.BucketStart(t.Timestamp)}
			if c, ok := buckets[k]; ok {
				c.Apply(priceYes, t.USDCAmount)
			} else {
				buckets[k] = model.NewCandle(market, tf, t.Timestamp, priceYes, t.USDCAmount)
			}
		}
	}

	candles := make([]*model.Candle, 0, len(buckets))
	for _, c := range buckets {
		candles = append(candles, c)
	}
	sort.Slice(candles, func(i, j int) bool {
		if candles[i].Timeframe != candles[j].Timeframe {
			return candles[i].Timeframe < candles[j].Timeframe
		}
		return candles[i].BucketStart < candles[j].BucketStart
	})
	return candles
}

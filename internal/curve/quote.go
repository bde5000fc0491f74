package curve

import "math/big"

// Request describes one trade to price. For buys AmountIn is a
// 6-decimal collateral amount; for sells it is an 18-decimal
// outcome-token amount. SlippageBps is the tolerance the user chose;
// the engine may raise it, never silently lower it.
type Request struct {
	Direction   Direction
	Side        Side
	AmountIn    *big.Int
	SlippageBps uint32
}

// Result is one immutable quote. AmountOut and MinimumAmountOut are
// 18-decimal tokens for buys and 6-decimal collateral for sells.
// PostTradePriceE18 is the traded side's spot price after the trade.
type Result struct {
	AmountOut              *big.Int
	PostTradePriceE18      *big.Int
	PriceImpactBps         uint64
	RecommendedSlippageBps uint32
	EffectiveSlippageBps   uint32
	MinimumAmountOut       *big.Int
}

// SlippagePolicy controls the auto-suggested slippage: price impact
// plus BufferBps, clamped into [MinBps, MaxBps]. The defaults are
// product policy, not contract constants, so callers may tune them.
type SlippagePolicy struct {
	BufferBps uint32
	MinBps    uint32
	MaxBps    uint32
}

// DefaultSlippagePolicy returns the stock policy: impact + 0.30%,
// clamped between 0.1% and 10%.
func DefaultSlippagePolicy() SlippagePolicy {
	return SlippagePolicy{BufferBps: 30, MinBps: 10, MaxBps: 1_000}
}

// Recommend derives the suggested slippage for a quote with the given
// price impact.
func (p SlippagePolicy) Recommend(priceImpactBps uint64) uint32 {
	// Saturated impact values would wrap when the buffer is added.
	if priceImpactBps >= uint64(p.MaxBps) {
		return p.MaxBps
	}
	v := priceImpactBps + uint64(p.BufferBps)
	if v < uint64(p.MinBps) {
		v = uint64(p.MinBps)
	}
	if v > uint64(p.MaxBps) {
		v = uint64(p.MaxBps)
	}
	return uint32(v)
}

// Quote prices one trade against a curve snapshot. It is a pure
// function: no I/O, no retained state, safe to call concurrently with
// distinct snapshots. Every error is one of the package sentinels and
// is recoverable at the call boundary.
func Quote(state *State, req Request, policy SlippagePolicy) (*Result, error) {
	if err := state.Validate(); err != nil {
		return nil, err
	}
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.SlippageBps > BpsDenom {
		return nil, ErrInvalidAmount
	}

	prePrice := spotPrice(state.boosted(req.Side), state.boosted(req.Side.Opposite()))

	var (
		amountOut, newSame, newOpposite *big.Int
		err                             error
	)
	switch req.Direction {
	case DirectionBuy:
		amountOut, newSame, newOpposite, err = quoteBuy(state, req.Side, req.AmountIn)
	case DirectionSell:
		amountOut, newSame, newOpposite, err = quoteSell(state, req.Side, req.AmountIn)
	default:
		return nil, ErrInvalidAmount
	}
	if err != nil {
		return nil, err
	}

	postPrice := spotPrice(newSame, newOpposite)
	impactBps := priceImpactBps(prePrice, postPrice)

	recommended := policy.Recommend(impactBps)
	effective := req.SlippageBps
	if recommended > effective {
		effective = recommended
	}

	return &Result{
		AmountOut:              amountOut,
		PostTradePriceE18:      postPrice,
		PriceImpactBps:         impactBps,
		RecommendedSlippageBps: recommended,
		EffectiveSlippageBps:   effective,
		MinimumAmountOut:       applySlippageFloor(amountOut, effective),
	}, nil
}

// priceImpactBps is the relative price move in basis points, rounded
// up so the impact shown (and the slippage derived from it) is never
// an underestimate.
func priceImpactBps(pre, post *big.Int) uint64 {
	delta := new(big.Int).Sub(post, pre)
	delta.Abs(delta)
	if delta.Sign() == 0 {
		return 0
	}
	// A heavily skewed pool can floor the pre-trade price to zero;
	// any move from there saturates rather than dividing by zero.
	if pre.Sign() == 0 {
		return ^uint64(0)
	}
	bps := mulDivCeil(delta, bpsDenom, pre)
	if !bps.IsUint64() {
		return ^uint64(0)
	}
	return bps.Uint64()
}

// applySlippageFloor reduces amount by bps with floor rounding:
// amount*(10000-bps)/10000.
func applySlippageFloor(amount *big.Int, bps uint32) *big.Int {
	if bps == 0 {
		return new(big.Int).Set(amount)
	}
	factor := big.NewInt(int64(BpsDenom - bps))
	return mulDivFloor(amount, factor, bpsDenom)
}

// feeOnAmount returns the protocol fee taken from amount at feeBps,
// floor rounded.
func feeOnAmount(amount *big.Int, feeBps uint32) *big.Int {
	if feeBps == 0 {
		return big.NewInt(0)
	}
	return mulDivFloor(amount, big.NewInt(int64(feeBps)), bpsDenom)
}

package curve

import "math/big"

// quoteBuy prices a collateral deposit into outcome tokens.
//
// A buy mints an equal number of YES and NO tokens against the
// net-of-fee deposit, then swaps the unwanted side back into the pool.
// Both boosted reserves therefore grow by the scaled deposit before
// the swap leg: x = boostedSame + d, y = boostedOpposite + d, with
// invariant k = x*y. The swap leg pushes the minted opposite tokens
// into the pool (y rises by d again) and releases same-side tokens to
// keep k, so
//
//	amountOut = d + (x - k/(y+d))
//
// The new same-side reserve k/(y+d) is rounded up, which floors the
// released amount; the estimate can only undershoot the contract.
//
// Returned amounts: tokens out (18-dec) and the post-trade boosted
// reserves of the traded and opposite sides.
func quoteBuy(s *State, side Side, amountIn *big.Int) (out, newSame, newOpposite *big.Int, err error) {
	fee := feeOnAmount(amountIn, s.TotalFeeBps)
	net := new(big.Int).Sub(amountIn, fee)
	if net.Sign() <= 0 {
		return nil, nil, nil, ErrInvalidAmount
	}
	d := net.Mul(net, usdcToWad)

	x := new(big.Int).Add(s.boosted(side), d)
	y := new(big.Int).Add(s.boosted(side.Opposite()), d)

	k, err := checkedMul(x, y)
	if err != nil {
		return nil, nil, nil, err
	}

	newOpposite = new(big.Int).Add(y, d)
	newSame = mulDivCeil(k, big.NewInt(1), newOpposite)

	released := new(big.Int).Sub(x, newSame)
	out = new(big.Int).Add(d, released)
	return out, newSame, newOpposite, nil
}

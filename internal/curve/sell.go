package curve

import "math/big"

// quoteSell prices a sale of t outcome tokens (18-dec) back into
// collateral (6-dec).
//
// Selling inverts the constant product: the payout a shrinks the
// virtual offset on both sides while t tokens enter the selling side,
// and the post-trade reserves must preserve the pre-trade product:
//
//	(boostedSame + t - a) * (boostedOpposite - a) = boostedSame * boostedOpposite
//
// which reduces to a² - S·a + t·boostedOpposite = 0 with
// S = boostedSame + boostedOpposite + t, so
//
//	a = (S - sqrt(S² - 4·t·boostedOpposite)) / 2
//
// taking the smaller root (the larger one would drain more than the
// opposite reserve). The square root floors, so neither a nor the
// payout ever exceeds what the contract releases.
func quoteSell(s *State, side Side, t *big.Int) (out, newSame, newOpposite *big.Int, err error) {
	boostedSame := s.boosted(side)
	boostedOpposite := s.boosted(side.Opposite())

	sum := new(big.Int).Add(boostedSame, boostedOpposite)
	sum.Add(sum, t)

	sumSq, err := checkedSquare(sum)
	if err != nil {
		return nil, nil, nil, err
	}
	fourTB, err := checkedMul(new(big.Int).Lsh(t, 2), boostedOpposite)
	if err != nil {
		return nil, nil, nil, err
	}

	disc := new(big.Int).Sub(sumSq, fourTB)
	if disc.Sign() < 0 {
		// Malformed or inconsistent curve state; never clamp this.
		return nil, nil, nil, ErrNoRealSolution
	}

	root := sqrtFloor(disc)
	a := new(big.Int).Sub(sum, root)
	a.Rsh(a, 1)

	if a.Sign() == 0 {
		return nil, nil, nil, ErrInsufficientLiquidity
	}
	if a.Cmp(s.VirtualOffset) > 0 {
		// The offset cannot go negative; the trade exceeds what the
		// pool can pay out.
		return nil, nil, nil, ErrInsufficientLiquidity
	}

	newSame = new(big.Int).Add(boostedSame, t)
	newSame.Sub(newSame, a)
	newOpposite = new(big.Int).Sub(boostedOpposite, a)
	if newSame.Sign() <= 0 || newOpposite.Sign() <= 0 {
		return nil, nil, nil, ErrInsufficientLiquidity
	}

	usdc := new(big.Int).Div(a, usdcToWad)
	if usdc.Sign() == 0 {
		return nil, nil, nil, ErrInsufficientLiquidity
	}
	if s.SellFeesEnabled {
		usdc.Sub(usdc, feeOnAmount(usdc, s.TotalFeeBps))
	}
	return usdc, newSame, newOpposite, nil
}

// Package curve implements the off-chain quote engine for the
// constant-product market maker used by duomarket exchange contracts.
//
// The pool holds YES and NO outcome-token reserves plus a virtual
// liquidity offset added to both sides; the product of the boosted
// reserves is the swap invariant. All arithmetic is integer and must
// match the contract bit-for-bit: divisions floor, nothing rounds in
// the trader's favor, and any intermediate a 256-bit machine would
// wrap aborts the quote instead.
package curve

import (
	"errors"
	"math/big"
)

var (
	ErrCurveUnavailable      = errors.New("curve state unavailable")
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrOverflow              = errors.New("intermediate value exceeds 256-bit range")
	ErrNoRealSolution        = errors.New("sell quote has no real solution")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
)

const (
	// BpsDenom is the basis-point denominator shared by fees and slippage.
	BpsDenom = 10_000

	// MaxFeeBps is the largest total fee the contract accepts.
	MaxFeeBps = BpsDenom
)

var (
	bpsDenom = big.NewInt(BpsDenom)

	// wad is the 18-decimal fixed-point base of reserves and prices.
	wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	// usdcToWad scales 6-decimal collateral amounts to the 18-decimal base.
	usdcToWad = new(big.Int).Exp(big.NewInt(10), big.NewInt(12), nil)
)

// Side selects a market outcome.
type Side uint8

const (
	SideYes Side = iota
	SideNo
)

func (s Side) String() string {
	if s == SideYes {
		return "YES"
	}
	return "NO"
}

// Opposite returns the other outcome side.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// Direction selects buy (collateral in) or sell (outcome tokens in).
type Direction uint8

const (
	DirectionBuy Direction = iota
	DirectionSell
)

func (d Direction) String() string {
	if d == DirectionBuy {
		return "buy"
	}
	return "sell"
}

// State is a read-only snapshot of one market's curve, exactly as the
// contract stores it. Reserves and the virtual offset are 18-decimal
// fixed point. The caller owns the snapshot for the duration of a
// single quote; the engine never mutates it.
type State struct {
	ReserveYes      *big.Int
	ReserveNo       *big.Int
	VirtualOffset   *big.Int
	TotalFeeBps     uint32
	SellFeesEnabled bool
}

// Validate reports whether the snapshot can price trades at all.
// Missing fields, negative values, an out-of-range fee, or a zero
// boosted reserve all make pricing undefined.
func (s *State) Validate() error {
	if s == nil || s.ReserveYes == nil || s.ReserveNo == nil || s.VirtualOffset == nil {
		return ErrCurveUnavailable
	}
	if s.ReserveYes.Sign() < 0 || s.ReserveNo.Sign() < 0 || s.VirtualOffset.Sign() < 0 {
		return ErrCurveUnavailable
	}
	if s.TotalFeeBps > MaxFeeBps {
		return ErrCurveUnavailable
	}
	if s.boosted(SideYes).Sign() <= 0 || s.boosted(SideNo).Sign() <= 0 {
		return ErrCurveUnavailable
	}
	return nil
}

// boosted returns reserve + virtualOffset for the side, the quantity
// the invariant actually operates on.
func (s *State) boosted(side Side) *big.Int {
	r := s.ReserveYes
	if side == SideNo {
		r = s.ReserveNo
	}
	return new(big.Int).Add(r, s.VirtualOffset)
}

// BoostedYes returns the boosted YES reserve.
func (s *State) BoostedYes() *big.Int { return s.boosted(SideYes) }

// BoostedNo returns the boosted NO reserve.
func (s *State) BoostedNo() *big.Int { return s.boosted(SideNo) }

// SpotPriceE18 returns the instantaneous price of the side in the
// 18-decimal base: priceYes = boostedNo / (boostedYes + boostedNo).
// The two sides sum to 1e18 within one unit of flooring.
func (s *State) SpotPriceE18(side Side) (*big.Int, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return spotPrice(s.boosted(side), s.boosted(side.Opposite())), nil
}

// spotPrice prices the "same" side given both boosted reserves.
func spotPrice(boostedSame, boostedOpposite *big.Int) *big.Int {
	num := new(big.Int).Mul(boostedOpposite, wad)
	den := new(big.Int).Add(boostedSame, boostedOpposite)
	return num.Div(num, den)
}

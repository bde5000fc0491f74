package curve

import "math/big"

// maxWordBits is the register width of the contract's arithmetic.
// big.Int never wraps, so every product the contract would compute in
// a single 256-bit word is checked against this width instead.
const maxWordBits = 256

// checkedMul multiplies a*b and errors where the contract would
// overflow a 256-bit word.
func checkedMul(a, b *big.Int) (*big.Int, error) {
	p := new(big.Int).Mul(a, b)
	if p.BitLen() > maxWordBits {
		return nil, ErrOverflow
	}
	return p, nil
}

// checkedSquare squares v, rejecting values whose square cannot fit a
// 256-bit word. v < 2^128 is exactly the representable range.
func checkedSquare(v *big.Int) (*big.Int, error) {
	if v.BitLen() > maxWordBits/2 {
		return nil, ErrOverflow
	}
	return new(big.Int).Mul(v, v), nil
}

// sqrtFloor computes the integer square root, terminating at the floor
// of the true root. Newton iteration with a monotonically decreasing
// upper bound; it never overestimates, which keeps sell quotes
// conservative.
func sqrtFloor(value *big.Int) *big.Int {
	if value.Sign() <= 0 {
		return big.NewInt(0)
	}
	one := big.NewInt(1)
	if value.Cmp(one) == 0 {
		return big.NewInt(1)
	}
	x := new(big.Int).Set(value)
	y := new(big.Int).Add(value, one)
	y.Rsh(y, 1)
	for y.Cmp(x) < 0 {
		x.Set(y)
		y = new(big.Int).Div(value, x)
		y.Add(y, x)
		y.Rsh(y, 1)
	}
	return x
}

// mulDivFloor returns x*y/den with floor rounding.
func mulDivFloor(x, y, den *big.Int) *big.Int {
	p := new(big.Int).Mul(x, y)
	return p.Div(p, den)
}

// mulDivCeil returns x*y/den rounded up.
func mulDivCeil(x, y, den *big.Int) *big.Int {
	p := new(big.Int).Mul(x, y)
	p.Add(p, new(big.Int).Sub(den, big.NewInt(1)))
	return p.Div(p, den)
}

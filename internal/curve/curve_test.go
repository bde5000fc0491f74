package curve

import (
	"errors"
	"math/big"
	"testing"
)

func wadInt(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), wad)
}

func usdc(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000))
}

// balancedState is the reference pool from the contract test vectors:
// 1000 tokens on each side, 500 virtual offset, 3% total fee.
func balancedState() *State {
	return &State{
		ReserveYes:      wadInt(1000),
		ReserveNo:       wadInt(1000),
		VirtualOffset:   wadInt(500),
		TotalFeeBps:     300,
		SellFeesEnabled: true,
	}
}

func TestStateValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*State)
		wantErr error
	}{
		{"valid", func(s *State) {}, nil},
		{"nil reserve yes", func(s *State) { s.ReserveYes = nil }, ErrCurveUnavailable},
		{"nil reserve no", func(s *State) { s.ReserveNo = nil }, ErrCurveUnavailable},
		{"nil offset", func(s *State) { s.VirtualOffset = nil }, ErrCurveUnavailable},
		{"negative reserve", func(s *State) { s.ReserveYes = big.NewInt(-1) }, ErrCurveUnavailable},
		{"fee above denom", func(s *State) { s.TotalFeeBps = 10_001 }, ErrCurveUnavailable},
		{"zero boosted reserves", func(s *State) {
			s.ReserveYes = big.NewInt(0)
			s.ReserveNo = big.NewInt(0)
			s.VirtualOffset = big.NewInt(0)
		}, ErrCurveUnavailable},
		{"offset alone keeps it open", func(s *State) {
			s.ReserveYes = big.NewInt(0)
			s.ReserveNo = big.NewInt(0)
		}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := balancedState()
			tt.mutate(s)
			err := s.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}

	var nilState *State
	if err := nilState.Validate(); !errors.Is(err, ErrCurveUnavailable) {
		t.Errorf("nil state Validate() = %v, want ErrCurveUnavailable", err)
	}
}

func TestSpotPriceInvariant(t *testing.T) {
	// priceYes + priceNo must equal 1e18 within one unit of flooring,
	// balanced or not.
	tests := []struct {
		name  string
		state *State
	}{
		{"balanced", balancedState()},
		{"skewed", &State{
			ReserveYes:    wadInt(100),
			ReserveNo:     wadInt(4321),
			VirtualOffset: wadInt(500),
		}},
		{"tiny pool", &State{
			ReserveYes:    big.NewInt(7),
			ReserveNo:     big.NewInt(13),
			VirtualOffset: big.NewInt(11),
		}},
		{"offset only", &State{
			ReserveYes:    big.NewInt(0),
			ReserveNo:     big.NewInt(0),
			VirtualOffset: wadInt(250),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			yes, err := tt.state.SpotPriceE18(SideYes)
			if err != nil {
				t.Fatalf("SpotPriceE18(yes) failed: %v", err)
			}
			no, err := tt.state.SpotPriceE18(SideNo)
			if err != nil {
				t.Fatalf("SpotPriceE18(no) failed: %v", err)
			}
			sum := new(big.Int).Add(yes, no)
			diff := new(big.Int).Sub(wad, sum)
			if diff.Sign() < 0 || diff.Cmp(big.NewInt(1)) > 0 {
				t.Errorf("priceYes+priceNo = %s, want 1e18 within 1 unit", sum)
			}
		})
	}
}

func TestSpotPriceBalanced(t *testing.T) {
	s := balancedState()
	yes, err := s.SpotPriceE18(SideYes)
	if err != nil {
		t.Fatalf("SpotPriceE18 failed: %v", err)
	}
	half := new(big.Int).Rsh(wad, 1)
	if yes.Cmp(half) != 0 {
		t.Errorf("balanced pool priceYes = %s, want %s", yes, half)
	}
}

func TestSideOpposite(t *testing.T) {
	if SideYes.Opposite() != SideNo || SideNo.Opposite() != SideYes {
		t.Error("Opposite() must swap sides")
	}
}

func TestSqrtFloor(t *testing.T) {
	tests := []struct {
		in   int64
		want int64
	}{
		{0, 0},
		{1, 1},
		{2, 1},
		{3, 1},
		{4, 2},
		{15, 3},
		{16, 4},
		{17, 4},
		{99_999_999, 9999},
		{100_000_000, 10000},
	}
	for _, tt := range tests {
		got := sqrtFloor(big.NewInt(tt.in))
		if got.Int64() != tt.want {
			t.Errorf("sqrtFloor(%d) = %s, want %d", tt.in, got, tt.want)
		}
	}

	// Large perfect square and its predecessor: the root must floor,
	// never overestimate.
	v := new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil) // (1e15)^2
	root := new(big.Int).Exp(big.NewInt(10), big.NewInt(15), nil)
	if got := sqrtFloor(v); got.Cmp(root) != 0 {
		t.Errorf("sqrtFloor(1e30) = %s, want 1e15", got)
	}
	vm1 := new(big.Int).Sub(v, big.NewInt(1))
	wantm1 := new(big.Int).Sub(root, big.NewInt(1))
	if got := sqrtFloor(vm1); got.Cmp(wantm1) != 0 {
		t.Errorf("sqrtFloor(1e30-1) = %s, want 1e15-1", got)
	}
}

func TestCheckedSquare(t *testing.T) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)

	if _, err := checkedSquare(limit); !errors.Is(err, ErrOverflow) {
		t.Errorf("checkedSquare(2^128) error = %v, want ErrOverflow", err)
	}

	edge := new(big.Int).Sub(limit, big.NewInt(1))
	got, err := checkedSquare(edge)
	if err != nil {
		t.Fatalf("checkedSquare(2^128-1) failed: %v", err)
	}
	want := new(big.Int).Mul(edge, edge)
	if got.Cmp(want) != 0 {
		t.Errorf("checkedSquare(2^128-1) = %s, want %s", got, want)
	}
}

func TestCheckedMul(t *testing.T) {
	big128 := new(big.Int).Lsh(big.NewInt(1), 128)
	if _, err := checkedMul(big128, big128); !errors.Is(err, ErrOverflow) {
		t.Errorf("checkedMul(2^128, 2^128) error = %v, want ErrOverflow", err)
	}
	if _, err := checkedMul(big128, big.NewInt(3)); err != nil {
		t.Errorf("checkedMul small product failed: %v", err)
	}
}

package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/duomarket/duomarket/internal/curve"
	"github.com/duomarket/duomarket/internal/model"
)

var (
	marketAddrA = common.HexToAddress("0x1111111111111111111111111111111111111111")
	marketAddrB = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func wadInt(units int64) *big.Int {
	w := big.NewInt(units)
	return w.Mul(w, new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func testMarket(addr common.Address) *model.Market {
	return &model.Market{
		Address:        addr.Hex(),
		YesToken:       "0x3333333333333333333333333333333333333333",
		NoToken:        "0x4444444444444444444444444444444444444444",
		LPToken:        "0x5555555555555555555555555555555555555555",
		ReserveYes:     wadInt(1000),
		ReserveNo:      wadInt(1000),
		USDCVault:      big.NewInt(1_000_000_000),
		TotalPairsUSDC: big.NewInt(1_000_000_000),
		VirtualOffset:  wadInt(500),
		FeeTreasuryBps: 100,
		FeeVaultBps:    100,
		FeeLpBps:       100,
		Status:         model.StatusActive,
		Question:       "Will it ship by Friday?",
		FetchedAt:      time.Now(),
	}
}

type stubReader struct {
	mu      sync.Mutex
	markets map[common.Address]*model.Market
	errs    map[common.Address]error
	calls   int
}

func (r *stubReader) ReadMarket(_ context.Context, addr common.Address) (*model.Market, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if err, ok := r.errs[addr]; ok {
		return nil, err
	}
	m, ok := r.markets[addr]
	if !ok {
		return nil, ErrMarketNotFound
	}
	return m, nil
}

func newTestService(reader *stubReader) *MarketService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewMarketService(reader, curve.DefaultSlippagePolicy(), time.Minute, logger)
}

func TestMarketUsesSnapshotCache(t *testing.T) {
	reader := &stubReader{markets: map[common.Address]*model.Market{
		marketAddrA: testMarket(marketAddrA),
	}}
	svc := newTestService(reader)

	for i := 0; i < 3; i++ {
		m, err := svc.Market(context.Background(), marketAddrA)
		if err != nil {
			t.Fatalf("Market() error = %v", err)
		}
		if m.Address != marketAddrA.Hex() {
			t.Fatalf("Market() address = %s, want %s", m.Address, marketAddrA.Hex())
		}
	}

	reader.mu.Lock()
	calls := reader.calls
	reader.mu.Unlock()
	if calls != 1 {
		t.Errorf("reader calls = %d, want 1 (cache miss only on first request)", calls)
	}
}

func TestMarketsSkipsFailedFetches(t *testing.T) {
	reader := &stubReader{
		markets: map[common.Address]*model.Market{
			marketAddrA: testMarket(marketAddrA),
		},
		errs: map[common.Address]error{
			marketAddrB: errors.New("rpc timeout"),
		},
	}
	svc := newTestService(reader)

	markets, err := svc.Markets(context.Background(), []common.Address{marketAddrA, marketAddrB})
	if err != nil {
		t.Fatalf("Markets() error = %v", err)
	}
	if len(markets) != 1 {
		t.Fatalf("Markets() returned %d markets, want 1", len(markets))
	}
	if markets[0].Address != marketAddrA.Hex() {
		t.Errorf("Markets()[0].Address = %s, want %s", markets[0].Address, marketAddrA.Hex())
	}
}

func TestQuoteRequest_Validate(t *testing.T) {
	validRequest := QuoteRequest{
		Market:      marketAddrA,
		Direction:   curve.DirectionBuy,
		Outcome:     model.OutcomeYes,
		AmountIn:    big.NewInt(100_000_000),
		SlippageBps: 50,
	}

	tests := []struct {
		name    string
		modify  func(*QuoteRequest)
		wantErr error
	}{
		{
			name:    "valid request",
			modify:  func(r *QuoteRequest) {},
			wantErr: nil,
		},
		{
			name:    "zero market address",
			modify:  func(r *QuoteRequest) { r.Market = common.Address{} },
			wantErr: model.ErrInvalidAddress,
		},
		{
			name:    "invalid outcome",
			modify:  func(r *QuoteRequest) { r.Outcome = "MAYBE" },
			wantErr: model.ErrInvalidOutcome,
		},
		{
			name:    "nil amount",
			modify:  func(r *QuoteRequest) { r.AmountIn = nil },
			wantErr: curve.ErrInvalidAmount,
		},
		{
			name:    "zero amount",
			modify:  func(r *QuoteRequest) { r.AmountIn = big.NewInt(0) },
			wantErr: curve.ErrInvalidAmount,
		},
		{
			name:    "negative amount",
			modify:  func(r *QuoteRequest) { r.AmountIn = big.NewInt(-5) },
			wantErr: curve.ErrInvalidAmount,
		},
		{
			name:    "slippage over denominator",
			modify:  func(r *QuoteRequest) { r.SlippageBps = 10_001 },
			wantErr: curve.ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest
			tt.modify(&req)
			err := req.Validate()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Errorf("Validate() unexpected error = %v", err)
			}
		})
	}
}

func TestQuoteSequenceMonotonic(t *testing.T) {
	reader := &stubReader{markets: map[common.Address]*model.Market{
		marketAddrA: testMarket(marketAddrA),
	}}
	svc := newTestService(reader)

	req := QuoteRequest{
		Market:    marketAddrA,
		Direction: curve.DirectionBuy,
		Outcome:   model.OutcomeYes,
		AmountIn:  big.NewInt(100_000_000),
	}

	var last uint64
	for i := 0; i < 5; i++ {
		result, err := svc.Quote(context.Background(), req)
		if err != nil {
			t.Fatalf("Quote() error = %v", err)
		}
		if result.Sequence <= last {
			t.Fatalf("Quote() sequence %d not greater than previous %d", result.Sequence, last)
		}
		last = result.Sequence
	}
}

func TestQuoteMatchesCurve(t *testing.T) {
	market := testMarket(marketAddrA)
	reader := &stubReader{markets: map[common.Address]*model.Market{marketAddrA: market}}
	svc := newTestService(reader)

	result, err := svc.Quote(context.Background(), QuoteRequest{
		Market:    marketAddrA,
		Direction: curve.DirectionBuy,
		Outcome:   model.OutcomeYes,
		AmountIn:  big.NewInt(100_000_000),
	})
	if err != nil {
		t.Fatalf("Quote() error = %v", err)
	}

	want, err := curve.Quote(CurveState(market), curve.Request{
		Direction: curve.DirectionBuy,
		Side:      curve.SideYes,
		AmountIn:  big.NewInt(100_000_000),
	}, curve.DefaultSlippagePolicy())
	if err != nil {
		t.Fatalf("curve.Quote() error = %v", err)
	}

	if result.Quote.AmountOut.Cmp(want.AmountOut) != 0 {
		t.Errorf("Quote() amount out = %s, want %s", result.Quote.AmountOut, want.AmountOut)
	}
	if result.Quote.EffectiveSlippageBps != want.EffectiveSlippageBps {
		t.Errorf("Quote() effective slippage = %d, want %d", result.Quote.EffectiveSlippageBps, want.EffectiveSlippageBps)
	}
	if result.Market != market {
		t.Errorf("Quote() did not return the snapshot it priced against")
	}
}

func TestQuoteRejectsNonTradableMarket(t *testing.T) {
	paused := testMarket(marketAddrA)
	paused.Status = model.StatusPaused
	reader := &stubReader{markets: map[common.Address]*model.Market{marketAddrA: paused}}
	svc := newTestService(reader)

	_, err := svc.Quote(context.Background(), QuoteRequest{
		Market:    marketAddrA,
		Direction: curve.DirectionSell,
		Outcome:   model.OutcomeNo,
		AmountIn:  wadInt(10),
	})
	if !errors.Is(err, ErrMarketNotTradable) {
		t.Errorf("Quote() error = %v, want ErrMarketNotTradable", err)
	}
}

func TestBuildBuyTx(t *testing.T) {
	reader := &stubReader{markets: map[common.Address]*model.Market{
		marketAddrA: testMarket(marketAddrA),
	}}
	svc := newTestService(reader)

	call, result, err := svc.BuildBuyTx(context.Background(), QuoteRequest{
		Market:   marketAddrA,
		Outcome:  model.OutcomeYes,
		AmountIn: big.NewInt(100_000_000),
	})
	if err != nil {
		t.Fatalf("BuildBuyTx() error = %v", err)
	}

	if call.Market != marketAddrA {
		t.Errorf("BuildBuyTx() market = %s, want %s", call.Market.Hex(), marketAddrA.Hex())
	}
	// selector plus three ABI words
	if len(call.Calldata) != 4+3*32 {
		t.Errorf("BuildBuyTx() calldata length = %d, want %d", len(call.Calldata), 4+3*32)
	}
	if call.Description == "" {
		t.Error("BuildBuyTx() empty description")
	}
	if result.Quote.MinimumAmountOut.Sign() <= 0 {
		t.Errorf("BuildBuyTx() minimum out = %s, want positive", result.Quote.MinimumAmountOut)
	}
}

func TestBuildSellTx(t *testing.T) {
	reader := &stubReader{markets: map[common.Address]*model.Market{
		marketAddrA: testMarket(marketAddrA),
	}}
	svc := newTestService(reader)

	call, result, err := svc.BuildSellTx(context.Background(), QuoteRequest{
		Market:   marketAddrA,
		Outcome:  model.OutcomeNo,
		AmountIn: wadInt(50),
	})
	if err != nil {
		t.Fatalf("BuildSellTx() error = %v", err)
	}

	if call.Market != marketAddrA {
		t.Errorf("BuildSellTx() market = %s, want %s", call.Market.Hex(), marketAddrA.Hex())
	}
	if len(call.Calldata) != 4+3*32 {
		t.Errorf("BuildSellTx() calldata length = %d, want %d", len(call.Calldata), 4+3*32)
	}
	if result.Quote.AmountOut.Sign() <= 0 {
		t.Errorf("BuildSellTx() amount out = %s, want positive", result.Quote.AmountOut)
	}
}

func TestCurveState(t *testing.T) {
	market := testMarket(marketAddrA)
	market.SellFeesEnabled = true

	state := CurveState(market)
	if state.ReserveYes.Cmp(market.ReserveYes) != 0 || state.ReserveNo.Cmp(market.ReserveNo) != 0 {
		t.Error("CurveState() reserves do not match snapshot")
	}
	if state.VirtualOffset.Cmp(market.VirtualOffset) != 0 {
		t.Error("CurveState() virtual offset does not match snapshot")
	}
	if state.TotalFeeBps != 300 {
		t.Errorf("CurveState() total fee = %d, want 300", state.TotalFeeBps)
	}
	if !state.SellFeesEnabled {
		t.Error("CurveState() dropped sell fee flag")
	}
	if err := state.Validate(); err != nil {
		t.Errorf("CurveState() invalid state: %v", err)
	}
}

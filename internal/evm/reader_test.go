package evm

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/duomarket/duomarket/internal/model"
)

type abiResolution = struct {
	Outcome    uint8  `json:"outcome"`
	ResolvedAt uint64 `json:"resolvedAt"`
}

// fakeCaller answers getMarket and sellFeesEnabled with canned
// ABI-encoded data, keyed by method selector.
type fakeCaller struct {
	responses map[string][]byte
}

func (f *fakeCaller) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	for name, m := range MarketABI.Methods {
		if bytes.HasPrefix(call.Data, m.ID) {
			return f.responses[name], nil
		}
	}
	return nil, nil
}

func wadBig(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func TestReadMarket(t *testing.T) {
	yesToken := common.HexToAddress("0x1111111111111111111111111111111111111111")
	noToken := common.HexToAddress("0x2222222222222222222222222222222222222222")
	lpToken := common.HexToAddress("0x3333333333333333333333333333333333333333")

	marketData, err := MarketABI.Methods["getMarket"].Outputs.Pack(
		yesToken,
		noToken,
		wadBig(1000),               // reserveYes
		wadBig(2000),               // reserveNo
		big.NewInt(1_500_000_000),  // usdcVault
		big.NewInt(1_200_000_000),  // totalPairsUsdc
		wadBig(500),                // virtualOffset
		uint16(100),                // feeTreasuryBps
		uint16(150),                // feeVaultBps
		uint16(50),                 // feeLpBps
		uint8(model.StatusActive),  // status
		"Will the launch succeed?", // question
		lpToken,
		abiResolution{},
	)
	if err != nil {
		t.Fatalf("failed to pack fixture: %v", err)
	}
	feesData, err := MarketABI.Methods["sellFeesEnabled"].Outputs.Pack(true)
	if err != nil {
		t.Fatalf("failed to pack fixture: %v", err)
	}

	reader, err := NewStateReader(&fakeCaller{responses: map[string][]byte{
		"getMarket":       marketData,
		"sellFeesEnabled": feesData,
	}})
	if err != nil {
		t.Fatalf("NewStateReader failed: %v", err)
	}

	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	m, err := reader.ReadMarket(context.Background(), addr)
	if err != nil {
		t.Fatalf("ReadMarket failed: %v", err)
	}

	if m.Address != addr.Hex() {
		t.Errorf("Address = %s, want %s", m.Address, addr.Hex())
	}
	if m.YesToken != yesToken.Hex() || m.NoToken != noToken.Hex() || m.LPToken != lpToken.Hex() {
		t.Error("token addresses decoded wrong")
	}
	if m.ReserveYes.Cmp(wadBig(1000)) != 0 || m.ReserveNo.Cmp(wadBig(2000)) != 0 {
		t.Errorf("reserves = %s/%s, want 1000e18/2000e18", m.ReserveYes, m.ReserveNo)
	}
	if m.VirtualOffset.Cmp(wadBig(500)) != 0 {
		t.Errorf("VirtualOffset = %s, want 500e18", m.VirtualOffset)
	}
	if m.TotalFeeBps() != 300 {
		t.Errorf("TotalFeeBps = %d, want 300", m.TotalFeeBps())
	}
	if m.Status != model.StatusActive {
		t.Errorf("Status = %v, want active", m.Status)
	}
	if m.Question != "Will the launch succeed?" {
		t.Errorf("Question = %q", m.Question)
	}
	if !m.SellFeesEnabled {
		t.Error("SellFeesEnabled = false, want true")
	}
	if m.Resolution != "" || m.ResolvedAt != nil {
		t.Error("unresolved market must carry no resolution")
	}
	if err := m.Validate(); err != nil {
		t.Errorf("decoded market fails validation: %v", err)
	}
}

func TestReadMarketResolved(t *testing.T) {
	resolvedAt := uint64(1_700_000_000)
	marketData, err := MarketABI.Methods["getMarket"].Outputs.Pack(
		common.Address{}, common.Address{},
		wadBig(1), wadBig(1), big.NewInt(0), big.NewInt(0), wadBig(1),
		uint16(0), uint16(0), uint16(0),
		uint8(model.StatusResolved),
		"Resolved?",
		common.Address{},
		abiResolution{Outcome: ResolutionNo, ResolvedAt: resolvedAt},
	)
	if err != nil {
		t.Fatalf("failed to pack fixture: %v", err)
	}
	feesData, _ := MarketABI.Methods["sellFeesEnabled"].Outputs.Pack(false)

	reader, _ := NewStateReader(&fakeCaller{responses: map[string][]byte{
		"getMarket":       marketData,
		"sellFeesEnabled": feesData,
	}})
	m, err := reader.ReadMarket(context.Background(), common.Address{1})
	if err != nil {
		t.Fatalf("ReadMarket failed: %v", err)
	}
	if m.Resolution != model.OutcomeNo {
		t.Errorf("Resolution = %v, want NO", m.Resolution)
	}
	if m.ResolvedAt == nil || m.ResolvedAt.Unix() != int64(resolvedAt) {
		t.Errorf("ResolvedAt = %v, want unix %d", m.ResolvedAt, resolvedAt)
	}
}

func TestReadMarketEmptyResponse(t *testing.T) {
	reader, _ := NewStateReader(&fakeCaller{responses: map[string][]byte{}})
	if _, err := reader.ReadMarket(context.Background(), common.Address{1}); err == nil {
		t.Error("expected error for empty call response")
	}
}

func TestBuildBuyCall(t *testing.T) {
	market := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	call, err := BuildBuyCall(market, model.OutcomeYes, big.NewInt(100_000_000), wadBig(180))
	if err != nil {
		t.Fatalf("BuildBuyCall failed: %v", err)
	}
	method := MarketABI.Methods["buyShares"]
	if !bytes.HasPrefix(call.Calldata, method.ID) {
		t.Fatal("calldata does not start with buyShares selector")
	}
	args, err := method.Inputs.Unpack(call.Calldata[4:])
	if err != nil {
		t.Fatalf("failed to unpack calldata: %v", err)
	}
	if args[0].(uint8) != SideYes {
		t.Errorf("side = %d, want %d", args[0], SideYes)
	}
	if args[1].(*big.Int).Cmp(big.NewInt(100_000_000)) != 0 {
		t.Errorf("usdcIn = %s, want 100000000", args[1])
	}
	if args[2].(*big.Int).Cmp(wadBig(180)) != 0 {
		t.Errorf("minTokensOut = %s, want 180e18", args[2])
	}
}

func TestBuildSellCall(t *testing.T) {
	market := common.Address{2}
	call, err := BuildSellCall(market, model.OutcomeNo, wadBig(50), big.NewInt(24_000_000))
	if err != nil {
		t.Fatalf("BuildSellCall failed: %v", err)
	}
	method := MarketABI.Methods["sellShares"]
	args, err := method.Inputs.Unpack(call.Calldata[4:])
	if err != nil {
		t.Fatalf("failed to unpack calldata: %v", err)
	}
	if args[0].(uint8) != SideNo {
		t.Errorf("side = %d, want %d", args[0], SideNo)
	}
}

func TestBuildCallRejectsBadInput(t *testing.T) {
	market := common.Address{3}
	if _, err := BuildBuyCall(market, "MAYBE", big.NewInt(1), big.NewInt(0)); err == nil {
		t.Error("expected error for invalid side")
	}
	if _, err := BuildBuyCall(market, model.OutcomeYes, big.NewInt(0), big.NewInt(0)); err == nil {
		t.Error("expected error for zero amount")
	}
	if _, err := BuildSellCall(market, model.OutcomeYes, wadBig(1), nil); err == nil {
		t.Error("expected error for nil min out")
	}
}

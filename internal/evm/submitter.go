package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/duomarket/duomarket/internal/model"
)

// TradeCall is a fully priced trade ready for submission: the target
// market and the ABI-encoded call carrying the slippage-bounded
// minimum output.
type TradeCall struct {
	Market      common.Address
	Calldata    []byte
	Description string
}

// TradeSubmitter carries a built call through approval, signing and
// broadcast. Wallet handling lives outside this repository.
type TradeSubmitter interface {
	SubmitTrade(ctx context.Context, call TradeCall) (txHash common.Hash, err error)
}

func sideCode(o model.Outcome) (uint8, error) {
	switch o {
	case model.OutcomeYes:
		return SideYes, nil
	case model.OutcomeNo:
		return SideNo, nil
	default:
		return 0, model.ErrInvalidOutcome
	}
}

// BuildBuyCall encodes buyShares(side, usdcIn, minTokensOut).
func BuildBuyCall(market common.Address, side model.Outcome, usdcIn, minTokensOut *big.Int) (TradeCall, error) {
	code, err := sideCode(side)
	if err != nil {
		return TradeCall{}, err
	}
	if usdcIn == nil || usdcIn.Sign() <= 0 || minTokensOut == nil || minTokensOut.Sign() < 0 {
		return TradeCall{}, fmt.Errorf("buy call amounts out of range")
	}
	data, err := MarketABI.Pack("buyShares", code, usdcIn, minTokensOut)
	if err != nil {
		return TradeCall{}, fmt.Errorf("failed to pack buyShares: %w", err)
	}
	return TradeCall{
		Market:   market,
		Calldata: data,
		Description: fmt.Sprintf("buy %s with %s USDC (min %s tokens out)",
			side, model.FormatUSDC(usdcIn), model.FormatWad(minTokensOut)),
	}, nil
}

// BuildSellCall encodes sellShares(side, tokensIn, minUsdcOut).
func BuildSellCall(market common.Address, side model.Outcome, tokensIn, minUsdcOut *big.Int) (TradeCall, error) {
	code, err := sideCode(side)
	if err != nil {
		return TradeCall{}, err
	}
	if tokensIn == nil || tokensIn.Sign() <= 0 || minUsdcOut == nil || minUsdcOut.Sign() < 0 {
		return TradeCall{}, fmt.Errorf("sell call amounts out of range")
	}
	data, err := MarketABI.Pack("sellShares", code, tokensIn, minUsdcOut)
	if err != nil {
		return TradeCall{}, fmt.Errorf("failed to pack sellShares: %w", err)
	}
	return TradeCall{
		Market:   market,
		Calldata: data,
		Description: fmt.Sprintf("sell %s %s tokens (min %s USDC out)",
			model.FormatWad(tokensIn), side, model.FormatUSDC(minUsdcOut)),
	}, nil
}

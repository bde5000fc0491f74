package indexer

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/duomarket/duomarket/internal/evm"
	"github.com/duomarket/duomarket/internal/model"
)

var (
	sharesBoughtID = evm.MarketABI.Events["SharesBought"].ID
	sharesSoldID   = evm.MarketABI.Events["SharesSold"].ID
)

// decodeTradeLog turns one SharesBought/SharesSold log into a trade
// record. The user is the sole indexed topic; side, both amounts and
// the fill price ride in the data payload.
func decodeTradeLog(lg types.Log, timestamp int64) (model.TradeRecord, error) {
	if len(lg.Topics) != 2 {
		return model.TradeRecord{}, fmt.Errorf("expected 2 topics, got %d", len(lg.Topics))
	}

	var event string
	var buy bool
	switch lg.Topics[0] {
	case sharesBoughtID:
		event, buy = "SharesBought", true
	case sharesSoldID:
		event, buy = "SharesSold", false
	default:
		return model.TradeRecord{}, fmt.Errorf("unknown event topic %s", lg.Topics[0].Hex())
	}

	vals, err := evm.MarketABI.Unpack(event, lg.Data)
	if err != nil {
		return model.TradeRecord{}, fmt.Errorf("failed to unpack %s: %w", event, err)
	}
	if len(vals) != 4 {
		return model.TradeRecord{}, fmt.Errorf("expected 4 data fields, got %d", len(vals))
	}

	side, ok := vals[0].(uint8)
	if !ok {
		return model.TradeRecord{}, fmt.Errorf("unexpected side type %T", vals[0])
	}
	first, ok := vals[1].(*big.Int)
	if !ok {
		return model.TradeRecord{}, fmt.Errorf("unexpected amount type %T", vals[1])
	}
	second, ok := vals[2].(*big.Int)
	if !ok {
		return model.TradeRecord{}, fmt.Errorf("unexpected amount type %T", vals[2])
	}
	price, ok := vals[3].(*big.Int)
	if !ok {
		return model.TradeRecord{}, fmt.Errorf("unexpected price type %T", vals[3])
	}
	if !price.IsInt64() || price.Int64() < 0 || price.Int64() > model.PriceE6Denom {
		return model.TradeRecord{}, fmt.Errorf("fill price %s out of range", price)
	}

	// Buys report (usdcIn, tokensOut); sells report (tokensIn, usdcOut).
	usdc, tokens := first, second
	if !buy {
		usdc, tokens = second, first
	}

	return model.TradeRecord{
		Market:      lg.Address.Hex(),
		User:        common.BytesToAddress(lg.Topics[1].Bytes()).Hex(),
		Type:        tradeType(buy, side),
		USDCAmount:  usdc,
		TokenAmount: tokens,
		PriceE6:     price.Int64(),
		Timestamp:   timestamp,
		TxHash:      lg.TxHash.Hex(),
		BlockNumber: lg.BlockNumber,
	}, nil
}

func tradeType(buy bool, side uint8) model.TradeType {
	switch {
	case buy && side == evm.SideYes:
		return model.TradeBuyYes
	case buy:
		return model.TradeBuyNo
	case side == evm.SideYes:
		return model.TradeSellYes
	default:
		return model.TradeSellNo
	}
}

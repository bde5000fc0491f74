package handler

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/duomarket/duomarket/internal/curve"
	"github.com/duomarket/duomarket/internal/evm"
	"github.com/duomarket/duomarket/internal/model"
	"github.com/duomarket/duomarket/internal/service"
)

const (
	defaultTradesLimit  = 100
	defaultCandlesLimit = 500
	defaultHoldersLimit = 50
)

type marketResponse struct {
	*model.Market
	PriceYesE18 string `json:"price_yes_e18,omitempty"`
	PriceNoE18  string `json:"price_no_e18,omitempty"`
	PriceYes    string `json:"price_yes,omitempty"`
	PriceNo     string `json:"price_no,omitempty"`
}

type quoteResponse struct {
	Sequence               uint64 `json:"sequence"`
	Market                 string `json:"market"`
	Direction              string `json:"direction"`
	Outcome                string `json:"outcome"`
	AmountIn               string `json:"amount_in"`
	AmountOut              string `json:"amount_out"`
	PostTradePriceE18      string `json:"post_trade_price_e18"`
	PostTradePrice         string `json:"post_trade_price"`
	PriceImpactBps         uint64 `json:"price_impact_bps"`
	RecommendedSlippageBps uint32 `json:"recommended_slippage_bps"`
	EffectiveSlippageBps   uint32 `json:"effective_slippage_bps"`
	MinimumAmountOut       string `json:"minimum_amount_out"`
}

type tradeCallResponse struct {
	Market      string        `json:"market"`
	Calldata    string        `json:"calldata"`
	Description string        `json:"description"`
	Quote       quoteResponse `json:"quote"`
}

func (h *Handler) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	h.trackedMu.RLock()
	addrs := make([]common.Address, len(h.tracked))
	copy(addrs, h.tracked)
	h.trackedMu.RUnlock()

	markets, err := h.markets.Markets(r.Context(), addrs)
	if err != nil {
		h.logger.Error("failed to list markets", "error", err)
		status, msg := userFriendlyError(err)
		writeError(w, status, msg)
		return
	}

	out := make([]marketResponse, 0, len(markets))
	for _, m := range markets {
		out = append(out, newMarketResponse(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleMarket(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}

	market, err := h.markets.Market(r.Context(), addr)
	if err != nil {
		h.logger.Error("failed to get market", "market", addr.Hex(), "error", err)
		status, msg := userFriendlyError(err)
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, newMarketResponse(market))
}

func (h *Handler) handleQuote(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}

	direction, err := parseDirection(r.URL.Query().Get("direction"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "direction must be buy or sell")
		return
	}
	outcome, err := model.ParseOutcome(r.URL.Query().Get("outcome"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "outcome must be YES or NO")
		return
	}
	amount, err := parseAmount(r.URL.Query().Get("amount"), direction)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	slippageBps, err := parseSlippageBps(r.URL.Query().Get("slippage_bps"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid slippage_bps")
		return
	}

	result, err := h.markets.Quote(r.Context(), service.QuoteRequest{
		Market:      addr,
		Direction:   direction,
		Outcome:     outcome,
		AmountIn:    amount,
		SlippageBps: slippageBps,
	})
	if err != nil {
		h.logger.Warn("quote failed", "market", addr.Hex(), "error", err)
		status, msg := userFriendlyError(err)
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, newQuoteResponse(direction, outcome, amount, result))
}

type tradeRequest struct {
	Outcome     string `json:"outcome"`
	Amount      string `json:"amount"`
	SlippageBps uint32 `json:"slippage_bps"`
}

func (h *Handler) handleBuildBuyTx(w http.ResponseWriter, r *http.Request) {
	h.handleBuildTx(w, r, curve.DirectionBuy)
}

func (h *Handler) handleBuildSellTx(w http.ResponseWriter, r *http.Request) {
	h.handleBuildTx(w, r, curve.DirectionSell)
}

func (h *Handler) handleBuildTx(w http.ResponseWriter, r *http.Request, direction curve.Direction) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}

	var body tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	outcome, err := model.ParseOutcome(body.Outcome)
	if err != nil {
		writeError(w, http.StatusBadRequest, "outcome must be YES or NO")
		return
	}
	amount, err := parseAmount(body.Amount, direction)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	if body.SlippageBps > curve.BpsDenom {
		writeError(w, http.StatusBadRequest, "invalid slippage_bps")
		return
	}

	req := service.QuoteRequest{
		Market:      addr,
		Direction:   direction,
		Outcome:     outcome,
		AmountIn:    amount,
		SlippageBps: body.SlippageBps,
	}

	var call evm.TradeCall
	var result *service.QuoteResult
	if direction == curve.DirectionBuy {
		call, result, err = h.markets.BuildBuyTx(r.Context(), req)
	} else {
		call, result, err = h.markets.BuildSellTx(r.Context(), req)
	}
	if err != nil {
		h.logger.Warn("failed to build trade tx", "market", addr.Hex(), "direction", direction.String(), "error", err)
		status, msg := userFriendlyError(err)
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, tradeCallResponse{
		Market:      call.Market.Hex(),
		Calldata:    hexutil.Encode(call.Calldata),
		Description: call.Description,
		Quote:       newQuoteResponse(direction, outcome, amount, result),
	})
}

func (h *Handler) handleTrades(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"), defaultTradesLimit)

	trades, err := h.store.Trades(r.Context(), addr.Hex(), limit)
	if err != nil {
		h.logger.Error("failed to list trades", "market", addr.Hex(), "error", err)
		status, msg := userFriendlyError(err)
		writeError(w, status, msg)
		return
	}
	if trades == nil {
		trades = []model.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func (h *Handler) handleCandles(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}

	tf, err := model.ParseTimeframe(r.URL.Query().Get("timeframe"))
	if err != nil {
		status, msg := userFriendlyError(err)
		writeError(w, status, msg)
		return
	}

	var from int64
	if s := r.URL.Query().Get("from"); s != "" {
		from, err = strconv.ParseInt(s, 10, 64)
		if err != nil || from < 0 {
			writeError(w, http.StatusBadRequest, "invalid from timestamp")
			return
		}
	}
	limit := parseLimit(r.URL.Query().Get("limit"), defaultCandlesLimit)

	candles, err := h.store.Candles(r.Context(), addr.Hex(), tf, from, limit)
	if err != nil {
		h.logger.Error("failed to list candles", "market", addr.Hex(), "error", err)
		status, msg := userFriendlyError(err)
		writeError(w, status, msg)
		return
	}
	if candles == nil {
		candles = []*model.Candle{}
	}
	writeJSON(w, http.StatusOK, candles)
}

func (h *Handler) handleHolders(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"), defaultHoldersLimit)

	holders, err := h.store.TopHolders(r.Context(), addr.Hex(), limit)
	if err != nil {
		h.logger.Error("failed to list holders", "market", addr.Hex(), "error", err)
		status, msg := userFriendlyError(err)
		writeError(w, status, msg)
		return
	}
	if holders == nil {
		holders = []model.HolderPosition{}
	}
	writeJSON(w, http.StatusOK, holders)
}

func newMarketResponse(m *model.Market) marketResponse {
	resp := marketResponse{Market: m}

	state := service.CurveState(m)
	if priceYes, err := state.SpotPriceE18(curve.SideYes); err == nil {
		resp.PriceYesE18 = priceYes.String()
		resp.PriceYes = model.FormatPriceE18(priceYes)
	}
	if priceNo, err := state.SpotPriceE18(curve.SideNo); err == nil {
		resp.PriceNoE18 = priceNo.String()
		resp.PriceNo = model.FormatPriceE18(priceNo)
	}
	return resp
}

func newQuoteResponse(direction curve.Direction, outcome model.Outcome, amountIn *big.Int, result *service.QuoteResult) quoteResponse {
	return quoteResponse{
		Sequence:               result.Sequence,
		Market:                 result.Market.Address,
		Direction:              direction.String(),
		Outcome:                outcome.String(),
		AmountIn:               amountIn.String(),
		AmountOut:              result.Quote.AmountOut.String(),
		PostTradePriceE18:      result.Quote.PostTradePriceE18.String(),
		PostTradePrice:         model.FormatPriceE18(result.Quote.PostTradePriceE18),
		PriceImpactBps:         result.Quote.PriceImpactBps,
		RecommendedSlippageBps: result.Quote.RecommendedSlippageBps,
		EffectiveSlippageBps:   result.Quote.EffectiveSlippageBps,
		MinimumAmountOut:       result.Quote.MinimumAmountOut.String(),
	}
}

func pathAddress(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := chi.URLParam(r, "address")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid market address")
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func parseDirection(s string) (curve.Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return curve.DirectionBuy, nil
	case "sell":
		return curve.DirectionSell, nil
	default:
		return 0, curve.ErrInvalidAmount
	}
}

// parseAmount reads a human decimal amount: USDC for buys, outcome
// tokens for sells. The scaled value must be integral in the asset's
// native precision.
func parseAmount(s string, direction curve.Direction) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, curve.ErrInvalidAmount
	}

	scale := int32(model.USDCDecimals)
	if direction == curve.DirectionSell {
		scale = model.WadDecimals
	}
	scaled := d.Shift(scale)
	if !scaled.IsInteger() || scaled.Sign() <= 0 {
		return nil, curve.ErrInvalidAmount
	}
	return scaled.BigInt(), nil
}

func parseSlippageBps(s string) (uint32, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil || v > curve.BpsDenom {
		return 0, curve.ErrInvalidAmount
	}
	return uint32(v), nil
}

func parseLimit(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 || v > 1000 {
		return fallback
	}
	return v
}

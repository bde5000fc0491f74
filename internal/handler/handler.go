// Package handler exposes the JSON API: market snapshots, quotes,
// trade calldata, indexed trades and candles.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/duomarket/duomarket/internal/curve"
	"github.com/duomarket/duomarket/internal/model"
	"github.com/duomarket/duomarket/internal/service"
)

// MarketStore is the read side of the indexed data. Implemented by
// *repository.Repository.
type MarketStore interface {
	Trades(ctx context.Context, market string, limit int) ([]model.TradeRecord, error)
	Candles(ctx context.Context, market string, tf model.Timeframe, from int64, limit int) ([]*model.Candle, error)
	TopHolders(ctx context.Context, market string, limit int) ([]model.HolderPosition, error)
}

type Handler struct {
	markets   *service.MarketService
	store     MarketStore
	tracked   []common.Address
	trackedMu sync.RWMutex
	logger    *slog.Logger
}

func New(markets *service.MarketService, store MarketStore, logger *slog.Logger) (*Handler, error) {
	if markets == nil {
		return nil, fmt.Errorf("market service is nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	return &Handler{
		markets: markets,
		store:   store,
		logger:  logger,
	}, nil
}

// SetTracked replaces the list of markets served by the list endpoint.
func (h *Handler) SetTracked(addrs []common.Address) {
	h.trackedMu.Lock()
	defer h.trackedMu.Unlock()
	h.tracked = make([]common.Address, len(addrs))
	copy(h.tracked, addrs)
}

// Router builds the chi router with all API routes.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.handleHealth)
	r.Route("/markets", func(r chi.Router) {
		r.Get("/", h.handleListMarkets)
		r.Route("/{address}", func(r chi.Router) {
			r.Get("/", h.handleMarket)
			r.Get("/quote", h.handleQuote)
			r.Post("/buy", h.handleBuildBuyTx)
			r.Post("/sell", h.handleBuildSellTx)
			r.Get("/trades", h.handleTrades)
			r.Get("/candles", h.handleCandles)
			r.Get("/holders", h.handleHolders)
		})
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// userFriendlyError maps internal errors onto API messages. Uses
// errors.Is() to match wrapped errors.
func userFriendlyError(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrMarketNotFound):
		return http.StatusNotFound, "market not found"
	case errors.Is(err, service.ErrMarketNotTradable):
		return http.StatusConflict, "market is paused or resolved"
	case errors.Is(err, model.ErrInvalidOutcome):
		return http.StatusBadRequest, "outcome must be YES or NO"
	case errors.Is(err, model.ErrInvalidAddress):
		return http.StatusBadRequest, "invalid market address"
	case errors.Is(err, model.ErrInvalidTimeframe):
		return http.StatusBadRequest, "timeframe must be 5m, 1h or 1d"
	case errors.Is(err, curve.ErrInvalidAmount):
		return http.StatusBadRequest, "amount must be a positive number"
	case errors.Is(err, curve.ErrInsufficientLiquidity):
		return http.StatusUnprocessableEntity, "trade too large for current liquidity"
	case errors.Is(err, curve.ErrOverflow):
		return http.StatusUnprocessableEntity, "trade amount out of range"
	case errors.Is(err, curve.ErrNoRealSolution):
		return http.StatusUnprocessableEntity, "trade not possible at this size"
	case errors.Is(err, curve.ErrCurveUnavailable):
		return http.StatusServiceUnavailable, "market state unavailable for pricing"
	default:
		return http.StatusInternalServerError, "an error occurred, please try again"
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/hot"

	"github.com/duomarket/duomarket/internal/curve"
	"github.com/duomarket/duomarket/internal/evm"
	"github.com/duomarket/duomarket/internal/model"
)

var (
	ErrMarketNotFound    = errors.New("market not found")
	ErrMarketNotTradable = errors.New("market is not tradable")
)

const (
	snapshotCacheSize = 256
	loadTimeout       = 10 * time.Second
)

// MarketReader fetches the current on-chain state of a market contract.
type MarketReader interface {
	ReadMarket(ctx context.Context, market common.Address) (*model.Market, error)
}

// MarketService exposes market snapshots and quote generation on top of
// cached contract state. Snapshots are revalidated in the background so
// quotes stay close to the chain without a contract call per request.
type MarketService struct {
	reader MarketReader
	cache  *hot.HotCache[string, *model.Market]
	policy curve.SlippagePolicy
	seq    atomic.Uint64
	logger *slog.Logger
}

// NewMarketService creates a new market service. refreshInterval controls
// both the snapshot TTL and the background revalidation period.
func NewMarketService(reader MarketReader, policy curve.SlippagePolicy, refreshInterval time.Duration, logger *slog.Logger) *MarketService {
	s := &MarketService{
		reader: reader,
		policy: policy,
		logger: logger,
	}

	s.cache = hot.NewHotCache[string, *model.Market](hot.LRU, snapshotCacheSize).
		WithTTL(refreshInterval).
		WithRevalidation(refreshInterval, s.loadMarkets).
		WithRevalidationErrorPolicy(hot.KeepOnError).
		Build()

	return s
}

// loadMarkets is the cache revalidation loader.
func (s *MarketService) loadMarkets(keys []string) (map[string]*model.Market, error) {
	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()

	out := make(map[string]*model.Market, len(keys))
	for _, key := range keys {
		market, err := s.reader.ReadMarket(ctx, common.HexToAddress(key))
		if err != nil {
			s.logger.Warn("failed to refresh market snapshot", "market", key, "error", err)
			return nil, fmt.Errorf("failed to refresh market %s: %w", key, err)
		}
		out[key] = market
	}
	return out, nil
}

// Market returns a snapshot of the market state, served from cache when fresh.
func (s *MarketService) Market(ctx context.Context, addr common.Address) (*model.Market, error) {
	key := cacheKey(addr)

	market, found, err := s.cache.Get(key)
	if err != nil {
		return nil, fmt.Errorf("failed to get market from cache: %w", err)
	}
	if found {
		return market, nil
	}

	market, err = s.reader.ReadMarket(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to read market %s: %w", addr.Hex(), err)
	}

	s.cache.Set(key, market)
	return market, nil
}

// Markets fetches snapshots for multiple markets in parallel. Markets that
// fail to load are logged and skipped.
func (s *MarketService) Markets(ctx context.Context, addrs []common.Address) ([]*model.Market, error) {
	results := make([]*model.Market, len(addrs))
	var wg sync.WaitGroup

	for i, addr := range addrs {
		wg.Add(1)
		go func(idx int, a common.Address) {
			defer wg.Done()

			market, err := s.Market(ctx, a)
			if err != nil {
				s.logger.Warn("failed to get market state", "market", a.Hex(), "error", err)
				return
			}
			results[idx] = market
		}(i, addr)
	}

	wg.Wait()

	markets := make([]*model.Market, 0, len(results))
	for _, m := range results {
		if m != nil {
			markets = append(markets, m)
		}
	}
	return markets, nil
}

// QuoteRequest contains data for pricing a trade against a market.
type QuoteRequest struct {
	Market      common.Address
	Direction   curve.Direction
	Outcome     model.Outcome
	AmountIn    *big.Int
	SlippageBps uint32
}

// Validate validates the quote request.
func (r *QuoteRequest) Validate() error {
	if r.Market == (common.Address{}) {
		return model.ErrInvalidAddress
	}
	if r.Direction != curve.DirectionBuy && r.Direction != curve.DirectionSell {
		return fmt.Errorf("invalid trade direction %q", r.Direction)
	}
	if !r.Outcome.IsValid() {
		return model.ErrInvalidOutcome
	}
	if r.AmountIn == nil || r.AmountIn.Sign() <= 0 {
		return curve.ErrInvalidAmount
	}
	if r.SlippageBps > curve.BpsDenom {
		return curve.ErrInvalidAmount
	}
	return nil
}

// QuoteResult pairs a curve quote with the market snapshot it was computed
// from and a sequence number for discarding stale in-flight responses.
type QuoteResult struct {
	Sequence uint64
	Market   *model.Market
	Quote    *curve.Result
}

// Quote prices a trade against the cached market snapshot. Each result
// carries a monotonically increasing sequence number so callers racing
// concurrent quotes can keep only the newest one.
func (s *MarketService) Quote(ctx context.Context, req QuoteRequest) (*QuoteResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	market, err := s.Market(ctx, req.Market)
	if err != nil {
		return nil, err
	}
	if !market.Status.Tradable() {
		return nil, ErrMarketNotTradable
	}

	quote, err := curve.Quote(CurveState(market), curve.Request{
		Direction:   req.Direction,
		Side:        sideOf(req.Outcome),
		AmountIn:    req.AmountIn,
		SlippageBps: req.SlippageBps,
	}, s.policy)
	if err != nil {
		return nil, fmt.Errorf("failed to quote %s %s on %s: %w", req.Direction, req.Outcome, req.Market.Hex(), err)
	}

	return &QuoteResult{
		Sequence: s.seq.Add(1),
		Market:   market,
		Quote:    quote,
	}, nil
}

// BuildBuyTx quotes a buy and packs the corresponding buyShares calldata,
// with the quote's slippage-adjusted minimum output as the bound.
func (s *MarketService) BuildBuyTx(ctx context.Context, req QuoteRequest) (evm.TradeCall, *QuoteResult, error) {
	req.Direction = curve.DirectionBuy

	result, err := s.Quote(ctx, req)
	if err != nil {
		return evm.TradeCall{}, nil, err
	}

	call, err := evm.BuildBuyCall(req.Market, req.Outcome, req.AmountIn, result.Quote.MinimumAmountOut)
	if err != nil {
		return evm.TradeCall{}, nil, fmt.Errorf("failed to build buy transaction: %w", err)
	}

	return call, result, nil
}

// BuildSellTx quotes a sell and packs the corresponding sellShares calldata.
func (s *MarketService) BuildSellTx(ctx context.Context, req QuoteRequest) (evm.TradeCall, *QuoteResult, error) {
	req.Direction = curve.DirectionSell

	result, err := s.Quote(ctx, req)
	if err != nil {
		return evm.TradeCall{}, nil, err
	}

	call, err := evm.BuildSellCall(req.Market, req.Outcome, req.AmountIn, result.Quote.MinimumAmountOut)
	if err != nil {
		return evm.TradeCall{}, nil, fmt.Errorf("failed to build sell transaction: %w", err)
	}

	return call, result, nil
}

// CurveState builds the pricing state for a market snapshot.
func CurveState(m *model.Market) *curve.State {
	return &curve.State{
		ReserveYes:      m.ReserveYes,
		ReserveNo:       m.ReserveNo,
		VirtualOffset:   m.VirtualOffset,
		TotalFeeBps:     m.TotalFeeBps(),
		SellFeesEnabled: m.SellFeesEnabled,
	}
}

func sideOf(o model.Outcome) curve.Side {
	if o == model.OutcomeYes {
		return curve.SideYes
	}
	return curve.SideNo
}

func cacheKey(addr common.Address) string {
	return addr.Hex()
}

// Package indexer replays SharesBought/SharesSold logs into trade
// records, holder position deltas and OHLC candles. It is pure
// aggregation over decoded events; persistence and merging with
// previously stored buckets happen in the store.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/duomarket/duomarket/internal/model"
)

var ErrNoNewBlocks = errors.New("no new blocks since cursor")

// ChainReader is the subset of the RPC client the indexer needs.
// *ethclient.Client satisfies it.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Batch is one atomic unit of indexed output: everything decoded from
// a contiguous block range, plus the cursor to resume from.
type Batch struct {
	Market    string
	Trades    []model.TradeRecord
	Deltas    []PositionDelta
	Candles   []*model.Candle
	NextBlock uint64
}

// Store persists indexed batches. ApplyBatch must be atomic: trades,
// deltas, candles and the cursor commit together or not at all.
type Store interface {
	IndexCursor(ctx context.Context, market string) (uint64, error)
	ApplyBatch(ctx context.Context, batch Batch) error
}

// Indexer polls a market contract's logs and folds them into the store.
type Indexer struct {
	chain      ChainReader
	store      Store
	startBlock uint64
	batchSize  uint64
	logger     *slog.Logger
}

const defaultBatchSize = 5_000

// New creates an indexer. startBlock is where indexing begins for
// markets with no persisted cursor (normally the deployment block).
func New(chain ChainReader, store Store, startBlock uint64, logger *slog.Logger) *Indexer {
	return &Indexer{
		chain:      chain,
		store:      store,
		startBlock: startBlock,
		batchSize:  defaultBatchSize,
		logger:     logger,
	}
}

// Run polls the chain for new logs until the context is cancelled.
func (ix *Indexer) Run(ctx context.Context, market common.Address, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := ix.Sync(ctx, market)
		switch {
		case errors.Is(err, ErrNoNewBlocks):
		case err != nil:
			ix.logger.Error("sync failed", "market", market.Hex(), "error", err)
		case n > 0:
			ix.logger.Info("indexed trades", "market", market.Hex(), "trades", n)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sync replays logs from the persisted cursor up to the chain head,
// committing one batch per block range. Returns the number of trades
// indexed.
func (ix *Indexer) Sync(ctx context.Context, market common.Address) (int, error) {
	cursor, err := ix.store.IndexCursor(ctx, market.Hex())
	if err != nil {
		return 0, fmt.Errorf("failed to load cursor: %w", err)
	}
	if cursor < ix.startBlock {
		cursor = ix.startBlock
	}

	head, err := ix.chain.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get chain head: %w", err)
	}
	if head < cursor {
		return 0, ErrNoNewBlocks
	}

	total := 0
	for from := cursor; from <= head; from += ix.batchSize {
		to := from + ix.batchSize - 1
		if to > head {
			to = head
		}

		batch, err := ix.replayRange(ctx, market, from, to)
		if err != nil {
			return total, err
		}
		if err := ix.store.ApplyBatch(ctx, batch); err != nil {
			return total, fmt.Errorf("failed to persist batch [%d,%d]: %w", from, to, err)
		}
		total += len(batch.Trades)
	}
	return total, nil
}

// replayRange fetches and decodes all trade logs in [from, to].
func (ix *Indexer) replayRange(ctx context.Context, market common.Address, from, to uint64) (Batch, error) {
	logs, err := ix.chain.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{market},
		Topics:    [][]common.Hash{{sharesBoughtID, sharesSoldID}},
	})
	if err != nil {
		return Batch{}, fmt.Errorf("failed to filter logs [%d,%d]: %w", from, to, err)
	}

	timestamps := make(map[uint64]int64, 4)
	trades := make([]model.TradeRecord, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}

		ts, ok := timestamps[lg.BlockNumber]
		if !ok {
			header, err := ix.chain.HeaderByNumber(ctx, new(big.Int).SetUint64(lg.BlockNumber))
			if err != nil {
				return Batch{}, fmt.Errorf("failed to get header %d: %w", lg.BlockNumber, err)
			}
			ts = int64(header.Time)
			timestamps[lg.BlockNumber] = ts
		}

		trade, err := decodeTradeLog(lg, ts)
		if err != nil {
			return Batch{}, fmt.Errorf("failed to decode log %s#%d: %w", lg.TxHash.Hex(), lg.Index, err)
		}
		trades = append(trades, trade)
	}

	return Batch{
		Market:    market.Hex(),
		Trades:    trades,
		Deltas:    positionDeltas(trades),
		Candles:   buildCandles(market.Hex(), trades),
		NextBlock: to + 1,
	}, nil
}

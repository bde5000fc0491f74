// Package repository persists market snapshots and indexed trade data
// in Postgres. Big integer amounts are stored as NUMERIC and travel as
// decimal strings across the wire.
package repository

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duomarket/duomarket/internal/indexer"
	"github.com/duomarket/duomarket/internal/model"
)

var ErrNotFound = errors.New("not found")

type Repository struct {
	pool *pgxpool.Pool
	sq   squirrel.StatementBuilderType
}

func New(pool *pgxpool.Pool) (*Repository, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &Repository{
		pool: pool,
		sq:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}, nil
}

var marketColumns = []string{
	"address", "question", "yes_token", "no_token", "lp_token",
	"reserve_yes::text", "reserve_no::text", "usdc_vault::text",
	"total_pairs_usdc::text", "virtual_offset::text",
	"fee_treasury_bps", "fee_vault_bps", "fee_lp_bps",
	"sell_fees_enabled", "status", "resolution", "resolved_at", "fetched_at",
}

// UpsertMarket stores the latest snapshot of a market.
func (r *Repository) UpsertMarket(ctx context.Context, m *model.Market) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid market: %w", err)
	}

	query, args, err := r.sq.
		Insert("markets").
		Columns("address", "question", "yes_token", "no_token", "lp_token",
			"reserve_yes", "reserve_no", "usdc_vault", "total_pairs_usdc",
			"virtual_offset", "fee_treasury_bps", "fee_vault_bps", "fee_lp_bps",
			"sell_fees_enabled", "status", "resolution", "resolved_at", "fetched_at").
		Values(m.Address, m.Question, m.YesToken, m.NoToken, m.LPToken,
			numeric(m.ReserveYes), numeric(m.ReserveNo), numeric(m.USDCVault),
			numeric(m.TotalPairsUSDC), numeric(m.VirtualOffset),
			m.FeeTreasuryBps, m.FeeVaultBps, m.FeeLpBps,
			m.SellFeesEnabled, int16(m.Status), string(m.Resolution), m.ResolvedAt, m.FetchedAt).
		Suffix(`ON CONFLICT (address) DO UPDATE SET
			question = EXCLUDED.question,
			yes_token = EXCLUDED.yes_token,
			no_token = EXCLUDED.no_token,
			lp_token = EXCLUDED.lp_token,
			reserve_yes = EXCLUDED.reserve_yes,
			reserve_no = EXCLUDED.reserve_no,
			usdc_vault = EXCLUDED.usdc_vault,
			total_pairs_usdc = EXCLUDED.total_pairs_usdc,
			virtual_offset = EXCLUDED.virtual_offset,
			fee_treasury_bps = EXCLUDED.fee_treasury_bps,
			fee_vault_bps = EXCLUDED.fee_vault_bps,
			fee_lp_bps = EXCLUDED.fee_lp_bps,
			sell_fees_enabled = EXCLUDED.sell_fees_enabled,
			status = EXCLUDED.status,
			resolution = EXCLUDED.resolution,
			resolved_at = EXCLUDED.resolved_at,
			fetched_at = EXCLUDED.fetched_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert market: %w", err)
	}
	return nil
}

// GetMarket returns the stored snapshot for one market.
func (r *Repository) GetMarket(ctx context.Context, address string) (*model.Market, error) {
	query, args, err := r.sq.
		Select(marketColumns...).
		From("markets").
		Where(squirrel.Eq{"address": address}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	m, err := scanMarket(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("market %s: %w", address, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query market: %w", err)
	}
	return m, nil
}

// ListMarkets returns all stored markets, newest snapshot first.
func (r *Repository) ListMarkets(ctx context.Context) ([]*model.Market, error) {
	query, args, err := r.sq.
		Select(marketColumns...).
		From("markets").
		OrderBy("fetched_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query markets: %w", err)
	}
	defer rows.Close()

	var markets []*model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan market: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// Trades returns the most recent trades for a market.
func (r *Repository) Trades(ctx context.Context, market string, limit int) ([]model.TradeRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query, args, err := r.sq.
		Select("market", "trader", "trade_type", "usdc_amount::text",
			"token_amount::text", "price_e6", "ts", "tx_hash", "block_number").
		From("trades").
		Where(squirrel.Eq{"market": market}).
		OrderBy("ts DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []model.TradeRecord
	for rows.Next() {
		var t model.TradeRecord
		var tradeType, usdc, tokens string
		if err := rows.Scan(&t.Market, &t.User, &tradeType, &usdc, &tokens,
			&t.PriceE6, &t.Timestamp, &t.TxHash, &t.BlockNumber); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		if t.Type, err = model.ParseTradeType(tradeType); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		if t.USDCAmount, err = parseNumeric(usdc); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		if t.TokenAmount, err = parseNumeric(tokens); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Candles returns candles for a market and timeframe from a bucket
// start onwards, oldest first.
func (r *Repository) Candles(ctx context.Context, market string, tf model.Timeframe, from int64, limit int) ([]*model.Candle, error) {
	if limit <= 0 {
		limit = 500
	}

	query, args, err := r.sq.
		Select("market", "timeframe", "bucket_start",
			"open_yes", "high_yes", "low_yes", "close_yes",
			"open_no", "high_no", "low_no", "close_no",
			"volume_usdc::text", "trades").
		From("candles").
		Where(squirrel.Eq{"market": market, "timeframe": string(tf)}).
		Where(squirrel.GtOrEq{"bucket_start": from}).
		OrderBy("bucket_start ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles []*model.Candle
	for rows.Next() {
		var c model.Candle
		var tfStr, volume string
		if err := rows.Scan(&c.Market, &tfStr, &c.BucketStart,
			&c.OpenYes, &c.HighYes, &c.LowYes, &c.CloseYes,
			&c.OpenNo, &c.HighNo, &c.LowNo, &c.CloseNo,
			&volume, &c.Trades); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		c.Timeframe = model.Timeframe(tfStr)
		if c.VolumeUSDC, err = parseNumeric(volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, &c)
	}
	return candles, rows.Err()
}

// TopHolders returns the largest positions in a market by combined
// token balance.
func (r *Repository) TopHolders(ctx context.Context, market string, limit int) ([]model.HolderPosition, error) {
	if limit <= 0 {
		limit = 50
	}

	query, args, err := r.sq.
		Select("market", "trader", "yes_tokens::text", "no_tokens::text", "updated_at").
		From("holders").
		Where(squirrel.Eq{"market": market}).
		OrderBy("yes_tokens + no_tokens DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query holders: %w", err)
	}
	defer rows.Close()

	var holders []model.HolderPosition
	for rows.Next() {
		var h model.HolderPosition
		var yes, no string
		if err := rows.Scan(&h.Market, &h.User, &yes, &no, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan holder: %w", err)
		}
		if h.YesTokens, err = parseNumeric(yes); err != nil {
			return nil, fmt.Errorf("failed to scan holder: %w", err)
		}
		if h.NoTokens, err = parseNumeric(no); err != nil {
			return nil, fmt.Errorf("failed to scan holder: %w", err)
		}
		holders = append(holders, h)
	}
	return holders, rows.Err()
}

// IndexCursor returns the next block the indexer should read for a
// market, zero when the market has never been indexed.
func (r *Repository) IndexCursor(ctx context.Context, market string) (uint64, error) {
	query, args, err := r.sq.
		Select("next_block").
		From("index_cursors").
		Where(squirrel.Eq{"market": market}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}

	var next int64
	err = r.pool.QueryRow(ctx, query, args...).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query cursor: %w", err)
	}
	return uint64(next), nil
}

// ApplyBatch commits one indexed batch atomically: trades, holder
// deltas, candle merges and the advanced cursor.
func (r *Repository) ApplyBatch(ctx context.Context, batch indexer.Batch) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, t := range batch.Trades {
		if err := r.insertTrade(ctx, tx, t); err != nil {
			return err
		}
	}
	for _, d := range batch.Deltas {
		if err := r.applyDelta(ctx, tx, d); err != nil {
			return err
		}
	}
	for _, c := range batch.Candles {
		if err := r.mergeCandle(ctx, tx, c); err != nil {
			return err
		}
	}
	if err := r.saveCursor(ctx, tx, batch.Market, batch.NextBlock); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func (r *Repository) insertTrade(ctx context.Context, tx pgx.Tx, t model.TradeRecord) error {
	query, args, err := r.sq.
		Insert("trades").
		Columns("market", "trader", "trade_type", "usdc_amount", "token_amount",
			"price_e6", "ts", "tx_hash", "block_number").
		Values(t.Market, t.User, string(t.Type), numeric(t.USDCAmount),
			numeric(t.TokenAmount), t.PriceE6, t.Timestamp, t.TxHash, t.BlockNumber).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	return nil
}

func (r *Repository) applyDelta(ctx context.Context, tx pgx.Tx, d indexer.PositionDelta) error {
	query, args, err := r.sq.
		Insert("holders").
		Columns("market", "trader", "yes_tokens", "no_tokens", "updated_at").
		Values(d.Market, d.User, numeric(d.YesDelta), numeric(d.NoDelta), d.UpdatedAt).
		Suffix(`ON CONFLICT (market, trader) DO UPDATE SET
			yes_tokens = holders.yes_tokens + EXCLUDED.yes_tokens,
			no_tokens = holders.no_tokens + EXCLUDED.no_tokens,
			updated_at = GREATEST(holders.updated_at, EXCLUDED.updated_at)`).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to apply position delta: %w", err)
	}
	return nil
}

// mergeCandle folds a partial batch candle into the stored bucket:
// the stored open wins, high/low widen, close and volume come from the
// newer data.
func (r *Repository) mergeCandle(ctx context.Context, tx pgx.Tx, c *model.Candle) error {
	query, args, err := r.sq.
		Insert("candles").
		Columns("market", "timeframe", "bucket_start",
			"open_yes", "high_yes", "low_yes", "close_yes",
			"open_no", "high_no", "low_no", "close_no",
			"volume_usdc", "trades").
		Values(c.Market, string(c.Timeframe), c.BucketStart,
			c.OpenYes, c.HighYes, c.LowYes, c.CloseYes,
			c.OpenNo, c.HighNo, c.LowNo, c.CloseNo,
			numeric(c.VolumeUSDC), c.Trades).
		Suffix(`ON CONFLICT (market, timeframe, bucket_start) DO UPDATE SET
			high_yes = GREATEST(candles.high_yes, EXCLUDED.high_yes),
			low_yes = LEAST(candles.low_yes, EXCLUDED.low_yes),
			close_yes = EXCLUDED.close_yes,
			high_no = GREATEST(candles.high_no, EXCLUDED.high_no),
			low_no = LEAST(candles.low_no, EXCLUDED.low_no),
			close_no = EXCLUDED.close_no,
			volume_usdc = candles.volume_usdc + EXCLUDED.volume_usdc,
			trades = candles.trades + EXCLUDED.trades`).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to merge candle: %w", err)
	}
	return nil
}

func (r *Repository) saveCursor(ctx context.Context, tx pgx.Tx, market string, nextBlock uint64) error {
	query, args, err := r.sq.
		Insert("index_cursors").
		Columns("market", "next_block").
		Values(market, int64(nextBlock)).
		Suffix("ON CONFLICT (market) DO UPDATE SET next_block = EXCLUDED.next_block").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMarket(row rowScanner) (*model.Market, error) {
	var m model.Market
	var reserveYes, reserveNo, vault, pairs, offset, resolution string
	var status int16
	var resolvedAt *time.Time

	err := row.Scan(&m.Address, &m.Question, &m.YesToken, &m.NoToken, &m.LPToken,
		&reserveYes, &reserveNo, &vault, &pairs, &offset,
		&m.FeeTreasuryBps, &m.FeeVaultBps, &m.FeeLpBps,
		&m.SellFeesEnabled, &status, &resolution, &resolvedAt, &m.FetchedAt)
	if err != nil {
		return nil, err
	}

	if m.ReserveYes, err = parseNumeric(reserveYes); err != nil {
		return nil, err
	}
	if m.ReserveNo, err = parseNumeric(reserveNo); err != nil {
		return nil, err
	}
	if m.USDCVault, err = parseNumeric(vault); err != nil {
		return nil, err
	}
	if m.TotalPairsUSDC, err = parseNumeric(pairs); err != nil {
		return nil, err
	}
	if m.VirtualOffset, err = parseNumeric(offset); err != nil {
		return nil, err
	}
	m.Status = model.MarketStatus(status)
	m.Resolution = model.Outcome(resolution)
	m.ResolvedAt = resolvedAt
	return &m, nil
}

// numeric renders a big integer for a NUMERIC column; nil stores zero.
func numeric(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", s)
	}
	return v, nil
}

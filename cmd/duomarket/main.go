package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	_ "github.com/joho/godotenv/autoload"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/duomarket/duomarket/internal/chart"
	"github.com/duomarket/duomarket/internal/config"
	"github.com/duomarket/duomarket/internal/curve"
	"github.com/duomarket/duomarket/internal/database"
	"github.com/duomarket/duomarket/internal/evm"
	"github.com/duomarket/duomarket/internal/handler"
	"github.com/duomarket/duomarket/internal/indexer"
	"github.com/duomarket/duomarket/internal/logger"
	"github.com/duomarket/duomarket/internal/model"
	"github.com/duomarket/duomarket/internal/repository"
	"github.com/duomarket/duomarket/internal/service"
	"github.com/duomarket/duomarket/internal/subgraph"
)

func main() {
	app := &cli.App{
		Name:  "duomarket",
		Usage: "Binary prediction market quotes, trading calldata and event indexing",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "rpc-url",
				Value:   config.DefaultRPCURL,
				Usage:   "EVM JSON-RPC endpoint",
				EnvVars: []string{"RPC_URL"},
			},
			&cli.Uint64Flag{
				Name:    "chain-id",
				Value:   config.DefaultChainID,
				Usage:   "Expected chain id of the RPC endpoint",
				EnvVars: []string{"CHAIN_ID"},
			},
		},
		Before: func(c *cli.Context) error {
			logger.Setup(logger.ParseLevel(c.String("log-level")))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Start the API server with the background indexer",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "port",
						Aliases: []string{"p"},
						Value:   config.DefaultPort,
						Usage:   "HTTP server port",
						EnvVars: []string{"PORT"},
					},
					&cli.StringFlag{
						Name:     "database-url",
						Usage:    "Postgres connection URL",
						EnvVars:  []string{"DATABASE_URL"},
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:     "markets",
						Usage:    "Market contract addresses to track (comma-separated)",
						EnvVars:  []string{"MARKETS"},
						Required: true,
					},
					&cli.Uint64Flag{
						Name:    "start-block",
						Value:   config.DefaultStartBlock,
						Usage:   "First block to index for markets without a cursor",
						EnvVars: []string{"START_BLOCK"},
					},
					&cli.DurationFlag{
						Name:    "poll-interval",
						Value:   config.DefaultPollInterval,
						Usage:   "Indexer poll interval",
						EnvVars: []string{"POLL_INTERVAL"},
					},
					&cli.DurationFlag{
						Name:    "refresh-interval",
						Value:   config.DefaultRefreshInterval,
						Usage:   "Market snapshot cache refresh interval",
						EnvVars: []string{"REFRESH_INTERVAL"},
					},
				},
				Action: runServe,
			},
			{
				Name:  "index",
				Usage: "Run the event indexer without the API server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "database-url",
						Usage:    "Postgres connection URL",
						EnvVars:  []string{"DATABASE_URL"},
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:     "markets",
						Usage:    "Market contract addresses to index",
						EnvVars:  []string{"MARKETS"},
						Required: true,
					},
					&cli.Uint64Flag{
						Name:    "start-block",
						Value:   config.DefaultStartBlock,
						Usage:   "First block to index for markets without a cursor",
						EnvVars: []string{"START_BLOCK"},
					},
					&cli.DurationFlag{
						Name:    "poll-interval",
						Value:   config.DefaultPollInterval,
						Usage:   "Indexer poll interval",
						EnvVars: []string{"POLL_INTERVAL"},
					},
					&cli.StringFlag{
						Name:    "subgraph-url",
						Value:   config.DefaultSubgraphURL,
						Usage:   "Subgraph endpoint for seeding history (empty disables backfill)",
						EnvVars: []string{"SUBGRAPH_URL"},
					},
				},
				Action: runIndex,
			},
			{
				Name:      "quote",
				Usage:     "Price a trade against a live market",
				ArgsUsage: "<market> <buy|sell> <YES|NO> <amount>",
				Flags: []cli.Flag{
					&cli.UintFlag{
						Name:    "slippage-bps",
						Value:   0,
						Usage:   "User slippage tolerance in basis points (0 uses the recommendation)",
						EnvVars: []string{"SLIPPAGE_BPS"},
					},
				},
				Action: runQuote,
			},
			{
				Name:      "chart",
				Usage:     "Render indexed candles as an ASCII chart",
				ArgsUsage: "<market>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "database-url",
						Usage:    "Postgres connection URL",
						EnvVars:  []string{"DATABASE_URL"},
						Required: true,
					},
					&cli.StringFlag{
						Name:    "timeframe",
						Value:   "1h",
						Usage:   "Candle timeframe (5m, 1h, 1d)",
						EnvVars: []string{"TIMEFRAME"},
					},
				},
				Action: runChart,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func parseMarkets(raw []string) ([]common.Address, error) {
	addrs := make([]common.Address, 0, len(raw))
	for _, s := range raw {
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid market address %q", s)
		}
		addrs = append(addrs, common.HexToAddress(s))
	}
	return addrs, nil
}

// dialRPC connects to the configured endpoint and refuses to proceed
// when it serves a different chain than the one the flags expect.
func dialRPC(ctx context.Context, c *cli.Context) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, c.String("rpc-url"))
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}
	if want := c.Uint64("chain-id"); chainID.Uint64() != want {
		client.Close()
		return nil, fmt.Errorf("RPC serves chain %s, expected %d", chainID, want)
	}
	return client, nil
}

func slippagePolicy() curve.SlippagePolicy {
	return curve.SlippagePolicy{
		BufferBps: config.DefaultSlippageBufferBps,
		MinBps:    config.MinSlippageBps,
		MaxBps:    config.MaxSlippageBps,
	}
}

func runServe(c *cli.Context) error {
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	markets, err := parseMarkets(c.StringSlice("markets"))
	if err != nil {
		return err
	}

	client, err := dialRPC(ctx, c)
	if err != nil {
		return err
	}
	defer client.Close()

	db, err := database.New(ctx, c.String("database-url"))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}

	repo, err := repository.New(db.Pool())
	if err != nil {
		return err
	}

	reader, err := evm.NewStateReader(client)
	if err != nil {
		return err
	}

	marketService := service.NewMarketService(reader, slippagePolicy(), c.Duration("refresh-interval"), slog.Default())

	h, err := handler.New(marketService, repo, slog.Default())
	if err != nil {
		return err
	}
	h.SetTracked(markets)

	ix := indexer.New(client, repo, c.Uint64("start-block"), slog.Default())
	for _, market := range markets {
		market := market
		go func() {
			if err := ix.Run(ctx, market, c.Duration("poll-interval")); err != nil && ctx.Err() == nil {
				slog.Error("indexer stopped", "market", market.Hex(), "error", err)
			}
		}()
	}

	port := c.String("port")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server",
			"addr", "http://localhost:"+port,
			"rpc", c.String("rpc-url"),
			"markets", len(markets),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-done:
		slog.Info("shutting down server")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

func runIndex(c *cli.Context) error {
	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	markets, err := parseMarkets(c.StringSlice("markets"))
	if err != nil {
		return err
	}

	client, err := dialRPC(ctx, c)
	if err != nil {
		return err
	}
	defer client.Close()

	db, err := database.New(ctx, c.String("database-url"))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}

	repo, err := repository.New(db.Pool())
	if err != nil {
		return err
	}

	startBlock := c.Uint64("start-block")
	if url := c.String("subgraph-url"); url != "" {
		if err := backfill(ctx, subgraph.NewClient(url), repo, markets, startBlock); err != nil {
			return err
		}
	}

	ix := indexer.New(client, repo, startBlock, slog.Default())
	errs := make(chan error, len(markets))
	for _, market := range markets {
		market := market
		go func() {
			errs <- ix.Run(ctx, market, c.Duration("poll-interval"))
		}()
	}

	for range markets {
		if err := <-errs; err != nil && ctx.Err() == nil {
			return err
		}
	}
	return nil
}

// backfill seeds trade history from the subgraph for markets that have
// never been indexed locally.
func backfill(ctx context.Context, sg *subgraph.Client, repo *repository.Repository, markets []common.Address, startBlock uint64) error {
	for _, market := range markets {
		cursor, err := repo.IndexCursor(ctx, market.Hex())
		if err != nil {
			return err
		}
		if cursor != 0 {
			continue
		}

		trades, err := sg.TradesSince(ctx, market.Hex(), 0, subgraph.DefaultPageSize)
		if err != nil {
			return fmt.Errorf("backfill failed for %s: %w", market.Hex(), err)
		}
		if len(trades) == 0 {
			continue
		}

		batch := indexer.BatchFromTrades(market.Hex(), trades, startBlock)
		if err := repo.ApplyBatch(ctx, batch); err != nil {
			return fmt.Errorf("failed to persist backfill for %s: %w", market.Hex(), err)
		}
		slog.Info("backfilled trades", "market", market.Hex(), "trades", len(trades))
	}
	return nil
}

func runQuote(c *cli.Context) error {
	if c.NArg() != 4 {
		return fmt.Errorf("usage: quote <market> <buy|sell> <YES|NO> <amount>")
	}

	raw := c.Args().Get(0)
	if !common.IsHexAddress(raw) {
		return fmt.Errorf("invalid market address %q", raw)
	}
	market := common.HexToAddress(raw)

	var direction curve.Direction
	switch c.Args().Get(1) {
	case "buy":
		direction = curve.DirectionBuy
	case "sell":
		direction = curve.DirectionSell
	default:
		return fmt.Errorf("direction must be buy or sell")
	}

	outcome, err := model.ParseOutcome(c.Args().Get(2))
	if err != nil {
		return err
	}

	amount, err := parseCLIAmount(c.Args().Get(3), direction)
	if err != nil {
		return err
	}

	client, err := dialRPC(c.Context, c)
	if err != nil {
		return err
	}
	defer client.Close()

	reader, err := evm.NewStateReader(client)
	if err != nil {
		return err
	}

	marketService := service.NewMarketService(reader, slippagePolicy(), config.DefaultRefreshInterval, slog.Default())

	result, err := marketService.Quote(c.Context, service.QuoteRequest{
		Market:      market,
		Direction:   direction,
		Outcome:     outcome,
		AmountIn:    amount,
		SlippageBps: uint32(c.Uint("slippage-bps")),
	})
	if err != nil {
		return err
	}

	q := result.Quote
	if direction == curve.DirectionBuy {
		fmt.Printf("buy %s with %s USDC\n", outcome, model.FormatUSDC(amount))
		fmt.Printf("  tokens out:    %s\n", model.FormatWad(q.AmountOut))
		fmt.Printf("  minimum out:   %s\n", model.FormatWad(q.MinimumAmountOut))
	} else {
		fmt.Printf("sell %s %s tokens\n", model.FormatWad(amount), outcome)
		fmt.Printf("  USDC out:      %s\n", model.FormatUSDC(q.AmountOut))
		fmt.Printf("  minimum out:   %s\n", model.FormatUSDC(q.MinimumAmountOut))
	}
	fmt.Printf("  price after:   %s\n", model.FormatPriceE18(q.PostTradePriceE18))
	fmt.Printf("  price impact:  %d bps\n", q.PriceImpactBps)
	fmt.Printf("  slippage:      %d bps (recommended %d)\n", q.EffectiveSlippageBps, q.RecommendedSlippageBps)
	return nil
}

func parseCLIAmount(s string, direction curve.Direction) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	scale := int32(model.USDCDecimals)
	if direction == curve.DirectionSell {
		scale = model.WadDecimals
	}
	scaled := d.Shift(scale)
	if !scaled.IsInteger() || scaled.Sign() <= 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return scaled.BigInt(), nil
}

func runChart(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: chart <market>")
	}
	raw := c.Args().Get(0)
	if !common.IsHexAddress(raw) {
		return fmt.Errorf("invalid market address %q", raw)
	}
	market := common.HexToAddress(raw)

	tf, err := model.ParseTimeframe(c.String("timeframe"))
	if err != nil {
		return err
	}

	db, err := database.New(c.Context, c.String("database-url"))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	repo, err := repository.New(db.Pool())
	if err != nil {
		return err
	}

	candles, err := repo.Candles(c.Context, market.Hex(), tf, 0, 0)
	if err != nil {
		return err
	}

	fmt.Println(chart.RenderCloseChart(candles, chart.DefaultWidth, chart.DefaultHeight))
	if len(candles) > 0 {
		fmt.Println(chart.RenderSimpleBar(candles[len(candles)-1].CloseYes, 50))
	}
	return nil
}

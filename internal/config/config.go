package config

import "time"

const (
	DefaultPort = "8080"

	// Chain configuration
	DefaultRPCURL     = "https://mainnet.base.org"
	DefaultChainID    = 8453
	DefaultStartBlock = 0

	// Snapshot cache refresh; quotes are priced against state at most
	// this old.
	DefaultRefreshInterval = 5 * time.Second

	// Indexer poll interval
	DefaultPollInterval = 15 * time.Second

	// Subgraph backfill endpoint (empty disables backfill)
	DefaultSubgraphURL = ""

	// Slippage policy defaults in basis points
	DefaultSlippageBufferBps = 30
	MinSlippageBps           = 10
	MaxSlippageBps           = 1000
)

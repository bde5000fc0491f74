// Package evm reads duomarket exchange contracts and builds trade
// calldata. Signing and broadcast stay outside this repository; the
// package only speaks the contract's wire format.
package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// marketABIJSON describes the exchange contract surface this client
// consumes. getMarket's output order is the contract's storage layout
// and is authoritative: changing it breaks every positional decode.
const marketABIJSON = `[
  {
    "name": "getMarket",
    "type": "function",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [
      {"name": "yesToken", "type": "address"},
      {"name": "noToken", "type": "address"},
      {"name": "reserveYes", "type": "uint256"},
      {"name": "reserveNo", "type": "uint256"},
      {"name": "usdcVault", "type": "uint256"},
      {"name": "totalPairsUsdc", "type": "uint256"},
      {"name": "virtualOffset", "type": "uint256"},
      {"name": "feeTreasuryBps", "type": "uint16"},
      {"name": "feeVaultBps", "type": "uint16"},
      {"name": "feeLpBps", "type": "uint16"},
      {"name": "status", "type": "uint8"},
      {"name": "question", "type": "string"},
      {"name": "lpToken", "type": "address"},
      {"name": "resolution", "type": "tuple", "components": [
        {"name": "outcome", "type": "uint8"},
        {"name": "resolvedAt", "type": "uint64"}
      ]}
    ]
  },
  {
    "name": "sellFeesEnabled",
    "type": "function",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{"name": "", "type": "bool"}]
  },
  {
    "name": "buyShares",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "side", "type": "uint8"},
      {"name": "usdcIn", "type": "uint256"},
      {"name": "minTokensOut", "type": "uint256"}
    ],
    "outputs": [{"name": "tokensOut", "type": "uint256"}]
  },
  {
    "name": "sellShares",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "side", "type": "uint8"},
      {"name": "tokensIn", "type": "uint256"},
      {"name": "minUsdcOut", "type": "uint256"}
    ],
    "outputs": [{"name": "usdcOut", "type": "uint256"}]
  },
  {
    "name": "SharesBought",
    "type": "event",
    "inputs": [
      {"name": "user", "type": "address", "indexed": true},
      {"name": "side", "type": "uint8", "indexed": false},
      {"name": "usdcIn", "type": "uint256", "indexed": false},
      {"name": "tokensOut", "type": "uint256", "indexed": false},
      {"name": "priceE6", "type": "uint256", "indexed": false}
    ]
  },
  {
    "name": "SharesSold",
    "type": "event",
    "inputs": [
      {"name": "user", "type": "address", "indexed": true},
      {"name": "side", "type": "uint8", "indexed": false},
      {"name": "tokensIn", "type": "uint256", "indexed": false},
      {"name": "usdcOut", "type": "uint256", "indexed": false},
      {"name": "priceE6", "type": "uint256", "indexed": false}
    ]
  }
]`

// MarketABI is the parsed contract ABI, shared by the reader, the
// calldata builder and the indexer's log decoder.
var MarketABI = mustParseABI(marketABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("evm: invalid embedded market ABI: " + err.Error())
	}
	return parsed
}

// Contract-side outcome encoding: 0 = YES, 1 = NO; resolution adds
// 0 = unresolved.
const (
	SideYes uint8 = 0
	SideNo  uint8 = 1

	ResolutionNone uint8 = 0
	ResolutionYes  uint8 = 1
	ResolutionNo   uint8 = 2
)

package model

import (
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Validation errors.
var (
	ErrInvalidOutcome   = errors.New("invalid outcome: must be YES or NO")
	ErrInvalidAddress   = errors.New("invalid EVM address format")
	ErrInvalidStatus    = errors.New("invalid market status")
	ErrInvalidTimeframe = errors.New("invalid timeframe: must be 5m, 1h or 1d")
	ErrEmptyQuestion    = errors.New("question is required")
)

const (
	// USDCDecimals is the collateral precision; outcome tokens and
	// curve reserves use WadDecimals.
	USDCDecimals = 6
	WadDecimals  = 18
)

// Outcome represents a market outcome (YES or NO).
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// ParseOutcome parses a string into an Outcome.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "YES":
		return OutcomeYes, nil
	case "NO":
		return OutcomeNo, nil
	default:
		return "", ErrInvalidOutcome
	}
}

// IsValid returns true if the outcome is valid.
func (o Outcome) IsValid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// String returns the string representation.
func (o Outcome) String() string {
	return string(o)
}

// MarketStatus mirrors the contract's status enum.
type MarketStatus uint8

const (
	StatusActive MarketStatus = iota
	StatusPaused
	StatusResolved
)

func (s MarketStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusPaused:
		return "paused"
	case StatusResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// IsValid returns true for a status the contract can store.
func (s MarketStatus) IsValid() bool {
	return s <= StatusResolved
}

// Tradable reports whether trades are currently accepted.
func (s MarketStatus) Tradable() bool {
	return s == StatusActive
}

// Market is one binary prediction market as read from the exchange
// contract. Reserves and the virtual offset are 18-decimal fixed
// point; vault balances are 6-decimal USDC.
type Market struct {
	Address         string       `json:"address"`
	YesToken        string       `json:"yes_token"`
	NoToken         string       `json:"no_token"`
	LPToken         string       `json:"lp_token"`
	ReserveYes      *big.Int     `json:"reserve_yes"`
	ReserveNo       *big.Int     `json:"reserve_no"`
	USDCVault       *big.Int     `json:"usdc_vault"`
	TotalPairsUSDC  *big.Int     `json:"total_pairs_usdc"`
	VirtualOffset   *big.Int     `json:"virtual_offset"`
	FeeTreasuryBps  uint32       `json:"fee_treasury_bps"`
	FeeVaultBps     uint32       `json:"fee_vault_bps"`
	FeeLpBps        uint32       `json:"fee_lp_bps"`
	SellFeesEnabled bool         `json:"sell_fees_enabled"`
	Status          MarketStatus `json:"status"`
	Question        string       `json:"question"`
	Resolution      Outcome      `json:"resolution,omitempty"`
	ResolvedAt      *time.Time   `json:"resolved_at,omitempty"`
	FetchedAt       time.Time    `json:"fetched_at"`
}

// TotalFeeBps sums the treasury, vault and LP shares; pricing only
// cares about the total.
func (m *Market) TotalFeeBps() uint32 {
	return m.FeeTreasuryBps + m.FeeVaultBps + m.FeeLpBps
}

// Validate checks market invariants.
func (m *Market) Validate() error {
	if m.Address == "" {
		return ErrInvalidAddress
	}
	if m.Question == "" {
		return ErrEmptyQuestion
	}
	if !m.Status.IsValid() {
		return ErrInvalidStatus
	}
	if m.ReserveYes == nil || m.ReserveNo == nil || m.VirtualOffset == nil {
		return errors.New("market reserves are required")
	}
	if m.ReserveYes.Sign() < 0 || m.ReserveNo.Sign() < 0 || m.VirtualOffset.Sign() < 0 {
		return errors.New("market reserves must be non-negative")
	}
	if m.Status == StatusResolved && !m.Resolution.IsValid() {
		return ErrInvalidOutcome
	}
	if m.Status != StatusResolved && m.Resolution != "" {
		return errors.New("unresolved market must not carry a resolution")
	}
	return nil
}

// FormatUSDC renders a 6-decimal fixed-point amount for display.
// Display formatting is the only place non-integer arithmetic enters.
func FormatUSDC(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -USDCDecimals).String()
}

// FormatWad renders an 18-decimal fixed-point amount for display,
// trimmed to 6 visible decimal places.
func FormatWad(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -WadDecimals).Round(6).String()
}

// FormatPriceE18 renders an 18-decimal price in [0,1] as a
// probability with 4 visible decimals.
func FormatPriceE18(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -WadDecimals).Round(4).String()
}

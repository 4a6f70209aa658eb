package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Category is the market category used in topics (e.g. "SWAP_USDT", "OPTION").
type Category string

const (
	CategorySpot       Category = "SPOT"
	CategorySwapUSD    Category = "SWAP_USD"
	CategorySwapUSDT   Category = "SWAP_USDT"
	CategorySwapUSDC   Category = "SWAP_USDC"
	CategoryFutureUSD  Category = "FUTURE_USD"
	CategoryFutureUSDT Category = "FUTURE_USDT"
	CategoryFutureUSDC Category = "FUTURE_USDC"
	CategoryOption     Category = "OPTION"
	CategoryOptionUSDC Category = "OPTION_USDC"

	// CategoryIndex files index prices, which belong to no tradable market.
	CategoryIndex Category = "INDEX"
)

// IsDerivative reports whether the category carries a mark price ticker (swaps and futures).
func (c Category) IsDerivative() bool {
	s := string(c)
	return strings.HasPrefix(s, "SWAP") || strings.HasPrefix(s, "FUTURE")
}

// IsOption reports whether the category is an option market.
func (c Category) IsOption() bool {
	return strings.HasPrefix(string(c), "OPTION")
}

// Expires reports whether instruments of this category have an expiry date.
func (c Category) Expires() bool {
	return strings.HasPrefix(string(c), "FUTURE") || c.IsOption()
}

// Instrument is the immutable identity of a tradable market.
// Name is the normalised system name, ExchangeID the venue's own id.
type Instrument struct {
	Name       string
	ExchangeID string
	Exchange   string
	Category   Category
	Base       string
	Quote      string
	Settle     string

	// Contract scaling: canonical size = raw size * ContractValue * ContractMultiplier.
	ContractValue      decimal.Decimal
	ContractMultiplier decimal.Decimal

	TickSize decimal.Decimal
	LotSize  decimal.Decimal
	MinSize  decimal.Decimal

	// ExpiresAt is zero for perpetual and spot markets.
	ExpiresAt time.Time
}

// ContractSize returns the per-instrument factor converting raw contract counts into canonical size.
// Missing factors count as 1 (spot markets report none).
func (i Instrument) ContractSize() decimal.Decimal {
	value := i.ContractValue
	if value.IsZero() {
		value = decimal.NewFromInt(1)
	}
	mult := i.ContractMultiplier
	if mult.IsZero() {
		mult = decimal.NewFromInt(1)
	}
	return value.Mul(mult)
}

// Expired reports whether the instrument has an expiry at or before now.
func (i Instrument) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !i.ExpiresAt.After(now)
}

// ExpirationDays returns whole days left until expiry, or nil for non-expiring markets.
func (i Instrument) ExpirationDays(now time.Time) *int64 {
	if i.ExpiresAt.IsZero() {
		return nil
	}
	days := int64(i.ExpiresAt.Sub(now) / (24 * time.Hour))
	return &days
}

// ExpirationMillis returns the expiry as unix milliseconds, or nil for non-expiring markets.
func (i Instrument) ExpirationMillis() *int64 {
	if i.ExpiresAt.IsZero() {
		return nil
	}
	ms := i.ExpiresAt.UnixMilli()
	return &ms
}

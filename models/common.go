// Package models provides shared domain entities for the trading
// orchestration engine. These types are used across every package for
// consistent data representation and persistence mapping.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Entity carries the fields every persistent record shares: identity,
// timestamps, soft-delete, and an optimistic-concurrency version.
type Entity struct {
	ID        string     `json:"id" db:"id"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
	Version   int64      `json:"version" db:"version"`
}

// IsDeleted reports whether the entity has been soft-deleted.
func (e Entity) IsDeleted() bool {
	return e.DeletedAt != nil
}

// Direction is the side of a signal, intent, or trade.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Opposite returns the reversed direction, used when building exit orders.
func (d Direction) Opposite() Direction {
	if d == DirectionBuy {
		return DirectionSell
	}
	return DirectionBuy
}

// OrderType mirrors the broker order types named in spec.md §6.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStopLoss  OrderType = "STOP_LOSS"
)

// ProductType mirrors the broker product types named in spec.md §6.
type ProductType string

const (
	ProductCNC  ProductType = "CNC"
	ProductMIS  ProductType = "MIS"
	ProductNRML ProductType = "NRML"
	ProductMTF  ProductType = "MTF"
	ProductBO   ProductType = "BO"
	ProductCO   ProductType = "CO"
)

// Validity is the broker order time-in-force.
type Validity string

const (
	ValidityDay Validity = "DAY"
	ValidityIOC Validity = "IOC"
	ValidityGTC Validity = "GTC"
)

// Money is a 2-decimal-place fixed-point amount (prices, values).
// Ratios and log-returns use 4/6 decimal places respectively via
// decimal.Decimal directly, rounded at the persistence boundary.
type Money = decimal.Decimal

// NewMoney rounds f to 2 decimal places, matching the NUMERIC(18,2)
// column type spec.md §6 mandates for price/value fields.
func NewMoney(f float64) Money {
	return decimal.NewFromFloat(f).Round(2)
}

// NewRatio rounds f to 4 decimal places for probabilities/ratios.
func NewRatio(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(4)
}

// NewLogReturn rounds f to 6 decimal places, matching NUMERIC(10,6).
func NewLogReturn(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(6)
}

// ParseMoney parses a decimal string (e.g. a broker API field) into a
// 2-decimal-place Money value.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, err
	}
	return d.Round(2), nil
}

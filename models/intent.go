package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// IntentStatus is the TradeIntent lifecycle state between validation and
// either a confirmed Trade or a terminal rejection (spec.md §4.7).
type IntentStatus string

const (
	IntentStatusPending   IntentStatus = "PENDING"
	IntentStatusPlaced    IntentStatus = "PLACED"
	IntentStatusFilled    IntentStatus = "FILLED"
	IntentStatusRejected  IntentStatus = "REJECTED"
	IntentStatusFailed    IntentStatus = "FAILED"
	IntentStatusCancelled IntentStatus = "CANCELLED"
)

// PositionSizeResult is returned by the out-of-scope sizing collaborator;
// the core only consumes it, never recomputes it (spec.md §1).
type PositionSizeResult struct {
	Quantity      int64
	NotionalValue Money
	RiskAmount    Money
	StopLoss      Money
	TargetPrice   Money

	// LimitingConstraint names whichever bound the sizer hit first
	// (e.g. "MAX_NOTIONAL", "RISK_PER_TRADE", "AVAILABLE_CAPITAL"), for
	// diagnostics when a validator rejection cites sizing as the cause.
	LimitingConstraint string
}

// TradeIntent is the atomic unit of "we decided to place an order". Its
// IntentID is the broker idempotency tag: replaying OrderExecutor with the
// same TradeIntent must never place a second order (P3).
type TradeIntent struct {
	Entity

	SignalID       string `json:"signal_id" db:"signal_id"`
	SignalDeliveryID string `json:"signal_delivery_id" db:"signal_delivery_id"`
	UserID         string `json:"user_id" db:"user_id"`
	UserBrokerID   string `json:"user_broker_id" db:"user_broker_id"`

	IntentID string `json:"intent_id" db:"intent_id"` // broker-facing idempotency key, unique

	Symbol      string      `json:"symbol" db:"symbol"`
	Direction   Direction   `json:"direction" db:"direction"`
	OrderType   OrderType   `json:"order_type" db:"order_type"`
	ProductType ProductType `json:"product_type" db:"product_type"`
	Validity    Validity    `json:"validity" db:"validity"`

	Quantity      int64           `json:"quantity" db:"quantity"`
	LimitPrice    *Money          `json:"limit_price,omitempty" db:"limit_price"`
	StopLoss      Money           `json:"stop_loss" db:"stop_loss"`
	TargetPrice   Money           `json:"target_price" db:"target_price"`
	NotionalValue Money           `json:"notional_value" db:"notional_value"`
	RiskAmount    Money           `json:"risk_amount" db:"risk_amount"`
	Kelly         decimal.Decimal `json:"kelly" db:"kelly"`

	Status       IntentStatus `json:"status" db:"status"`
	RejectReason string       `json:"reject_reason,omitempty" db:"reject_reason"`

	BrokerOrderID string     `json:"broker_order_id,omitempty" db:"broker_order_id"`
	PlacedAt      *time.Time `json:"placed_at,omitempty" db:"placed_at"`
}

// IsTerminal reports whether the intent has reached a state OrderExecutor
// no longer acts on.
func (t TradeIntent) IsTerminal() bool {
	switch t.Status {
	case IntentStatusFilled, IntentStatusRejected, IntentStatusFailed, IntentStatusCancelled:
		return true
	default:
		return false
	}
}

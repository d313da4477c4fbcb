package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeStatus is the top-level Trade lifecycle state (spec.md §4.7/§4.8):
// CREATED (row exists, order not yet sent) → PENDING (order placed,
// awaiting broker fill confirmation) → OPEN (filled) → EXITING (exit
// order placed) → CLOSED. REJECTED/CANCELLED/FAILED are terminal
// off-ramps from CREATED/PENDING.
type TradeStatus string

const (
	TradeStatusCreated   TradeStatus = "CREATED"
	TradeStatusPending   TradeStatus = "PENDING"
	TradeStatusOpen      TradeStatus = "OPEN"
	TradeStatusExiting   TradeStatus = "EXITING"
	TradeStatusClosed    TradeStatus = "CLOSED"
	TradeStatusRejected  TradeStatus = "REJECTED"
	TradeStatusCancelled TradeStatus = "CANCELLED"
	TradeStatusFailed    TradeStatus = "FAILED"
)

// Trade is the single record of a filled position from entry through exit.
// TradeCoordinator is its sole writer, serialized per trade id through the
// actor partition (P1).
type Trade struct {
	Entity

	IntentID     string `json:"intent_id" db:"intent_id"` // unique; idempotency anchor
	SignalID     string `json:"signal_id" db:"signal_id"`
	UserID       string `json:"user_id" db:"user_id"`
	UserBrokerID string `json:"user_broker_id" db:"user_broker_id"`

	Symbol    string    `json:"symbol" db:"symbol"`
	Direction Direction `json:"direction" db:"direction"`

	// Entry snapshot, fixed at fill time.
	EntryPrice    Money     `json:"entry_price" db:"entry_price"`
	EntryQuantity int64     `json:"entry_quantity" db:"entry_quantity"`
	EntryFilledAt time.Time `json:"entry_filled_at" db:"entry_filled_at"`

	// Derived exit targets, set once at entry and never recomputed.
	InitialStopLoss  Money `json:"initial_stop_loss" db:"initial_stop_loss"`
	InitialTarget    Money `json:"initial_target" db:"initial_target"`

	// Live fields, mutated as the trade is marked-to-market.
	LastPrice         Money           `json:"last_price" db:"last_price"`
	LastMarkedAt      time.Time       `json:"last_marked_at" db:"last_marked_at"`
	OpenQuantity      int64           `json:"open_quantity" db:"open_quantity"`
	RealizedPnL       Money           `json:"realized_pnl" db:"realized_pnl"`
	UnrealizedPnL     Money           `json:"unrealized_pnl" db:"unrealized_pnl"`
	CurrentLogReturn  decimal.Decimal `json:"current_log_return" db:"current_log_return"`

	// Trailing-stop fields (P7: monotonic in the trade's favor only).
	TrailingStop        *Money `json:"trailing_stop,omitempty" db:"trailing_stop"`
	TrailingActive      bool   `json:"trailing_active" db:"trailing_active"`
	TrailingHighestPrice *Money `json:"trailing_highest_price,omitempty" db:"trailing_highest_price"`

	// Exit fields, populated as the exit pipeline progresses.
	ExitPrice          *Money          `json:"exit_price,omitempty" db:"exit_price"`
	ExitQuantity       int64           `json:"exit_quantity" db:"exit_quantity"`
	ExitReason         string          `json:"exit_reason,omitempty" db:"exit_reason"`
	ClosedAt           *time.Time      `json:"closed_at,omitempty" db:"closed_at"`
	RealizedLogReturn  decimal.Decimal `json:"realized_log_return,omitempty" db:"realized_log_return"`
	HoldingDays        int             `json:"holding_days,omitempty" db:"holding_days"`

	// Broker tracking. LastBrokerUpdateAt is the reconciler's heartbeat,
	// distinct from LastMarkedAt (tick-driven mark-to-market time) — it
	// only advances on a broker round-trip and drives PendingOrderReconciler's
	// pending_timeout check (spec.md §4.8).
	EntryBrokerOrderID  string     `json:"entry_broker_order_id" db:"entry_broker_order_id"`
	ExitBrokerOrderID   string     `json:"exit_broker_order_id,omitempty" db:"exit_broker_order_id"`
	LastBrokerUpdateAt  time.Time  `json:"last_broker_update_at" db:"last_broker_update_at"`
	RejectReason        string     `json:"reject_reason,omitempty" db:"reject_reason"`

	Status TradeStatus `json:"status" db:"status"`
}

// UpdateTrailingStop advances the trailing stop only if candidate improves
// on the current stop in the trade's favor (P7). Returns whether it moved.
func (t *Trade) UpdateTrailingStop(candidate Money) bool {
	if t.TrailingStop == nil {
		t.TrailingStop = &candidate
		t.TrailingActive = true
		return true
	}
	switch t.Direction {
	case DirectionBuy:
		if candidate.GreaterThan(*t.TrailingStop) {
			t.TrailingStop = &candidate
			return true
		}
	case DirectionSell:
		if candidate.LessThan(*t.TrailingStop) {
			t.TrailingStop = &candidate
			return true
		}
	}
	return false
}

// IsOpen reports whether the trade still carries quantity subject to exit.
func (t Trade) IsOpen() bool {
	return t.Status == TradeStatusOpen || t.Status == TradeStatusExiting
}

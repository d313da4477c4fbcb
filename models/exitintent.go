package models

import "time"

// ExitReason names why an exit was requested (spec.md §4.9).
type ExitReason string

const (
	ExitReasonTargetHit    ExitReason = "TARGET_HIT"
	ExitReasonStopLoss     ExitReason = "STOP_LOSS"
	ExitReasonTrailingStop ExitReason = "TRAILING_STOP"
	ExitReasonTimeBased    ExitReason = "TIME_BASED"
	ExitReasonRiskBreach   ExitReason = "RISK_BREACH"
	ExitReasonManual       ExitReason = "MANUAL"
	ExitReasonSignal       ExitReason = "SIGNAL_EXIT"
	ExitReasonSessionClose ExitReason = "SESSION_CLOSE"
)

// ExitIntentStatus mirrors TradeIntent's lifecycle for the exit leg.
type ExitIntentStatus string

const (
	ExitIntentStatusPending   ExitIntentStatus = "PENDING"
	ExitIntentStatusApproved  ExitIntentStatus = "APPROVED"
	ExitIntentStatusRejected  ExitIntentStatus = "REJECTED"
	ExitIntentStatusPlaced    ExitIntentStatus = "PLACED"
	ExitIntentStatusFilled    ExitIntentStatus = "FILLED"
	ExitIntentStatusFailed    ExitIntentStatus = "FAILED"
	ExitIntentStatusCancelled ExitIntentStatus = "CANCELLED"
)

// ExitIntent requests that all or part of a Trade be closed. Dedup is
// enforced by actor-partition serialization on TradeID plus a storage-level
// uniqueness check on (trade_id, exit_reason, status not in CANCELLED/FAILED)
// per the Open Question resolution in SPEC_FULL.md §3.
type ExitIntent struct {
	Entity

	TradeID string     `json:"trade_id" db:"trade_id"`
	Reason  ExitReason `json:"reason" db:"exit_reason"`

	Quantity   int64 `json:"quantity" db:"quantity"`
	LimitPrice *Money `json:"limit_price,omitempty" db:"limit_price"`

	Status       ExitIntentStatus `json:"status" db:"status"`
	RejectReason string           `json:"reject_reason,omitempty" db:"reject_reason"`

	BrokerOrderID string     `json:"broker_order_id,omitempty" db:"broker_order_id"`
	PlacedAt      *time.Time `json:"placed_at,omitempty" db:"placed_at"`
	FilledAt      *time.Time `json:"filled_at,omitempty" db:"filled_at"`
	FillPrice     *Money     `json:"fill_price,omitempty" db:"fill_price"`
}

// IsTerminal reports whether the exit intent has reached a status the exit
// pipeline no longer acts on.
func (e ExitIntent) IsTerminal() bool {
	switch e.Status {
	case ExitIntentStatusFilled, ExitIntentStatusFailed, ExitIntentStatusCancelled, ExitIntentStatusRejected:
		return true
	default:
		return false
	}
}

// Package events defines the domain event bus vocabulary emitted by the
// core for the out-of-scope gateway's push layer (spec.md §6).
package events

import "time"

// Type identifies a domain event's shape.
type Type string

const (
	SystemStatus       Type = "SYSTEM_STATUS"
	CandleFinalized    Type = "CANDLE_FINALIZED"
	SignalPublished    Type = "SIGNAL_PUBLISHED"
	IntentApproved     Type = "INTENT_APPROVED"
	IntentRejected     Type = "INTENT_REJECTED"
	OrderCreated       Type = "ORDER_CREATED"
	OrderRejected      Type = "ORDER_REJECTED"
	ExitIntentPlaced   Type = "EXIT_INTENT_PLACED"
	ExitIntentFilled   Type = "EXIT_INTENT_FILLED"
	ExitIntentFailed   Type = "EXIT_INTENT_FAILED"
	ExitIntentCanceled Type = "EXIT_INTENT_CANCELLED"
)

// Event is the envelope published on the bus. Payload carries just the ids
// needed to join back to persistent state — consumers re-query storage
// for anything beyond that.
type Event struct {
	Type      Type        `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// SystemStatusPayload reports the health of a broker connection.
type SystemStatusPayload struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
}

// CandleFinalizedPayload announces a newly closed candle.
type CandleFinalizedPayload struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	OpenTime  int64  `json:"open_time"`
}

// SignalPublishedPayload announces a newly ACTIVE signal.
type SignalPublishedPayload struct {
	SignalID string `json:"signal_id"`
	Symbol   string `json:"symbol"`
	Type     string `json:"signal_type"`
}

// IntentDecisionPayload reports ExecutionOrchestrator's verdict on a TradeIntent.
type IntentDecisionPayload struct {
	IntentID     string `json:"intent_id"`
	DeliveryID   string `json:"delivery_id"`
	UserBrokerID string `json:"user_broker_id"`
	Reason       string `json:"reason,omitempty"`
}

// OrderPayload reports a Trade's placement outcome.
type OrderPayload struct {
	TradeID       string `json:"trade_id"`
	IntentID      string `json:"intent_id"`
	BrokerOrderID string `json:"broker_order_id,omitempty"`
	ErrorCode     string `json:"error_code,omitempty"`
}

// ExitIntentPayload reports an exit intent's lifecycle transition.
type ExitIntentPayload struct {
	ExitIntentID string `json:"exit_intent_id"`
	TradeID      string `json:"trade_id"`
	Reason       string `json:"exit_reason"`
	ErrorCode    string `json:"error_code,omitempty"`
}

// Bus is a minimal publish interface so components depend on an
// interface, not realtime.WebSocketManager directly.
type Bus interface {
	Publish(t Type, payload interface{})
}

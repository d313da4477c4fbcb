package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alexherrero/tradecore/apperr"
	"github.com/alexherrero/tradecore/broker"
	"github.com/alexherrero/tradecore/events"
	"github.com/alexherrero/tradecore/models"
	"github.com/alexherrero/tradecore/store"
)

// PortResolver looks up the live broker connection for a user-broker,
// satisfied by *broker.Registry in production (mirrors the interface
// execution.Orchestrator depends on, kept package-local so order doesn't
// import execution just for this one shape).
type PortResolver interface {
	Get(userBrokerID string) (broker.Port, error)
}

// Executor is OrderExecutor (C7): polls PENDING TradeIntents (the
// approved-not-yet-placed state, see execution.Orchestrator's doc
// comment) and places the entry broker order for each (spec.md §4.7).
type Executor struct {
	intents        *store.IntentStore
	signals        *store.SignalStore
	registry       PortResolver
	coordinator    *Coordinator
	bus            events.Bus
	now            func() time.Time
	tradingEnabled func() bool
}

// NewExecutor builds an Executor. tradingEnabled is read fresh on every
// intent so flipping config.TradingEnabled off mid-run takes effect
// immediately (spec.md §4.7 step 1).
func NewExecutor(
	intents *store.IntentStore,
	signals *store.SignalStore,
	registry PortResolver,
	coordinator *Coordinator,
	bus events.Bus,
	tradingEnabled func() bool,
) *Executor {
	return &Executor{
		intents:        intents,
		signals:        signals,
		registry:       registry,
		coordinator:    coordinator,
		bus:            bus,
		now:            time.Now,
		tradingEnabled: tradingEnabled,
	}
}

// Poll is the Scheduler's periodic trigger: list PENDING intents and
// place each one's entry order.
func (e *Executor) Poll(ctx context.Context, limit int) error {
	pending, err := e.intents.ListApproved(ctx, limit)
	if err != nil {
		return fmt.Errorf("order: poll approved intents: %w", err)
	}
	for i := range pending {
		intent := pending[i]
		if err := e.process(ctx, &intent); err != nil {
			log.Error().Err(err).Str("intent_id", intent.IntentID).Msg("order executor failed to process intent")
		}
	}
	return nil
}

func (e *Executor) process(ctx context.Context, intent *models.TradeIntent) error {
	if !e.tradingEnabled() {
		return nil // refuse silently; intent stays PENDING for the next cycle
	}

	port, err := e.registry.Get(intent.UserBrokerID)
	if err != nil || port == nil || !port.CanPlaceOrders() {
		return nil // READ-ONLY mode: refuse without mutating the intent
	}

	sig, err := e.signals.Get(ctx, intent.SignalID)
	if err != nil {
		return fmt.Errorf("order: load signal for intent %s: %w", intent.IntentID, err)
	}

	trade, err := e.coordinator.CreateFromIntent(ctx, intent, sig)
	if err != nil {
		return fmt.Errorf("order: create trade from intent %s: %w", intent.IntentID, err)
	}
	if trade.Status != models.TradeStatusCreated {
		return nil // already placed by a prior run; nothing left to do
	}

	req := broker.OrderRequest{
		IntentID:    intent.IntentID,
		Symbol:      intent.Symbol,
		Exchange:    "NSE", // instrument-level exchange routing is out of scope; every symbol here is NSE cash/MIS
		Direction:   intent.Direction,
		OrderType:   intent.OrderType,
		ProductType: intent.ProductType,
		Validity:    intent.Validity,
		Quantity:    intent.Quantity,
		LimitPrice:  intent.LimitPrice,
	}

	ack, err := port.PlaceOrder(ctx, req)
	now := e.now()
	if err != nil {
		code, reason := classifyPlacementError(err)
		if markErr := e.coordinator.MarkRejected(ctx, trade.ID, reason, now); markErr != nil {
			return fmt.Errorf("order: mark trade rejected: %w", markErr)
		}
		e.publish(events.OrderRejected, events.OrderPayload{TradeID: trade.ID, IntentID: intent.IntentID, ErrorCode: code})
		return nil
	}

	if err := e.coordinator.MarkPlaced(ctx, trade.ID, ack.BrokerOrderID, now); err != nil {
		return fmt.Errorf("order: mark trade pending: %w", err)
	}
	e.publish(events.OrderCreated, events.OrderPayload{TradeID: trade.ID, IntentID: intent.IntentID, BrokerOrderID: ack.BrokerOrderID})
	return nil
}

// classifyPlacementError extracts a broker error code when PlaceOrder
// returned a *broker.Error, else falls back to EXECUTION_ERROR for an
// unexpected exception (spec.md §4.7 step 5).
func classifyPlacementError(err error) (code, message string) {
	var berr *broker.Error
	if errors.As(err, &berr) {
		return string(berr.Kind), berr.Message
	}
	return string(apperr.ExecutionError), err.Error()
}

func (e *Executor) publish(t events.Type, payload events.OrderPayload) {
	if e.bus != nil {
		e.bus.Publish(t, payload)
	}
}

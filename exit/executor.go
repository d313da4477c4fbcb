package exit

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
	"github.com/alexherrero/tradecore/order"
	"github.com/alexherrero/tradecore/store"
)

// Executor is ExitOrderExecutor: processes APPROVED exit intents, places
// the broker order, and transitions the underlying trade OPEN → EXITING
// on success (spec.md §4.9).
type Executor struct {
	exitIntents *store.ExitIntentStore
	registry    order.PortResolver
	coordinator *order.Coordinator
	bus         events.Bus
	now         func() time.Time
}

// NewExecutor builds an Executor.
func NewExecutor(exitIntents *store.ExitIntentStore, registry order.PortResolver, coordinator *order.Coordinator, bus events.Bus) *Executor {
	return &Executor{exitIntents: exitIntents, registry: registry, coordinator: coordinator, bus: bus, now: time.Now}
}

// Poll places the entry order for every APPROVED exit intent, up to limit.
func (e *Executor) Poll(ctx context.Context, limit int) error {
	approved, err := e.exitIntents.ListApproved(ctx, limit)
	if err != nil {
		return fmt.Errorf("exit: poll approved exit intents: %w", err)
	}
	for i := range approved {
		intent := approved[i]
		if err := e.process(ctx, &intent); err != nil {
			log.Error().Err(err).Str("exit_intent_id", intent.ID).Msg("exit executor failed to process intent")
		}
	}
	return nil
}

func (e *Executor) process(ctx context.Context, intent *models.ExitIntent) error {
	trade, err := e.coordinator.Get(ctx, intent.TradeID)
	if err != nil {
		return fmt.Errorf("exit: load trade %s: %w", intent.TradeID, err)
	}

	port, err := e.registry.Get(trade.UserBrokerID)
	if err != nil || port == nil || !port.CanPlaceOrders() {
		return nil // refuse silently; stays APPROVED for the next cycle
	}

	req := broker.OrderRequest{
		IntentID:    intent.ID,
		Symbol:      trade.Symbol,
		Exchange:    "NSE",
		Direction:   trade.Direction.Opposite(),
		OrderType:   models.OrderTypeMarket,
		ProductType: models.ProductMIS,
		Validity:    models.ValidityDay,
		Quantity:    intent.Quantity,
		LimitPrice:  intent.LimitPrice,
	}

	ack, err := port.PlaceOrder(ctx, req)
	if err != nil {
		_, reason := classifyExitPlacementError(err)
		if markErr := e.exitIntents.MarkFailed(ctx, intent.ID, reason); markErr != nil {
			return fmt.Errorf("exit: mark exit intent failed: %w", markErr)
		}
		e.publish(events.ExitIntentFailed, events.ExitIntentPayload{ExitIntentID: intent.ID, TradeID: trade.ID, Reason: string(intent.Reason), ErrorCode: reason})
		return nil
	}

	// DB-level atomic APPROVED → PLACED: a concurrent ExitOrderExecutor
	// worker processing the same intent loses this race and gets
	// ErrNotFound, which is expected and not an error condition here.
	if err := e.exitIntents.MarkPlaced(ctx, intent.ID, ack.BrokerOrderID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("exit: mark exit intent placed: %w", err)
	}
	if err := e.coordinator.TransitionToExiting(ctx, trade.ID); err != nil {
		return fmt.Errorf("exit: transition trade %s to EXITING: %w", trade.ID, err)
	}
	e.publish(events.ExitIntentPlaced, events.ExitIntentPayload{ExitIntentID: intent.ID, TradeID: trade.ID, Reason: string(intent.Reason)})
	return nil
}

func classifyExitPlacementError(err error) (code, message string) {
	var berr *broker.Error
	if errors.As(err, &berr) {
		return string(berr.Kind), berr.Message
	}
	return string(apperr.ExecutionError), err.Error()
}

func (e *Executor) publish(t events.Type, payload events.ExitIntentPayload) {
	if e.bus != nil {
		e.bus.Publish(t, payload)
	}
}

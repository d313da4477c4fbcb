package exit

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/alexherrero/tradecore/apperr"
	"github.com/alexherrero/tradecore/broker"
	"github.com/alexherrero/tradecore/models"
	"github.com/alexherrero/tradecore/order"
	"github.com/alexherrero/tradecore/store"
)

// QualificationResult is one ExitIntent's pass/fail verdict.
type QualificationResult struct {
	Passed bool
	Errors []*apperr.Error
}

func (r *QualificationResult) reason() string {
	msg := ""
	for i, e := range r.Errors {
		if i > 0 {
			msg += "; "
		}
		msg += fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return msg
}

// Qualification mirrors execution.Validator but for the exit leg (spec.md
// §4.9: "mirrors entry validation but for exit: qty ≤ open qty, broker
// connected, product type matches, not already exiting").
type Qualification struct {
	exitIntents *store.ExitIntentStore
	coordinator *order.Coordinator
	registry    order.PortResolver
}

// NewQualification builds a Qualification.
func NewQualification(exitIntents *store.ExitIntentStore, coordinator *order.Coordinator, registry order.PortResolver) *Qualification {
	return &Qualification{exitIntents: exitIntents, coordinator: coordinator, registry: registry}
}

// Run evaluates every PENDING exit intent and transitions it to APPROVED
// or REJECTED.
func (q *Qualification) Run(ctx context.Context, limit int) error {
	pending, err := q.exitIntents.ListPending(ctx, limit)
	if err != nil {
		return fmt.Errorf("exit: list pending exit intents: %w", err)
	}
	for i := range pending {
		intent := pending[i]
		if err := q.process(ctx, &intent); err != nil {
			log.Error().Err(err).Str("exit_intent_id", intent.ID).Msg("exit qualification failed to process intent")
		}
	}
	return nil
}

func (q *Qualification) process(ctx context.Context, intent *models.ExitIntent) error {
	trade, err := q.coordinator.Get(ctx, intent.TradeID)
	if err != nil {
		return fmt.Errorf("exit: load trade %s: %w", intent.TradeID, err)
	}

	result := q.qualify(ctx, trade, intent)
	if !result.Passed {
		return q.exitIntents.MarkRejected(ctx, intent.ID, result.reason())
	}
	return q.exitIntents.MarkApproved(ctx, intent.ID)
}

func (q *Qualification) qualify(ctx context.Context, trade *models.Trade, intent *models.ExitIntent) *QualificationResult {
	r := &QualificationResult{Passed: true}
	fail := func(kind apperr.Kind, format string, args ...interface{}) {
		r.Passed = false
		r.Errors = append(r.Errors, apperr.New(kind, fmt.Sprintf(format, args...)))
	}

	if trade.Status != models.TradeStatusOpen {
		fail(apperr.ValidationFailed, "trade %s is %s, not OPEN (already exiting or closed)", trade.ID, trade.Status)
	}
	if intent.Quantity <= 0 || intent.Quantity > trade.OpenQuantity {
		fail(apperr.ValidationFailed, "exit quantity %d exceeds open quantity %d", intent.Quantity, trade.OpenQuantity)
	}

	port, err := q.resolvePort(trade)
	if err != nil || port == nil || !port.IsConnected() {
		fail(apperr.Connection, "broker not connected for user_broker %s", trade.UserBrokerID)
	} else if !port.CanPlaceOrders() {
		fail(apperr.StaleFeed, "broker feed stale, exit orders refused")
	}

	return r
}

func (q *Qualification) resolvePort(trade *models.Trade) (broker.Port, error) {
	return q.registry.Get(trade.UserBrokerID)
}

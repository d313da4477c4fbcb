package exit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alexherrero/tradecore/broker"
	"github.com/alexherrero/tradecore/models"
	"github.com/alexherrero/tradecore/order"
	"github.com/alexherrero/tradecore/store"
)

// defaultExitTimeout matches PendingOrderReconciler's entry-side timeout
// (spec.md §4.9: "on timeout (default 10 min since placed_at)").
const defaultExitTimeout = 10 * time.Minute

// Reconciler is ExitOrderReconciler (C10): polls PLACED exit intents and
// reconciles them against broker state (spec.md §4.9).
type Reconciler struct {
	exitIntents *store.ExitIntentStore
	registry    order.PortResolver
	coordinator *order.Coordinator
	limiter     *broker.RateLimiter
	timeout     time.Duration
	now         func() time.Time
}

// NewReconciler builds a Reconciler with the default exit timeout.
func NewReconciler(exitIntents *store.ExitIntentStore, registry order.PortResolver, coordinator *order.Coordinator, limiter *broker.RateLimiter) *Reconciler {
	return &Reconciler{
		exitIntents: exitIntents,
		registry:    registry,
		coordinator: coordinator,
		limiter:     limiter,
		timeout:     defaultExitTimeout,
		now:         time.Now,
	}
}

// Run is the Scheduler's periodic trigger (every 30s, offset +15s from the
// entry reconciler per spec.md §4.9/§4.10).
func (r *Reconciler) Run(ctx context.Context) error {
	placed, err := r.exitIntents.ListPlaced(ctx)
	if err != nil {
		return fmt.Errorf("exit: list placed exit intents: %w", err)
	}
	for i := range placed {
		intent := placed[i]
		if err := r.reconcileOne(ctx, &intent); err != nil {
			log.Error().Err(err).Str("exit_intent_id", intent.ID).Msg("exit reconciler failed to reconcile intent")
		}
	}
	return nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, intent *models.ExitIntent) error {
	now := r.now()
	if intent.PlacedAt != nil && now.Sub(*intent.PlacedAt) > r.timeout {
		return r.exitIntents.MarkFailed(ctx, intent.ID, "TIMEOUT")
	}

	release, ok := r.limiter.TryAcquire()
	if !ok {
		return nil // rate-limited this cycle; retried next Run
	}
	defer release()

	trade, err := r.coordinator.Get(ctx, intent.TradeID)
	if err != nil {
		return fmt.Errorf("exit: load trade %s: %w", intent.TradeID, err)
	}
	port, err := r.registry.Get(trade.UserBrokerID)
	if err != nil || port == nil {
		return fmt.Errorf("exit: resolve broker for user_broker %s: %w", trade.UserBrokerID, err)
	}

	snap, err := port.GetOrderStatus(ctx, intent.BrokerOrderID)
	if err != nil {
		return fmt.Errorf("exit: get order status for %s: %w", intent.BrokerOrderID, err)
	}

	switch snap.Status {
	case "COMPLETE", "FILLED":
		if err := r.exitIntents.MarkFilled(ctx, intent.ID, snap.AvgPrice); err != nil {
			return fmt.Errorf("exit: mark exit intent filled: %w", err)
		}
		return r.coordinator.CloseOnExitFill(ctx, intent.TradeID, snap.AvgPrice, snap.FilledQty, string(intent.Reason), now)
	case "REJECTED":
		// ExitIntent.Status REJECTED is qualification's off-ramp; a
		// broker-level rejection after PLACED is a terminal FAILED, and
		// the trade stays OPEN so ExitSignalService re-evaluates it.
		if err := r.exitIntents.MarkFailed(ctx, intent.ID, snap.StatusMessage); err != nil {
			return fmt.Errorf("exit: mark exit intent failed: %w", err)
		}
		return r.coordinator.RevertToOpen(ctx, intent.TradeID)
	case "CANCELLED":
		if err := r.exitIntents.MarkFailed(ctx, intent.ID, "CANCELLED"); err != nil {
			return fmt.Errorf("exit: mark exit intent failed: %w", err)
		}
		return r.coordinator.RevertToOpen(ctx, intent.TradeID)
	default:
		return nil // still pending at the broker; nothing to update (ExitIntent has no heartbeat column)
	}
}

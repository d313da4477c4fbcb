package order

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alexherrero/tradecore/broker"
	"github.com/alexherrero/tradecore/models"
	"github.com/alexherrero/tradecore/store"
)

// defaultPendingTimeout is the window after which a PENDING trade with no
// broker heartbeat is rejected outright (spec.md §4.8).
const defaultPendingTimeout = 10 * time.Minute

// Reconciler is PendingOrderReconciler (C8): polls PENDING trades every
// 30s and reconciles them against broker truth (spec.md §4.8).
type Reconciler struct {
	trades      *store.TradeStore
	registry    PortResolver
	coordinator *Coordinator
	limiter     *broker.RateLimiter
	now         func() time.Time
	timeout     time.Duration
}

// NewReconciler builds a Reconciler. limiter bounds concurrent broker
// calls (global semaphore, default 5 per spec.md §4.8).
func NewReconciler(trades *store.TradeStore, registry PortResolver, coordinator *Coordinator, limiter *broker.RateLimiter) *Reconciler {
	return &Reconciler{
		trades:      trades,
		registry:    registry,
		coordinator: coordinator,
		limiter:     limiter,
		now:         time.Now,
		timeout:     defaultPendingTimeout,
	}
}

// Run performs one reconciliation pass over every PENDING trade.
func (r *Reconciler) Run(ctx context.Context) error {
	pending, err := r.trades.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("order: list pending trades: %w", err)
	}
	now := r.now()
	for i := range pending {
		t := &pending[i]
		if now.Sub(t.LastBrokerUpdateAt) > r.timeout {
			if err := r.coordinator.MarkRejected(ctx, t.ID, "TIMEOUT", now); err != nil {
				log.Error().Err(err).Str("trade_id", t.ID).Msg("reconciler: failed to reject timed-out trade")
			}
			continue
		}

		release, ok := r.limiter.TryAcquire()
		if !ok {
			continue // rate-limited this cycle; retry next pass
		}
		err := r.reconcileOne(ctx, t, now)
		release()
		if err != nil {
			log.Error().Err(err).Str("trade_id", t.ID).Msg("reconciler: failed to reconcile trade")
		}
	}
	return nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, t *models.Trade, now time.Time) error {
	port, err := r.registry.Get(t.UserBrokerID)
	if err != nil || port == nil {
		return nil // connection down; try again next cycle
	}

	snap, err := port.GetOrderStatus(ctx, t.EntryBrokerOrderID)
	if err != nil {
		return fmt.Errorf("get order status: %w", err)
	}

	switch snap.Status {
	case "COMPLETE", "FILLED":
		return r.coordinator.ApplyFill(ctx, t.ID, snap.AvgPrice, snap.FilledQty, now)
	case "REJECTED":
		return r.coordinator.MarkRejected(ctx, t.ID, snap.StatusMessage, now)
	case "CANCELLED":
		return r.coordinator.MarkCancelled(ctx, t.ID, now)
	default:
		return r.coordinator.Heartbeat(ctx, t.ID, now)
	}
}

// Package order implements the entry-side execution pipeline: OrderExecutor
// (C7), PendingOrderReconciler (C8), and TradeCoordinator (C11), the single
// writer for Trade state (spec.md §4.7/§4.8).
package order

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/alexherrero/tradecore/actor"
	"github.com/alexherrero/tradecore/models"
	"github.com/alexherrero/tradecore/store"
	"github.com/alexherrero/tradecore/tracing"
)

// TargetConfig names the R-multiples TradeCoordinator uses to derive a
// trade's initial stop/target from a signal's effective floor/ceiling,
// since TradeIntent itself only carries the validated stop/target the
// sizer already computed (spec.md §4.7 step 2). When the intent did
// carry a sized stop/target, those take precedence; this config only
// covers the fallback path for an intent sized with zero Money fields.
type TargetConfig struct {
	TargetRMultiple models.Money
}

// DefaultTargetConfig mirrors the teacher's RiskManager defaults in spirit:
// conservative, explicit, overridable by config.
func DefaultTargetConfig() TargetConfig {
	return TargetConfig{TargetRMultiple: models.NewRatio(2.0)}
}

// Coordinator is TradeCoordinator (C11): the only component that ever
// writes a Trade row. Every call is routed through a per-key actor
// partition — creation keyed by intent_id (no trade_id exists yet),
// every other mutation keyed by trade_id — so concurrent callers touching
// the same trade serialize while different trades proceed in parallel.
type Coordinator struct {
	trades *store.TradeStore
	pool   *actor.Pool
	cfg    TargetConfig

	mu    sync.RWMutex
	index map[string][]*models.Trade // symbol -> open/exiting trades
}

// NewCoordinator builds a Coordinator. partitions sizes the actor pool.
func NewCoordinator(trades *store.TradeStore, partitions int, cfg TargetConfig) *Coordinator {
	return &Coordinator{
		trades: trades,
		pool:   actor.NewPool(partitions, 64),
		cfg:    cfg,
		index:  make(map[string][]*models.Trade),
	}
}

// Start launches the actor pool and rebuilds the active-trade index from
// persisted OPEN/EXITING trades (spec.md §4.7: "rebuilds an in-memory
// active trade index... at startup by scanning for all OPEN trades").
func (c *Coordinator) Start(ctx context.Context) error {
	c.pool.Start(ctx)
	open, err := c.trades.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("order: rebuild active trade index: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range open {
		t := open[i]
		c.index[t.Symbol] = append(c.index[t.Symbol], &t)
	}
	return nil
}

// Stop drains and stops the actor pool.
func (c *Coordinator) Stop() { c.pool.Stop() }

// Get returns the authoritative current row for tradeID. Reads never go
// through the actor partition — only writers need serialization (spec.md
// §5: "readers are anyone").
func (c *Coordinator) Get(ctx context.Context, tradeID string) (*models.Trade, error) {
	return c.trades.Get(ctx, tradeID)
}

// ActiveTradesFor returns a snapshot of open/exiting trades on symbol, the
// working set ExitSignalService ticks through (spec.md §4.9).
func (c *Coordinator) ActiveTradesFor(symbol string) []*models.Trade {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*models.Trade, len(c.index[symbol]))
	copy(out, c.index[symbol])
	return out
}

// do routes fn through the actor partition for key and waits for it to
// finish, turning the async pool into a synchronous call for callers.
func (c *Coordinator) do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	err := c.pool.Submit(ctx, actor.Job{
		Key: key,
		Run: func(jobCtx context.Context) {
			jobCtx, _ = tracing.EnsureTraceID(jobCtx)
			done <- fn(jobCtx)
		},
	})
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateFromIntent creates a CREATED Trade anchored to intent.IntentID,
// with an entry snapshot taken from the Signal and targets derived from
// the intent's sizing (or, failing that, the signal's effective
// floor/ceiling and the configured R-multiples). Routed by intent_id
// since the trade_id doesn't exist until this call returns (spec.md §4.7
// step 2), making a retried OrderExecutor call after a crash idempotent:
// GetByIntentID lets the caller detect the trade already exists.
func (c *Coordinator) CreateFromIntent(ctx context.Context, intent *models.TradeIntent, sig *models.Signal) (*models.Trade, error) {
	var trade *models.Trade
	err := c.do(ctx, intent.IntentID, func(ctx context.Context) error {
		if existing, err := c.trades.GetByIntentID(ctx, intent.IntentID); err == nil {
			trade = existing
			return nil
		} else if err != store.ErrNotFound {
			return err
		}

		stop, target := c.deriveTargets(intent, sig)
		t := &models.Trade{
			IntentID:         intent.IntentID,
			SignalID:         intent.SignalID,
			UserID:           intent.UserID,
			UserBrokerID:     intent.UserBrokerID,
			Symbol:           intent.Symbol,
			Direction:        intent.Direction,
			EntryPrice:       sig.RefPrice,
			EntryQuantity:    intent.Quantity,
			InitialStopLoss:  stop,
			InitialTarget:    target,
			LastPrice:        sig.RefPrice,
			OpenQuantity:     intent.Quantity,
			RealizedPnL:      models.NewMoney(0),
			UnrealizedPnL:    models.NewMoney(0),
			CurrentLogReturn: models.NewLogReturn(0),
			Status:           models.TradeStatusCreated,
		}
		if err := c.trades.Create(ctx, t); err != nil {
			return err
		}
		trade = t
		return nil
	})
	return trade, err
}

func (c *Coordinator) deriveTargets(intent *models.TradeIntent, sig *models.Signal) (stop, target models.Money) {
	if !intent.StopLoss.IsZero() && !intent.TargetPrice.IsZero() {
		return intent.StopLoss, intent.TargetPrice
	}
	if intent.Direction == models.DirectionBuy {
		stop = sig.EffectiveFloor
		risk := sig.RefPrice.Sub(stop)
		target = sig.RefPrice.Add(risk.Mul(c.cfg.TargetRMultiple))
		return stop, target
	}
	stop = sig.EffectiveCeiling
	risk := stop.Sub(sig.RefPrice)
	target = sig.RefPrice.Sub(risk.Mul(c.cfg.TargetRMultiple))
	return stop, target
}

// MarkPlaced transitions CREATED → PENDING and stamps the broker order id
// once OrderExecutor's PlaceOrder call succeeds (spec.md §4.7 step 5).
func (c *Coordinator) MarkPlaced(ctx context.Context, tradeID, brokerOrderID string, now time.Time) error {
	return c.mutate(ctx, tradeID, func(t *models.Trade) error {
		t.Status = models.TradeStatusPending
		t.EntryBrokerOrderID = brokerOrderID
		t.LastBrokerUpdateAt = now
		return nil
	})
}

// MarkRejected transitions CREATED or PENDING → REJECTED, used both by
// OrderExecutor's immediate rejection/exception path and by
// PendingOrderReconciler's timeout/broker-rejection path.
func (c *Coordinator) MarkRejected(ctx context.Context, tradeID, reason string, now time.Time) error {
	return c.mutate(ctx, tradeID, func(t *models.Trade) error {
		t.Status = models.TradeStatusRejected
		t.RejectReason = reason
		t.LastBrokerUpdateAt = now
		return nil
	})
}

// MarkCancelled transitions PENDING → CANCELLED (broker reports the order
// as cancelled before it filled, spec.md §4.8).
func (c *Coordinator) MarkCancelled(ctx context.Context, tradeID string, now time.Time) error {
	return c.mutate(ctx, tradeID, func(t *models.Trade) error {
		t.Status = models.TradeStatusCancelled
		t.LastBrokerUpdateAt = now
		return nil
	})
}

// ApplyFill transitions PENDING → OPEN with the broker's confirmed
// entry price/quantity (spec.md §4.8), and adds the trade to the active
// index so ExitSignalService starts evaluating it on the next tick.
func (c *Coordinator) ApplyFill(ctx context.Context, tradeID string, entryPrice models.Money, entryQty int64, now time.Time) error {
	return c.mutate(ctx, tradeID, func(t *models.Trade) error {
		t.Status = models.TradeStatusOpen
		t.EntryPrice = entryPrice
		t.EntryQuantity = entryQty
		t.OpenQuantity = entryQty
		t.EntryFilledAt = now
		t.LastPrice = entryPrice
		t.LastMarkedAt = now
		t.LastBrokerUpdateAt = now
		c.addToIndex(t)
		return nil
	})
}

// Heartbeat updates last_broker_update_at only, for a PendingOrderReconciler
// cycle where the broker still reports the order as pending (spec.md §4.8:
// "any other → only update last_broker_update_at").
func (c *Coordinator) Heartbeat(ctx context.Context, tradeID string, now time.Time) error {
	return c.mutate(ctx, tradeID, func(t *models.Trade) error {
		t.LastBrokerUpdateAt = now
		return nil
	})
}

// UpdateLive applies a tick's mark-to-market fields and maintains the
// trailing stop (spec.md §4.9 steps 1-2). It never changes Status.
func (c *Coordinator) UpdateLive(ctx context.Context, tradeID string, price models.Money, logReturn models.Money, trailingCandidate *models.Money, now time.Time) error {
	return c.mutate(ctx, tradeID, func(t *models.Trade) error {
		t.LastPrice = price
		t.LastMarkedAt = now
		t.CurrentLogReturn = logReturn
		switch t.Direction {
		case models.DirectionBuy:
			t.UnrealizedPnL = price.Sub(t.EntryPrice).Mul(models.NewMoney(float64(t.OpenQuantity)))
		case models.DirectionSell:
			t.UnrealizedPnL = t.EntryPrice.Sub(price).Mul(models.NewMoney(float64(t.OpenQuantity)))
		}
		if trailingCandidate != nil {
			if t.TrailingHighestPrice == nil {
				t.TrailingHighestPrice = trailingCandidate
			} else {
				switch t.Direction {
				case models.DirectionBuy:
					if trailingCandidate.GreaterThan(*t.TrailingHighestPrice) {
						t.TrailingHighestPrice = trailingCandidate
					}
				case models.DirectionSell:
					if trailingCandidate.LessThan(*t.TrailingHighestPrice) {
						t.TrailingHighestPrice = trailingCandidate
					}
				}
			}
		}
		return nil
	})
}

// SetTrailingStop records a new trailing-stop price, distinct from the
// highest-price bookkeeping in UpdateLive (P7).
func (c *Coordinator) SetTrailingStop(ctx context.Context, tradeID string, stop models.Money) error {
	return c.mutate(ctx, tradeID, func(t *models.Trade) error {
		t.UpdateTrailingStop(stop)
		return nil
	})
}

// TransitionToExiting moves OPEN → EXITING once ExitOrderExecutor places
// the exit order (spec.md §4.9).
func (c *Coordinator) TransitionToExiting(ctx context.Context, tradeID string) error {
	return c.mutate(ctx, tradeID, func(t *models.Trade) error {
		t.Status = models.TradeStatusExiting
		return nil
	})
}

// RevertToOpen moves EXITING back to OPEN when the exit order is rejected
// by the broker — the trade stays live for ExitSignalService to
// re-evaluate (spec.md §4.9: "trade remains OPEN").
func (c *Coordinator) RevertToOpen(ctx context.Context, tradeID string) error {
	return c.mutate(ctx, tradeID, func(t *models.Trade) error {
		t.Status = models.TradeStatusOpen
		return nil
	})
}

// CloseOnExitFill computes realized_pnl, realized_log_return, and
// holding_days, then transitions EXITING → CLOSED (spec.md §4.9,
// close_trade_on_exit_fill).
func (c *Coordinator) CloseOnExitFill(ctx context.Context, tradeID string, exitPrice models.Money, exitQty int64, exitReason string, now time.Time) error {
	return c.mutate(ctx, tradeID, func(t *models.Trade) error {
		var pnl models.Money
		switch t.Direction {
		case models.DirectionBuy:
			pnl = exitPrice.Sub(t.EntryPrice).Mul(models.NewMoney(float64(exitQty)))
		case models.DirectionSell:
			pnl = t.EntryPrice.Sub(exitPrice).Mul(models.NewMoney(float64(exitQty)))
		}
		t.RealizedPnL = t.RealizedPnL.Add(pnl)
		t.RealizedLogReturn = logReturn(t.Direction, t.EntryPrice, exitPrice)
		t.ExitPrice = &exitPrice
		t.ExitQuantity = exitQty
		t.ExitReason = exitReason
		t.OpenQuantity -= exitQty
		t.HoldingDays = int(now.Sub(t.EntryFilledAt).Hours() / 24)
		closedAt := now
		t.ClosedAt = &closedAt
		t.UnrealizedPnL = models.NewMoney(0)
		t.Status = models.TradeStatusClosed
		c.removeFromIndex(t)
		return nil
	})
}

// mutate loads a trade, applies fn, and persists the result under the
// trade's actor partition, retrying the version-conflict case is never
// expected here since the partition already serializes writers.
func (c *Coordinator) mutate(ctx context.Context, tradeID string, fn func(*models.Trade) error) error {
	return c.do(ctx, tradeID, func(ctx context.Context) error {
		t, err := c.trades.Get(ctx, tradeID)
		if err != nil {
			return fmt.Errorf("order: coordinator load trade %s: %w", tradeID, err)
		}
		version := t.Version
		if err := fn(t); err != nil {
			return err
		}
		if err := c.trades.Update(ctx, t, version); err != nil {
			return fmt.Errorf("order: coordinator persist trade %s: %w", tradeID, err)
		}
		c.refreshIndex(t)
		return nil
	})
}

func (c *Coordinator) addToIndex(t *models.Trade) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index[t.Symbol] = append(c.index[t.Symbol], t)
}

func (c *Coordinator) removeFromIndex(t *models.Trade) {
	c.mu.Lock()
	defer c.mu.Unlock()
	trades := c.index[t.Symbol]
	for i, existing := range trades {
		if existing.ID == t.ID {
			c.index[t.Symbol] = append(trades[:i], trades[i+1:]...)
			return
		}
	}
}

// refreshIndex replaces an already-indexed trade's snapshot in place, or
// removes it if it has left the open/exiting set.
func (c *Coordinator) refreshIndex(t *models.Trade) {
	if !t.IsOpen() {
		c.removeFromIndex(t)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	trades := c.index[t.Symbol]
	for i, existing := range trades {
		if existing.ID == t.ID {
			trades[i] = t
			return
		}
	}
}

// logReturn computes ln(exit/entry) for longs, ln(entry/exit) for shorts,
// rounded to the NUMERIC(10,6) convention (spec.md §6).
func logReturn(dir models.Direction, entry, exit models.Money) models.Money {
	entryF, _ := entry.Float64()
	exitF, _ := exit.Float64()
	if entryF <= 0 || exitF <= 0 {
		return models.NewLogReturn(0)
	}
	if dir == models.DirectionSell {
		entryF, exitF = exitF, entryF
	}
	return models.NewLogReturn(math.Log(exitF / entryF))
}

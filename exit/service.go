// Package exit implements the exit-side pipeline: ExitSignalService (C9),
// ExitQualification, ExitOrderExecutor, and ExitOrderReconciler (C10),
// spec.md §4.9.
package exit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alexherrero/tradecore/actor"
	"github.com/alexherrero/tradecore/broker"
	"github.com/alexherrero/tradecore/models"
	"github.com/alexherrero/tradecore/order"
	"github.com/alexherrero/tradecore/store"
	"github.com/alexherrero/tradecore/tick"
	"github.com/alexherrero/tradecore/tracing"
)

// Limits names the thresholds ExitSignalService evaluates against on every
// tick. There is no single teacher default here — these mirror the sizing
// conservatism of order.DefaultTargetConfig.
type Limits struct {
	// TrailingActivationPct is the favorable move (as a fraction, e.g.
	// 0.02 for 2%) past which the trailing stop activates (spec.md §4.9
	// step 2).
	TrailingActivationPct models.Money
	// TrailingDistancePct is how far below (long) or above (short) the
	// highest-favorable price the trailing stop trails.
	TrailingDistancePct models.Money
	// MaxHoldingDays triggers TIME_BASED once exceeded.
	MaxHoldingDays int
}

// DefaultLimits mirrors the worked example in spec.md §7 (2%/3%).
func DefaultLimits() Limits {
	return Limits{
		TrailingActivationPct: models.NewRatio(0.02),
		TrailingDistancePct:   models.NewRatio(0.03),
		MaxHoldingDays:        5,
	}
}

// RiskBreachFunc reports whether a portfolio/global risk breach is
// currently in effect; evaluated last in the exit-condition priority order
// since it is independent of any single trade's price action (spec.md
// §4.9 step 3). A nil func is treated as "never breached".
type RiskBreachFunc func() bool

// Service is ExitSignalService (C9): subscribes to the tick stream and
// evaluates every open trade in the ticked symbol against the exit
// condition priority order, creating ExitIntents on the first match.
type Service struct {
	coordinator *order.Coordinator
	exitIntents *store.ExitIntentStore
	limits      Limits
	riskBreach  RiskBreachFunc
	pool        *actor.Pool
	now         func() time.Time
}

// NewService builds a Service. riskBreach may be nil.
func NewService(coordinator *order.Coordinator, exitIntents *store.ExitIntentStore, limits Limits, riskBreach RiskBreachFunc) *Service {
	return &Service{
		coordinator: coordinator,
		exitIntents: exitIntents,
		limits:      limits,
		riskBreach:  riskBreach,
		pool:        actor.NewPool(4, 64),
		now:         time.Now,
	}
}

// Start launches the service's actor pool, used to serialize per-trade
// exit-intent creation (spec.md §4.9: "the trade-partition actor
// guarantees this").
func (s *Service) Start(ctx context.Context) { s.pool.Start(ctx) }

// Stop drains and stops the actor pool.
func (s *Service) Stop() { s.pool.Stop() }

// Consume reads ticks off listener.C until ctx is cancelled, evaluating
// every open trade on each tick's symbol. listener is typically obtained
// via a tick.Intake.Subscribe call shared with the rest of the engine, so
// ExitSignalService sees the same deduplicated stream as everyone else.
func (s *Service) Consume(ctx context.Context, listener *tick.Listener) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-listener.C:
			if !ok {
				return
			}
			s.OnTick(ctx, t)
		}
	}
}

// OnTick evaluates every open/exiting trade on t.Symbol (spec.md §4.9).
// Every trade's evaluation is submitted to its own actor partition and
// awaited before OnTick returns, so a caller iterating ticks sequentially
// (e.g. a test, or Consume's single-goroutine loop) always sees the
// resulting ExitIntent/trade state immediately after the call — different
// trades still evaluate in parallel with each other via separate
// partitions.
func (s *Service) OnTick(ctx context.Context, t broker.Tick) {
	active := s.coordinator.ActiveTradesFor(t.Symbol)
	done := make(chan error, len(active))
	for _, trade := range active {
		tradeID := trade.ID
		err := s.pool.Submit(ctx, actor.Job{
			Key: tradeID,
			Run: func(jobCtx context.Context) {
				jobCtx, _ = tracing.EnsureTraceID(jobCtx)
				done <- s.evaluate(jobCtx, tradeID, t.LastPrice)
			},
		})
		if err != nil {
			log.Error().Err(err).Str("trade_id", tradeID).Msg("exit signal service failed to submit evaluation")
			done <- nil
		}
	}
	for range active {
		select {
		case err := <-done:
			if err != nil {
				log.Error().Err(err).Str("symbol", t.Symbol).Msg("exit signal service failed to evaluate trade")
			}
		case <-ctx.Done():
			return
		}
	}
}

// evaluate is steps 1-3 of spec.md §4.9 for a single trade: mark-to-market,
// trailing-stop maintenance, and exit-condition evaluation. Each step
// re-reads the trade via Coordinator.Get so it always reasons about the
// authoritative post-mutation row rather than a stale snapshot.
func (s *Service) evaluate(ctx context.Context, tradeID string, price models.Money) error {
	current, err := s.coordinator.Get(ctx, tradeID)
	if err != nil {
		return fmt.Errorf("exit: load trade %s: %w", tradeID, err)
	}
	if current.Status != models.TradeStatusOpen {
		return nil // EXITING already has an order in flight; CLOSED/REJECTED left the active set
	}

	logRet := tradeLogReturn(current.Direction, current.EntryPrice, price)
	trailingCandidate := s.trailingCandidate(current, price)
	if err := s.coordinator.UpdateLive(ctx, tradeID, price, logRet, trailingCandidate, s.now()); err != nil {
		return fmt.Errorf("exit: update live fields for trade %s: %w", tradeID, err)
	}

	refreshed, err := s.coordinator.Get(ctx, tradeID)
	if err != nil {
		return fmt.Errorf("exit: reload trade %s: %w", tradeID, err)
	}
	if stop, activated := s.trailingStopPrice(refreshed); activated {
		if err := s.coordinator.SetTrailingStop(ctx, tradeID, stop); err != nil {
			return fmt.Errorf("exit: set trailing stop for trade %s: %w", tradeID, err)
		}
		if refreshed, err = s.coordinator.Get(ctx, tradeID); err != nil {
			return fmt.Errorf("exit: reload trade %s: %w", tradeID, err)
		}
	}

	reason, fire := s.checkExitConditions(refreshed, price)
	if !fire {
		return nil
	}
	return s.createExitIntent(ctx, refreshed, reason)
}

// trailingCandidate returns the price to feed UpdateLive's trailing-highest
// bookkeeping, or nil until the trade has moved favorably by
// TrailingActivationPct (spec.md §4.9 step 2: "when price first moves
// favorably by trailing_activation_pct, activate trailing").
func (s *Service) trailingCandidate(t *models.Trade, price models.Money) *models.Money {
	entry := t.EntryPrice
	if entry.IsZero() {
		return nil
	}
	var moveFavorablePct models.Money
	switch t.Direction {
	case models.DirectionBuy:
		moveFavorablePct = price.Sub(entry).Div(entry)
	case models.DirectionSell:
		moveFavorablePct = entry.Sub(price).Div(entry)
	}
	if t.TrailingActive || moveFavorablePct.GreaterThanOrEqual(s.limits.TrailingActivationPct) {
		p := price
		return &p
	}
	return nil
}

// trailingStopPrice computes trailing_stop_price = highest × (1 −
// distance_pct) for longs, symmetric for shorts (spec.md §4.9 step 2, P7),
// reporting whether trailing is active at all.
func (s *Service) trailingStopPrice(t *models.Trade) (models.Money, bool) {
	// Keyed off TrailingHighestPrice rather than TrailingActive: the
	// highest-price watermark is set by UpdateLive on the very tick
	// activation first qualifies, one call before SetTrailingStop has had
	// a chance to flip TrailingActive true.
	if t.TrailingHighestPrice == nil {
		return models.Money{}, false
	}
	one := models.NewRatio(1.0)
	highest := *t.TrailingHighestPrice
	switch t.Direction {
	case models.DirectionBuy:
		return highest.Mul(one.Sub(s.limits.TrailingDistancePct)), true
	default:
		return highest.Mul(one.Add(s.limits.TrailingDistancePct)), true
	}
}

// checkExitConditions evaluates the priority order named in spec.md §4.9
// step 3: hard stop/stop-loss, trailing-stop crossed, target/stretch
// reached, time-based, portfolio/global risk breach. It returns the first
// matching reason.
func (s *Service) checkExitConditions(t *models.Trade, price models.Money) (models.ExitReason, bool) {
	switch t.Direction {
	case models.DirectionBuy:
		if price.LessThanOrEqual(t.InitialStopLoss) {
			return models.ExitReasonStopLoss, true
		}
		if stop, active := s.trailingStopPrice(t); active && price.LessThanOrEqual(stop) {
			return models.ExitReasonTrailingStop, true
		}
		if price.GreaterThanOrEqual(t.InitialTarget) {
			return models.ExitReasonTargetHit, true
		}
	case models.DirectionSell:
		if price.GreaterThanOrEqual(t.InitialStopLoss) {
			return models.ExitReasonStopLoss, true
		}
		if stop, active := s.trailingStopPrice(t); active && price.GreaterThanOrEqual(stop) {
			return models.ExitReasonTrailingStop, true
		}
		if price.LessThanOrEqual(t.InitialTarget) {
			return models.ExitReasonTargetHit, true
		}
	}
	if s.limits.MaxHoldingDays > 0 && !t.EntryFilledAt.IsZero() {
		holdingDays := int(s.now().Sub(t.EntryFilledAt).Hours() / 24)
		if holdingDays >= s.limits.MaxHoldingDays {
			return models.ExitReasonTimeBased, true
		}
	}
	if s.riskBreach != nil && s.riskBreach() {
		return models.ExitReasonRiskBreach, true
	}
	return "", false
}

// createExitIntent inserts a PENDING ExitIntent for t's full open quantity.
// A duplicate-key error from the live-dedupe index (an intent for this
// (trade_id, exit_reason) is already in flight) is swallowed, not
// propagated: that's the expected outcome of two ticks racing to the same
// conclusion (spec.md §4.9 step 3).
func (s *Service) createExitIntent(ctx context.Context, t *models.Trade, reason models.ExitReason) error {
	intent := &models.ExitIntent{
		TradeID:  t.ID,
		Reason:   reason,
		Quantity: t.OpenQuantity,
		Status:   models.ExitIntentStatusPending,
	}
	if err := s.exitIntents.Create(ctx, intent); err != nil {
		if err == store.ErrDuplicateExitIntent {
			return nil
		}
		return fmt.Errorf("exit: create exit intent for trade %s: %w", t.ID, err)
	}
	tracing.Logger(ctx).Info().Str("trade_id", t.ID).Str("exit_reason", string(reason)).Msg("exit signal service created exit intent")
	return nil
}

// tradeLogReturn computes ln(price/entry) for longs, ln(entry/price) for
// shorts (spec.md §6), matching order.Coordinator's own logReturn helper
// (kept separate since that one is unexported).
func tradeLogReturn(dir models.Direction, entry, price models.Money) models.Money {
	entryF, _ := entry.Float64()
	priceF, _ := price.Float64()
	if entryF <= 0 || priceF <= 0 {
		return models.NewLogReturn(0)
	}
	if dir == models.DirectionSell {
		entryF, priceF = priceF, entryF
	}
	return models.NewLogReturn(math.Log(priceF / entryF))
}

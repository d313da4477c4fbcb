// Package signal implements SignalCoordinator (spec.md §4.5): the sole
// writer for Signal and SignalDelivery rows. It computes the dedupe key,
// enforces P4 (at most one ACTIVE signal per key), handles supersession,
// and fans a freshly published signal out to every eligible user-broker.
package signal

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alexherrero/tradecore/actor"
	"github.com/alexherrero/tradecore/events"
	"github.com/alexherrero/tradecore/models"
	"github.com/alexherrero/tradecore/store"
	"github.com/alexherrero/tradecore/tracing"
)

// Analytics is the out-of-scope MTF analytics collaborator: given a
// (symbol, timeframe) it returns an optional candidate. The core never
// computes probability, Kelly sizing, or confluence itself (spec.md §1).
type Analytics interface {
	Evaluate(ctx context.Context, symbol string, tf models.Timeframe) (*models.SignalCandidate, error)
}

// ExchangeLocation is the timezone signal_day is computed in (spec.md §4.5
// step 1). Defaults to IST, the exchange this core was built against.
var ExchangeLocation = mustLoadLocation("Asia/Kolkata")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Coordinator is the single writer for Signal/SignalDelivery creation.
// Work is partitioned by symbol so per-symbol processing is strictly
// serial (no two goroutines evaluate the same symbol concurrently) while
// different symbols proceed in parallel.
type Coordinator struct {
	analytics   Analytics
	signals     *store.SignalStore
	deliveries  *store.DeliveryStore
	userBrokers *store.UserBrokerStore
	bus         events.Bus
	pool        *actor.Pool

	// BrokerCodes supplies the broker codes fanOut enumerates
	// user-brokers for. The composition root wires it to config
	// (DATA_FEED_BROKER / ORDER_BROKER) so this package stays
	// config-agnostic. A nil func yields no eligible user-brokers.
	BrokerCodes func(ctx context.Context) ([]string, error)
}

// NewCoordinator builds a Coordinator. partitions controls how many
// per-symbol actor queues back the pool.
func NewCoordinator(
	analytics Analytics,
	signals *store.SignalStore,
	deliveries *store.DeliveryStore,
	userBrokers *store.UserBrokerStore,
	bus events.Bus,
	partitions int,
) *Coordinator {
	return &Coordinator{
		analytics:   analytics,
		signals:     signals,
		deliveries:  deliveries,
		userBrokers: userBrokers,
		bus:         bus,
		pool:        actor.NewPool(partitions, 64),
	}
}

// Start launches the coordinator's actor pool.
func (c *Coordinator) Start(ctx context.Context) { c.pool.Start(ctx) }

// Stop drains and stops the actor pool.
func (c *Coordinator) Stop() { c.pool.Stop() }

// OnCandleFinalized is the CANDLE_FINALIZED trigger (spec.md §4.5).
func (c *Coordinator) OnCandleFinalized(ctx context.Context, symbol string, tf models.Timeframe) {
	c.enqueue(ctx, symbol, tf)
}

// Sweep is the one-minute scheduled fallback trigger, evaluating every
// (symbol, timeframe) pair given.
func (c *Coordinator) Sweep(ctx context.Context, pairs []SymbolTimeframe) {
	for _, p := range pairs {
		c.enqueue(ctx, p.Symbol, p.Timeframe)
	}
}

// SymbolTimeframe names one pair the periodic sweep should re-evaluate.
type SymbolTimeframe struct {
	Symbol    string
	Timeframe models.Timeframe
}

func (c *Coordinator) enqueue(ctx context.Context, symbol string, tf models.Timeframe) {
	err := c.pool.Submit(ctx, actor.Job{
		Key: symbol,
		Run: func(jobCtx context.Context) {
			jobCtx, _ = tracing.EnsureTraceID(jobCtx)
			if err := c.process(jobCtx, symbol, tf); err != nil {
				tracing.Logger(jobCtx).Error().Err(err).Str("symbol", symbol).Str("timeframe", string(tf)).
					Msg("signal coordinator failed to process candidate")
			}
		},
	})
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("signal coordinator: failed to enqueue")
	}
}

func (c *Coordinator) process(ctx context.Context, symbol string, tf models.Timeframe) error {
	candidate, err := c.analytics.Evaluate(ctx, symbol, tf)
	if err != nil {
		return fmt.Errorf("signal: analytics evaluate: %w", err)
	}
	if candidate == nil {
		return nil
	}

	now := time.Now()
	signalDay := now.In(ExchangeLocation).Truncate(24 * time.Hour)

	sig := &models.Signal{
		Symbol:           candidate.Symbol,
		Direction:        candidate.Direction,
		SignalType:       candidate.SignalType,
		MTFZone:          candidate.Zone,
		Confluence:       candidate.Confluence,
		ConfluenceScore:  candidate.ConfluenceScore,
		PWin:             candidate.PWin,
		PFill:            candidate.PFill,
		Kelly:            candidate.Kelly,
		RefPrice:         candidate.RefPrice,
		BidPrice:         candidate.BidPrice,
		AskPrice:         candidate.AskPrice,
		EntryLow:         candidate.EntryLow,
		EntryHigh:        candidate.EntryHigh,
		EffectiveFloor:   candidate.EffectiveFloor,
		EffectiveCeiling: candidate.EffectiveCeiling,
		Reason:           candidate.Reason,
		SignalDay:        signalDay,
		ExpiresAt:        candidate.ExpiresAt,
		Status:           models.SignalStatusActive,
	}

	// Step 1: supersession. If a live signal already occupies this dedupe
	// key, the new one supersedes it rather than being dropped — a fresh
	// MTF read always reflects more current information than the signal
	// it replaces.
	existing, err := c.signals.FindLiveByDedupeKey(ctx, sig.Symbol, sig.SignalDay, sig.SignalType, sig.Direction)
	if err != nil && err != store.ErrNotFound {
		return fmt.Errorf("signal: find live by dedupe key: %w", err)
	}
	if err == nil {
		if err := c.supersede(ctx, existing); err != nil {
			return fmt.Errorf("signal: supersede prior signal: %w", err)
		}
	}

	if err := c.signals.Create(ctx, sig); err != nil {
		if err == store.ErrDuplicateSignal {
			tracing.Logger(ctx).Info().Str("symbol", sig.Symbol).Msg("duplicate signal dropped")
			return nil
		}
		return fmt.Errorf("signal: create: %w", err)
	}

	if err := c.fanOut(ctx, sig); err != nil {
		return fmt.Errorf("signal: fan out deliveries: %w", err)
	}

	if c.bus != nil {
		c.bus.Publish(events.SignalPublished, events.SignalPublishedPayload{
			SignalID: sig.ID,
			Symbol:   sig.Symbol,
			Type:     string(sig.SignalType),
		})
	}
	return nil
}

// supersede marks a prior signal SUPERSEDED and expires its outstanding
// CREATED deliveries (spec.md §4.5, scenario 6).
func (c *Coordinator) supersede(ctx context.Context, prior *models.Signal) error {
	if err := c.signals.UpdateStatus(ctx, prior.ID, models.SignalStatusSuperseded, prior.Version); err != nil {
		return err
	}
	if _, err := c.deliveries.ExpireOutstandingForSignal(ctx, prior.ID); err != nil {
		return err
	}
	return nil
}

// fanOut enumerates eligible user-brokers and inserts one CREATED delivery
// per pair (spec.md §4.5 step 3).
func (c *Coordinator) fanOut(ctx context.Context, sig *models.Signal) error {
	// A signal's broker wiring is resolved by symbol → DATA_FEED_BROKER at
	// the TickIntake layer; SignalCoordinator fans out across every broker
	// with an executable link, since a symbol may be tradable through more
	// than one linked account.
	brokers, err := c.candidateBrokerCodes(ctx)
	if err != nil {
		return err
	}

	var eligible []models.UserBroker
	for _, code := range brokers {
		ubs, err := c.userBrokers.ListExecutableForBroker(ctx, code)
		if err != nil {
			return err
		}
		for _, ub := range ubs {
			if ub.IsEligibleForSignal(sig.Symbol) {
				eligible = append(eligible, ub)
			}
		}
	}

	if len(eligible) == 0 {
		return nil
	}

	batch := make([]models.SignalDelivery, 0, len(eligible))
	for _, ub := range eligible {
		batch = append(batch, models.SignalDelivery{
			SignalID:     sig.ID,
			UserID:       ub.UserID,
			UserBrokerID: ub.ID,
		})
	}
	return c.deliveries.CreateBatch(ctx, batch)
}

func (c *Coordinator) candidateBrokerCodes(ctx context.Context) ([]string, error) {
	if c.BrokerCodes == nil {
		return nil, nil
	}
	return c.BrokerCodes(ctx)
}

package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/alexherrero/tradecore/actor"
	"github.com/alexherrero/tradecore/broker"
	"github.com/alexherrero/tradecore/events"
	"github.com/alexherrero/tradecore/models"
	"github.com/alexherrero/tradecore/signal"
	"github.com/alexherrero/tradecore/store"
	"github.com/alexherrero/tradecore/tracing"
)

// PortResolver looks up the live broker connection for a user-broker,
// satisfied by *broker.Registry in production and a fake in tests.
type PortResolver interface {
	Get(userBrokerID string) (broker.Port, error)
}

// Orchestrator is ExecutionOrchestrator (spec.md §4.6, C6): the periodic
// poll that turns CREATED SignalDeliveries into PENDING/REJECTED
// TradeIntents. A delivery's status column only ever holds CREATED as its
// live state — "APPROVED" in the spec prose is this engine's PENDING,
// since nothing downstream of Validate gates an already-validated intent
// again before OrderExecutor places it.
type Orchestrator struct {
	deliveries  *store.DeliveryStore
	signals     *store.SignalStore
	userBrokers *store.UserBrokerStore
	trades      *store.TradeStore
	registry    PortResolver
	validator   *Validator
	bus         events.Bus
	pool        *actor.Pool

	now func() time.Time
}

// NewOrchestrator builds an Orchestrator. partitions controls how many
// per-user_broker_id actor queues back the fan-out pool.
func NewOrchestrator(
	deliveries *store.DeliveryStore,
	signals *store.SignalStore,
	userBrokers *store.UserBrokerStore,
	trades *store.TradeStore,
	registry PortResolver,
	validator *Validator,
	bus events.Bus,
	partitions int,
) *Orchestrator {
	return &Orchestrator{
		deliveries:  deliveries,
		signals:     signals,
		userBrokers: userBrokers,
		trades:      trades,
		registry:    registry,
		validator:   validator,
		bus:         bus,
		pool:        actor.NewPool(partitions, 64),
		now:         time.Now,
	}
}

// Start launches the fan-out actor pool.
func (o *Orchestrator) Start(ctx context.Context) { o.pool.Start(ctx) }

// Stop drains and stops the actor pool.
func (o *Orchestrator) Stop() { o.pool.Stop() }

// Poll is the Scheduler's periodic trigger (every few seconds): it lists
// CREATED deliveries and enqueues each for validation. Fan-out is
// parallel across user-brokers; within one user-broker, processing is
// serialized by the actor partition.
func (o *Orchestrator) Poll(ctx context.Context, limit int) error {
	created, err := o.deliveries.ListCreated(ctx, limit)
	if err != nil {
		return fmt.Errorf("execution: poll created deliveries: %w", err)
	}
	for _, d := range created {
		delivery := d
		err := o.pool.Submit(ctx, actor.Job{
			Key: delivery.UserBrokerID,
			Run: func(jobCtx context.Context) {
				jobCtx, _ = tracing.EnsureTraceID(jobCtx)
				if err := o.process(jobCtx, delivery); err != nil {
					tracing.Logger(jobCtx).Error().Err(err).Str("delivery_id", delivery.ID).Msg("execution orchestrator failed to process delivery")
				}
			},
		})
		if err != nil {
			log.Error().Err(err).Str("delivery_id", delivery.ID).Msg("execution orchestrator: failed to enqueue")
		}
	}
	return nil
}

func (o *Orchestrator) process(ctx context.Context, d models.SignalDelivery) error {
	sig, err := o.signals.Get(ctx, d.SignalID)
	if err != nil {
		if err == store.ErrNotFound {
			return o.deliveries.RejectWithoutIntent(ctx, d.ID, "signal not found")
		}
		return fmt.Errorf("execution: load signal: %w", err)
	}

	ub, err := o.userBrokers.Get(ctx, d.UserBrokerID)
	if err != nil {
		if err == store.ErrNotFound {
			return o.deliveries.RejectWithoutIntent(ctx, d.ID, "user broker not found")
		}
		return fmt.Errorf("execution: load user broker: %w", err)
	}

	portfolio, err := o.buildPortfolioContext(ctx, ub)
	if err != nil {
		return fmt.Errorf("execution: build portfolio context: %w", err)
	}

	port, err := o.registry.Get(ub.ID)
	if err != nil {
		port = nil // Validator treats a missing adapter as disconnected.
	}

	result := o.validator.Validate(ctx, sig, ub, port, portfolio)

	intent := &models.TradeIntent{
		SignalID:         sig.ID,
		SignalDeliveryID: d.ID,
		UserID:           ub.UserID,
		UserBrokerID:     ub.ID,
		IntentID:         newIntentID(),
		Symbol:           sig.Symbol,
		Direction:        sig.Direction,
		OrderType:        models.OrderTypeMarket,
		ProductType:      models.ProductMIS,
		Validity:         models.ValidityDay,
		Kelly:            sig.Kelly,
	}
	if result.Sizing != nil {
		intent.Quantity = result.Sizing.Quantity
		intent.StopLoss = result.Sizing.StopLoss
		intent.TargetPrice = result.Sizing.TargetPrice
		intent.NotionalValue = result.Sizing.NotionalValue
		intent.RiskAmount = result.Sizing.RiskAmount
	} else {
		intent.StopLoss = models.NewMoney(0)
		intent.TargetPrice = models.NewMoney(0)
		intent.NotionalValue = models.NewMoney(0)
		intent.RiskAmount = models.NewMoney(0)
	}

	if result.Passed {
		intent.Status = models.IntentStatusPending
	} else {
		intent.Status = models.IntentStatusRejected
		intent.RejectReason = result.RejectReason()
	}

	if err := o.deliveries.ConsumeWithIntent(ctx, d.ID, intent); err != nil {
		if err == store.ErrNotFound {
			// Raced with another consumer, or expired via supersession.
			return nil
		}
		return fmt.Errorf("execution: consume delivery with intent: %w", err)
	}

	if o.bus != nil {
		payload := events.IntentDecisionPayload{
			IntentID:     intent.IntentID,
			DeliveryID:   d.ID,
			UserBrokerID: ub.ID,
			Reason:       intent.RejectReason,
		}
		if result.Passed {
			o.bus.Publish(events.IntentApproved, payload)
		} else {
			o.bus.Publish(events.IntentRejected, payload)
		}
	}
	return nil
}

func newIntentID() string { return uuid.NewString() }

func (o *Orchestrator) buildPortfolioContext(ctx context.Context, ub *models.UserBroker) (*models.PortfolioContext, error) {
	now := o.now()
	openCount, exposure, logExposure, dailyPnL, weeklyPnL, err := o.trades.PortfolioSnapshot(ctx, ub.ID, now, signal.ExchangeLocation)
	if err != nil {
		return nil, err
	}
	return &models.PortfolioContext{
		UserBrokerID:        ub.ID,
		TotalCapital:        ub.Capital,
		AvailableCapital:    ub.Capital.Sub(exposure),
		OpenTradeCount:      openCount,
		CurrentExposure:     exposure,
		CurrentLogExposure:  logExposure,
		DailyPnL:            dailyPnL,
		WeeklyPnL:           weeklyPnL,
		Cooldown:            ub.InCooldown(now),
		Paused:              ub.Paused,
	}, nil
}

package order

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexherrero/tradecore/models"
	"github.com/alexherrero/tradecore/store"
)

func newCoordinatorTestStore(t *testing.T) *store.TradeStore {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	return store.NewTradeStore(db)
}

func baseIntent() *models.TradeIntent {
	return &models.TradeIntent{
		SignalID:     "sig-1",
		UserID:       "U1",
		UserBrokerID: "UB1",
		IntentID:     "intent-1",
		Symbol:       "SBIN",
		Direction:    models.DirectionBuy,
		OrderType:    models.OrderTypeMarket,
		ProductType:  models.ProductMIS,
		Validity:     models.ValidityDay,
		Quantity:     10,
		StopLoss:     models.NewMoney(480),
		TargetPrice:  models.NewMoney(520),
	}
}

func baseCoordinatorSignal() *models.Signal {
	return &models.Signal{
		Symbol:           "SBIN",
		Direction:        models.DirectionBuy,
		SignalType:       models.SignalTypeEntry,
		RefPrice:         models.NewMoney(500),
		EffectiveFloor:   models.NewMoney(490),
		EffectiveCeiling: models.NewMoney(520),
		ExpiresAt:        time.Now().Add(time.Hour),
		SignalDay:        time.Now(),
	}
}

func TestCoordinatorCreateFromIntentIsIdempotent(t *testing.T) {
	trades := newCoordinatorTestStore(t)
	ctx := context.Background()
	c := NewCoordinator(trades, 2, DefaultTargetConfig())
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	intent := baseIntent()
	sig := baseCoordinatorSignal()

	t1, err := c.CreateFromIntent(ctx, intent, sig)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusCreated, t1.Status)

	t2, err := c.CreateFromIntent(ctx, intent, sig)
	require.NoError(t, err)
	assert.Equal(t, t1.ID, t2.ID, "a retried create must not produce a second trade")
}

func TestCoordinatorFullLifecycle(t *testing.T) {
	trades := newCoordinatorTestStore(t)
	ctx := context.Background()
	c := NewCoordinator(trades, 2, DefaultTargetConfig())
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	intent := baseIntent()
	sig := baseCoordinatorSignal()

	trade, err := c.CreateFromIntent(ctx, intent, sig)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, c.MarkPlaced(ctx, trade.ID, "BRK1", now))
	require.NoError(t, c.ApplyFill(ctx, trade.ID, models.NewMoney(502.50), 10, now))

	active := c.ActiveTradesFor("SBIN")
	require.Len(t, active, 1)
	assert.Equal(t, models.TradeStatusOpen, active[0].Status)

	require.NoError(t, c.TransitionToExiting(ctx, trade.ID))
	require.NoError(t, c.CloseOnExitFill(ctx, trade.ID, models.NewMoney(510), 10, "TARGET_HIT", now.Add(time.Hour)))

	closed, err := trades.Get(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusClosed, closed.Status)
	assert.True(t, closed.RealizedPnL.GreaterThan(models.NewMoney(0)))
	assert.Empty(t, c.ActiveTradesFor("SBIN"), "closed trade must leave the active index")
}

func TestCoordinatorMarkRejected(t *testing.T) {
	trades := newCoordinatorTestStore(t)
	ctx := context.Background()
	c := NewCoordinator(trades, 2, DefaultTargetConfig())
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	trade, err := c.CreateFromIntent(ctx, baseIntent(), baseCoordinatorSignal())
	require.NoError(t, err)

	require.NoError(t, c.MarkRejected(ctx, trade.ID, "EXECUTION_ERROR", time.Now()))

	reloaded, err := trades.Get(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusRejected, reloaded.Status)
	assert.Equal(t, "EXECUTION_ERROR", reloaded.RejectReason)
}

package exit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexherrero/tradecore/broker"
	"github.com/alexherrero/tradecore/models"
	"github.com/alexherrero/tradecore/order"
)

func newTestCoordinator(t *testing.T) (*order.Coordinator, context.Context) {
	t.Helper()
	trades, _ := newTestStores(t)
	ctx := context.Background()
	c := order.NewCoordinator(trades, 2, order.DefaultTargetConfig())
	require.NoError(t, c.Start(ctx))
	t.Cleanup(c.Stop)
	return c, ctx
}

func TestServiceCreatesTargetHitExitIntent(t *testing.T) {
	c, ctx := newTestCoordinator(t)
	trade := openTrade(t, ctx, c)

	_, exitIntents := newTestStores(t)
	svc := NewService(c, exitIntents, DefaultLimits(), nil)

	// trade's InitialTarget is 500 + (500-490)*2 = 520.00
	svc.OnTick(ctx, broker.Tick{Symbol: "SBIN", LastPrice: models.NewMoney(521)})

	approved, err := exitIntents.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, models.ExitReasonTargetHit, approved[0].Reason)
	assert.Equal(t, trade.ID, approved[0].TradeID)
	assert.Equal(t, trade.OpenQuantity, approved[0].Quantity)
}

func TestServiceCreatesStopLossExitIntent(t *testing.T) {
	c, ctx := newTestCoordinator(t)
	openTrade(t, ctx, c)

	_, exitIntents := newTestStores(t)
	svc := NewService(c, exitIntents, DefaultLimits(), nil)

	// InitialStopLoss is 490.00
	svc.OnTick(ctx, broker.Tick{Symbol: "SBIN", LastPrice: models.NewMoney(488)})

	pending, err := exitIntents.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.ExitReasonStopLoss, pending[0].Reason)
}

func TestServiceDoesNotDuplicateExitIntentAcrossTicks(t *testing.T) {
	c, ctx := newTestCoordinator(t)
	openTrade(t, ctx, c)

	_, exitIntents := newTestStores(t)
	svc := NewService(c, exitIntents, DefaultLimits(), nil)

	svc.OnTick(ctx, broker.Tick{Symbol: "SBIN", LastPrice: models.NewMoney(521)})
	svc.OnTick(ctx, broker.Tick{Symbol: "SBIN", LastPrice: models.NewMoney(522)})

	pending, err := exitIntents.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "a second tick hitting the same condition must not create a duplicate")
}

func TestServiceTrailingStopFlow(t *testing.T) {
	// Mirrors spec.md §7 example 5: entry 100, activation 2%, distance 3%.
	c, ctx := newTestCoordinator(t)

	intent := baseTestIntent()
	intent.StopLoss = models.NewMoney(80)
	intent.TargetPrice = models.NewMoney(1000) // keep target unreachable for this scenario
	sig := baseTestSignal()
	sig.RefPrice = models.NewMoney(100)
	sig.EffectiveFloor = models.NewMoney(80)

	trade, err := c.CreateFromIntent(ctx, intent, sig)
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, c.MarkPlaced(ctx, trade.ID, "BRK-TRAIL", now))
	require.NoError(t, c.ApplyFill(ctx, trade.ID, models.NewMoney(100), 20, now))

	_, exitIntents := newTestStores(t)
	limits := Limits{TrailingActivationPct: models.NewRatio(0.02), TrailingDistancePct: models.NewRatio(0.03), MaxHoldingDays: 30}
	svc := NewService(c, exitIntents, limits, nil)

	prices := []float64{101, 102, 103, 104, 105, 106, 107, 108, 109, 110, 108, 107, 106}
	for _, p := range prices {
		svc.OnTick(ctx, broker.Tick{Symbol: "SBIN", LastPrice: models.NewMoney(p)})
	}

	pending, err := exitIntents.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.ExitReasonTrailingStop, pending[0].Reason)

	reloaded, err := c.Get(ctx, trade.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.TrailingActive)
	require.NotNil(t, reloaded.TrailingHighestPrice)
	assert.True(t, reloaded.TrailingHighestPrice.Equal(models.NewMoney(110)))
}

func TestServiceSkipsTradesNotOpen(t *testing.T) {
	c, ctx := newTestCoordinator(t)
	trade, err := c.CreateFromIntent(ctx, baseTestIntent(), baseTestSignal())
	require.NoError(t, err) // trade is CREATED, never filled, so never entered the active index

	_, exitIntents := newTestStores(t)
	svc := NewService(c, exitIntents, DefaultLimits(), nil)
	svc.OnTick(ctx, broker.Tick{Symbol: "SBIN", LastPrice: models.NewMoney(1000)})

	pending, err := exitIntents.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
	_ = trade
}

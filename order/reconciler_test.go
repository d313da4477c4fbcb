package order

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexherrero/tradecore/broker"
	"github.com/alexherrero/tradecore/models"
)

func TestReconcilerAppliesBrokerFill(t *testing.T) {
	trades := newCoordinatorTestStore(t)
	ctx := context.Background()
	c := NewCoordinator(trades, 2, DefaultTargetConfig())
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	mock := connectedMockAdapter()
	trade, err := c.CreateFromIntent(ctx, baseIntent(), baseCoordinatorSignal())
	require.NoError(t, err)

	ack, err := mock.PlaceOrder(ctx, broker.OrderRequest{IntentID: trade.IntentID, Symbol: "SBIN", Exchange: "NSE", Direction: models.DirectionBuy, OrderType: models.OrderTypeMarket, ProductType: models.ProductMIS, Validity: models.ValidityDay, Quantity: 10})
	require.NoError(t, err)
	require.NoError(t, c.MarkPlaced(ctx, trade.ID, ack.BrokerOrderID, time.Now()))

	limiter := broker.NewRateLimiter(1000, 1000, 1000, 5)
	recon := NewReconciler(trades, &fakeExecPortResolver{port: mock}, c, limiter)
	require.NoError(t, recon.Run(ctx))

	reloaded, err := trades.Get(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusOpen, reloaded.Status, "mock adapter fills instantly")
	assert.Equal(t, int64(10), reloaded.EntryQuantity)
}

func TestReconcilerRejectsOnTimeout(t *testing.T) {
	trades := newCoordinatorTestStore(t)
	ctx := context.Background()
	c := NewCoordinator(trades, 2, DefaultTargetConfig())
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	trade, err := c.CreateFromIntent(ctx, baseIntent(), baseCoordinatorSignal())
	require.NoError(t, err)

	staleTime := time.Now().Add(-defaultPendingTimeout - time.Minute)
	require.NoError(t, c.MarkPlaced(ctx, trade.ID, "BRK-STALE", staleTime))

	mock := connectedMockAdapter()
	limiter := broker.NewRateLimiter(1000, 1000, 1000, 5)
	recon := NewReconciler(trades, &fakeExecPortResolver{port: mock}, c, limiter)
	require.NoError(t, recon.Run(ctx))

	reloaded, err := trades.Get(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusRejected, reloaded.Status)
	assert.Equal(t, "TIMEOUT", reloaded.RejectReason)
}

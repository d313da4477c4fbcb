package exit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexherrero/tradecore/broker"
	"github.com/alexherrero/tradecore/models"
	"github.com/alexherrero/tradecore/store"
)

func placeExitOrder(t *testing.T, ctx context.Context, mock *broker.MockAdapter, exitIntents *store.ExitIntentStore, intentID string, qty int64) string {
	t.Helper()
	ack, err := mock.PlaceOrder(ctx, broker.OrderRequest{
		IntentID: intentID, Symbol: "SBIN", Exchange: "NSE", Direction: models.DirectionSell,
		OrderType: models.OrderTypeMarket, ProductType: models.ProductMIS, Validity: models.ValidityDay, Quantity: qty,
	})
	require.NoError(t, err)
	require.NoError(t, exitIntents.MarkPlaced(ctx, intentID, ack.BrokerOrderID))
	return ack.BrokerOrderID
}

func TestReconcilerClosesTradeOnFill(t *testing.T) {
	c, ctx := newTestCoordinator(t)
	trade := openTrade(t, ctx, c)
	require.NoError(t, c.TransitionToExiting(ctx, trade.ID))

	_, exitIntents := newTestStores(t)
	require.NoError(t, exitIntents.Create(ctx, &models.ExitIntent{TradeID: trade.ID, Reason: models.ExitReasonTargetHit, Quantity: trade.OpenQuantity, Status: models.ExitIntentStatusPending}))
	pending, err := exitIntents.ListPending(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, exitIntents.MarkApproved(ctx, pending[0].ID))

	mock := connectedMockAdapter("SBIN", 521)
	placeExitOrder(t, ctx, mock, exitIntents, pending[0].ID, trade.OpenQuantity)

	limiter := broker.NewRateLimiter(1000, 1000, 1000, 5)
	recon := NewReconciler(exitIntents, &fakePortResolver{port: mock}, c, limiter)
	require.NoError(t, recon.Run(ctx))

	filled, err := exitIntents.ListPlaced(ctx)
	require.NoError(t, err)
	assert.Empty(t, filled, "mock adapter fills instantly")

	reloaded, err := c.Get(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusClosed, reloaded.Status)
	assert.NotNil(t, reloaded.ExitPrice)
}

func TestReconcilerFailsOnTimeout(t *testing.T) {
	c, ctx := newTestCoordinator(t)
	trade := openTrade(t, ctx, c)
	require.NoError(t, c.TransitionToExiting(ctx, trade.ID))

	_, exitIntents := newTestStores(t)
	require.NoError(t, exitIntents.Create(ctx, &models.ExitIntent{TradeID: trade.ID, Reason: models.ExitReasonTargetHit, Quantity: trade.OpenQuantity, Status: models.ExitIntentStatusPending}))
	pending, err := exitIntents.ListPending(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, exitIntents.MarkApproved(ctx, pending[0].ID))

	mock := connectedMockAdapter("SBIN", 521)
	placeExitOrder(t, ctx, mock, exitIntents, pending[0].ID, trade.OpenQuantity)

	limiter := broker.NewRateLimiter(1000, 1000, 1000, 5)
	recon := NewReconciler(exitIntents, &fakePortResolver{port: mock}, c, limiter)
	recon.now = func() time.Time { return time.Now().Add(defaultExitTimeout + time.Minute) }
	require.NoError(t, recon.Run(ctx))

	placed, err := exitIntents.ListPlaced(ctx)
	require.NoError(t, err)
	assert.Empty(t, placed)
}

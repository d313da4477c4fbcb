package exit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexherrero/tradecore/broker"
	"github.com/alexherrero/tradecore/events"
	"github.com/alexherrero/tradecore/models"
)

type recordingBus struct{ events []events.Event }

func (b *recordingBus) Publish(t events.Type, payload interface{}) {
	b.events = append(b.events, events.Event{Type: t, Payload: payload})
}

func TestExecutorPlacesExitOrderAndTransitionsTradeToExiting(t *testing.T) {
	c, ctx := newTestCoordinator(t)
	trade := openTrade(t, ctx, c)

	_, exitIntents := newTestStores(t)
	require.NoError(t, exitIntents.Create(ctx, &models.ExitIntent{TradeID: trade.ID, Reason: models.ExitReasonTargetHit, Quantity: trade.OpenQuantity, Status: models.ExitIntentStatusPending}))
	pending, err := exitIntents.ListPending(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, exitIntents.MarkApproved(ctx, pending[0].ID))

	mock := connectedMockAdapter("SBIN", 521)
	bus := &recordingBus{}
	exec := NewExecutor(exitIntents, &fakePortResolver{port: mock}, c, bus)
	require.NoError(t, exec.Poll(ctx, 10))

	require.Len(t, bus.events, 1)
	assert.Equal(t, events.ExitIntentPlaced, bus.events[0].Type)

	placed, err := exitIntents.ListPlaced(ctx)
	require.NoError(t, err)
	require.Len(t, placed, 1)
	assert.NotEmpty(t, placed[0].BrokerOrderID)

	reloaded, err := c.Get(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusExiting, reloaded.Status)
}

func TestExecutorLeavesApprovedWhenBrokerCannotPlaceOrders(t *testing.T) {
	c, ctx := newTestCoordinator(t)
	trade := openTrade(t, ctx, c)

	_, exitIntents := newTestStores(t)
	require.NoError(t, exitIntents.Create(ctx, &models.ExitIntent{TradeID: trade.ID, Reason: models.ExitReasonTargetHit, Quantity: trade.OpenQuantity, Status: models.ExitIntentStatusPending}))
	pending, err := exitIntents.ListPending(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, exitIntents.MarkApproved(ctx, pending[0].ID))

	disconnected := broker.NewMockAdapter()
	exec := NewExecutor(exitIntents, &fakePortResolver{port: disconnected}, c, nil)
	require.NoError(t, exec.Poll(ctx, 10))

	approved, err := exitIntents.ListApproved(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, approved, 1, "intent stays APPROVED for the next cycle")

	reloaded, err := c.Get(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusOpen, reloaded.Status)
}

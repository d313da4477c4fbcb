package exit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexherrero/tradecore/broker"
	"github.com/alexherrero/tradecore/models"
)

func TestQualificationApprovesValidIntent(t *testing.T) {
	c, ctx := newTestCoordinator(t)
	trade := openTrade(t, ctx, c)

	_, exitIntents := newTestStores(t)
	require.NoError(t, exitIntents.Create(ctx, &models.ExitIntent{TradeID: trade.ID, Reason: models.ExitReasonTargetHit, Quantity: trade.OpenQuantity, Status: models.ExitIntentStatusPending}))

	q := NewQualification(exitIntents, c, &fakePortResolver{port: connectedMockAdapter("SBIN", 521)})
	require.NoError(t, q.Run(ctx, 10))

	approved, err := exitIntents.ListApproved(ctx, 10)
	require.NoError(t, err)
	require.Len(t, approved, 1)
}

func TestQualificationRejectsWhenBrokerDisconnected(t *testing.T) {
	c, ctx := newTestCoordinator(t)
	trade := openTrade(t, ctx, c)

	_, exitIntents := newTestStores(t)
	require.NoError(t, exitIntents.Create(ctx, &models.ExitIntent{TradeID: trade.ID, Reason: models.ExitReasonTargetHit, Quantity: trade.OpenQuantity, Status: models.ExitIntentStatusPending}))

	disconnected := broker.NewMockAdapter() // never Connect()ed
	q := NewQualification(exitIntents, c, &fakePortResolver{port: disconnected})
	require.NoError(t, q.Run(ctx, 10))

	pending, err := exitIntents.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	approved, err := exitIntents.ListApproved(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, approved)
}

func TestQualificationRejectsWhenQuantityExceedsOpen(t *testing.T) {
	c, ctx := newTestCoordinator(t)
	trade := openTrade(t, ctx, c)

	_, exitIntents := newTestStores(t)
	require.NoError(t, exitIntents.Create(ctx, &models.ExitIntent{TradeID: trade.ID, Reason: models.ExitReasonTargetHit, Quantity: trade.OpenQuantity + 5, Status: models.ExitIntentStatusPending}))

	q := NewQualification(exitIntents, c, &fakePortResolver{port: connectedMockAdapter("SBIN", 521)})
	require.NoError(t, q.Run(ctx, 10))

	approved, err := exitIntents.ListApproved(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, approved)
}

package exit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexherrero/tradecore/broker"
	"github.com/alexherrero/tradecore/models"
	"github.com/alexherrero/tradecore/order"
	"github.com/alexherrero/tradecore/store"
)

type fakePortResolver struct {
	port broker.Port
	err  error
}

func (f *fakePortResolver) Get(userBrokerID string) (broker.Port, error) { return f.port, f.err }

func connectedMockAdapter(symbol string, ltp float64) *broker.MockAdapter {
	m := broker.NewMockAdapter()
	_, _ = m.Connect(context.Background(), nil)
	m.SetLTP(symbol, models.NewMoney(ltp))
	return m
}

func newTestStores(t *testing.T) (*store.TradeStore, *store.ExitIntentStore) {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	return store.NewTradeStore(db), store.NewExitIntentStore(db)
}

func baseTestIntent() *models.TradeIntent {
	return &models.TradeIntent{
		SignalID: "sig-1", UserID: "U1", UserBrokerID: "UB1", IntentID: "intent-exit-1",
		Symbol: "SBIN", Direction: models.DirectionBuy, OrderType: models.OrderTypeMarket,
		ProductType: models.ProductMIS, Validity: models.ValidityDay, Quantity: 20,
		StopLoss: models.NewMoney(480), TargetPrice: models.NewMoney(520),
	}
}

func baseTestSignal() *models.Signal {
	return &models.Signal{
		Symbol: "SBIN", Direction: models.DirectionBuy, SignalType: models.SignalTypeEntry,
		RefPrice: models.NewMoney(500), EffectiveFloor: models.NewMoney(490), EffectiveCeiling: models.NewMoney(520),
		ExpiresAt: time.Now().Add(time.Hour), SignalDay: time.Now(),
	}
}

// openTrade drives a trade all the way to OPEN through the real
// TradeCoordinator API, at entry price 500.00 and quantity 20.
func openTrade(t *testing.T, ctx context.Context, c *order.Coordinator) *models.Trade {
	t.Helper()
	trade, err := c.CreateFromIntent(ctx, baseTestIntent(), baseTestSignal())
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, c.MarkPlaced(ctx, trade.ID, "BRK-EXIT-1", now))
	require.NoError(t, c.ApplyFill(ctx, trade.ID, models.NewMoney(500), 20, now))
	reloaded, err := c.Get(ctx, trade.ID)
	require.NoError(t, err)
	return reloaded
}

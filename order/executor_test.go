package order

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexherrero/tradecore/broker"
	"github.com/alexherrero/tradecore/events"
	"github.com/alexherrero/tradecore/models"
	"github.com/alexherrero/tradecore/store"
)

type fakeExecPortResolver struct {
	port broker.Port
	err  error
}

func (f *fakeExecPortResolver) Get(userBrokerID string) (broker.Port, error) { return f.port, f.err }

type execRecordingBus struct{ events []events.Event }

func (b *execRecordingBus) Publish(t events.Type, payload interface{}) {
	b.events = append(b.events, events.Event{Type: t, Payload: payload})
}

func connectedMockAdapter() *broker.MockAdapter {
	m := broker.NewMockAdapter()
	_, _ = m.Connect(context.Background(), nil)
	m.SetLTP("SBIN", models.NewMoney(502.50))
	return m
}

func newExecutorTestStores(t *testing.T) (*store.IntentStore, *store.SignalStore, *store.DeliveryStore) {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	return store.NewIntentStore(db), store.NewSignalStore(db), store.NewDeliveryStore(db)
}

// seedPendingIntent creates a Signal, a consumed SignalDelivery, and an
// inserted PENDING TradeIntent via the same transactional path
// execution.Orchestrator uses, so the Executor test exercises a
// realistically-shaped intent.
func seedPendingIntent(t *testing.T, signals *store.SignalStore, deliveries *store.DeliveryStore) *models.TradeIntent {
	t.Helper()
	ctx := context.Background()
	sig := baseCoordinatorSignal()
	require.NoError(t, signals.Create(ctx, sig))
	require.NoError(t, deliveries.CreateBatch(ctx, []models.SignalDelivery{{SignalID: sig.ID, UserID: "U1", UserBrokerID: "UB1"}}))
	created, err := deliveries.ListCreated(ctx, 10)
	require.NoError(t, err)
	require.Len(t, created, 1)

	intent := &models.TradeIntent{
		SignalID: sig.ID, SignalDeliveryID: created[0].ID, UserID: "U1", UserBrokerID: "UB1",
		IntentID: "intent-exec-1", Symbol: sig.Symbol, Direction: models.DirectionBuy,
		OrderType: models.OrderTypeMarket, ProductType: models.ProductMIS, Validity: models.ValidityDay,
		Quantity: 10, StopLoss: models.NewMoney(480), TargetPrice: models.NewMoney(520),
		NotionalValue: models.NewMoney(5000), RiskAmount: models.NewMoney(200), Kelly: sig.Kelly,
		Status: models.IntentStatusPending,
	}
	require.NoError(t, deliveries.ConsumeWithIntent(ctx, created[0].ID, intent))
	return intent
}

func TestExecutorPlacesOrderAndMarksPending(t *testing.T) {
	intents, signals, deliveries := newExecutorTestStores(t)
	seedPendingIntent(t, signals, deliveries)

	trades := newCoordinatorTestStore(t)
	coordinator := NewCoordinator(trades, 2, DefaultTargetConfig())
	ctx := context.Background()
	require.NoError(t, coordinator.Start(ctx))
	defer coordinator.Stop()

	bus := &execRecordingBus{}
	exec := NewExecutor(intents, signals, &fakeExecPortResolver{port: connectedMockAdapter()}, coordinator, bus, func() bool { return true })

	require.NoError(t, exec.Poll(ctx, 10))

	require.Len(t, bus.events, 1)
	assert.Equal(t, events.OrderCreated, bus.events[0].Type)

	payload, ok := bus.events[0].Payload.(events.OrderPayload)
	require.True(t, ok)
	trade, err := trades.Get(ctx, payload.TradeID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusPending, trade.Status)
	assert.NotEmpty(t, trade.EntryBrokerOrderID)
}

func TestExecutorRefusesWhenTradingDisabled(t *testing.T) {
	intents, signals, deliveries := newExecutorTestStores(t)
	seedPendingIntent(t, signals, deliveries)

	trades := newCoordinatorTestStore(t)
	coordinator := NewCoordinator(trades, 2, DefaultTargetConfig())
	ctx := context.Background()
	require.NoError(t, coordinator.Start(ctx))
	defer coordinator.Stop()

	bus := &execRecordingBus{}
	exec := NewExecutor(intents, signals, &fakeExecPortResolver{port: connectedMockAdapter()}, coordinator, bus, func() bool { return false })

	require.NoError(t, exec.Poll(ctx, 10))
	assert.Empty(t, bus.events, "no trade should be placed while trading is disabled")

	remaining, err := intents.ListApproved(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 1, "intent stays PENDING for the next cycle")
}

func TestExecutorRefusesWhenBrokerCannotPlaceOrders(t *testing.T) {
	intents, signals, deliveries := newExecutorTestStores(t)
	seedPendingIntent(t, signals, deliveries)

	trades := newCoordinatorTestStore(t)
	coordinator := NewCoordinator(trades, 2, DefaultTargetConfig())
	ctx := context.Background()
	require.NoError(t, coordinator.Start(ctx))
	defer coordinator.Stop()

	disconnected := broker.NewMockAdapter() // never Connect()ed
	bus := &execRecordingBus{}
	exec := NewExecutor(intents, signals, &fakeExecPortResolver{port: disconnected}, coordinator, bus, func() bool { return true })

	require.NoError(t, exec.Poll(ctx, 10))
	assert.Empty(t, bus.events)
}

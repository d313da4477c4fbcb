package execution

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

type fakeResolver struct {
	port broker.Port
	err  error
}

func (f *fakeResolver) Get(userBrokerID string) (broker.Port, error) { return f.port, f.err }

type recordingBus struct {
	events []events.Event
}

func (b *recordingBus) Publish(t events.Type, payload interface{}) {
	b.events = append(b.events, events.Event{Type: t, Payload: payload})
}

func newOrchestratorTestStores(t *testing.T) (*store.DeliveryStore, *store.SignalStore, *store.UserBrokerStore, *store.TradeStore) {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	return store.NewDeliveryStore(db), store.NewSignalStore(db), store.NewUserBrokerStore(db), store.NewTradeStore(db)
}

func TestOrchestratorApprovesWithinLimits(t *testing.T) {
	deliveries, signals, userBrokers, trades := newOrchestratorTestStores(t)
	ctx := context.Background()

	ub := &models.UserBroker{UserID: "U1", BrokerCode: "ZERODHA", Role: models.RoleExec, Status: models.UserBrokerConnected, Capital: models.NewMoney(100000)}
	require.NoError(t, userBrokers.Create(ctx, ub))

	sig := baseSignal()
	require.NoError(t, signals.Create(ctx, sig))

	require.NoError(t, deliveries.CreateBatch(ctx, []models.SignalDelivery{{SignalID: sig.ID, UserID: ub.UserID, UserBrokerID: ub.ID}}))
	created, err := deliveries.ListCreated(ctx, 10)
	require.NoError(t, err)
	require.Len(t, created, 1)

	sizer := &fakeSizer{result: &models.PositionSizeResult{
		Quantity: 10, NotionalValue: models.NewMoney(5000), RiskAmount: models.NewMoney(500),
		StopLoss: models.NewMoney(480), TargetPrice: models.NewMoney(520),
	}}
	validator := NewValidator(sizer, DefaultLimits())
	bus := &recordingBus{}

	o := NewOrchestrator(deliveries, signals, userBrokers, trades, &fakeResolver{port: connectedMock()}, validator, bus, 2)
	require.NoError(t, o.process(ctx, created[0]))

	remaining, err := deliveries.ListCreated(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, remaining, "delivery must leave CREATED once consumed")

	require.Len(t, bus.events, 1)
	assert.Equal(t, events.IntentApproved, bus.events[0].Type)
}

func TestOrchestratorRejectsOnDisconnectedBroker(t *testing.T) {
	deliveries, signals, userBrokers, trades := newOrchestratorTestStores(t)
	ctx := context.Background()

	ub := &models.UserBroker{UserID: "U1", BrokerCode: "ZERODHA", Role: models.RoleExec, Status: models.UserBrokerConnected, Capital: models.NewMoney(100000)}
	require.NoError(t, userBrokers.Create(ctx, ub))

	sig := baseSignal()
	require.NoError(t, signals.Create(ctx, sig))
	require.NoError(t, deliveries.CreateBatch(ctx, []models.SignalDelivery{{SignalID: sig.ID, UserID: ub.UserID, UserBrokerID: ub.ID}}))
	created, err := deliveries.ListCreated(ctx, 10)
	require.NoError(t, err)

	sizer := &fakeSizer{result: &models.PositionSizeResult{Quantity: 10, NotionalValue: models.NewMoney(5000)}}
	validator := NewValidator(sizer, DefaultLimits())
	bus := &recordingBus{}

	o := NewOrchestrator(deliveries, signals, userBrokers, trades, &fakeResolver{port: nil}, validator, bus, 2)
	require.NoError(t, o.process(ctx, created[0]))

	require.Len(t, bus.events, 1)
	assert.Equal(t, events.IntentRejected, bus.events[0].Type)
}

func TestOrchestratorRejectsWithoutIntentWhenSignalMissing(t *testing.T) {
	deliveries, signals, userBrokers, trades := newOrchestratorTestStores(t)
	ctx := context.Background()

	ub := &models.UserBroker{UserID: "U1", BrokerCode: "ZERODHA", Role: models.RoleExec, Status: models.UserBrokerConnected, Capital: models.NewMoney(100000)}
	require.NoError(t, userBrokers.Create(ctx, ub))

	require.NoError(t, deliveries.CreateBatch(ctx, []models.SignalDelivery{{SignalID: "missing-signal", UserID: ub.UserID, UserBrokerID: ub.ID}}))
	created, err := deliveries.ListCreated(ctx, 10)
	require.NoError(t, err)

	validator := NewValidator(&fakeSizer{}, DefaultLimits())
	o := NewOrchestrator(deliveries, signals, userBrokers, trades, &fakeResolver{}, validator, nil, 2)
	require.NoError(t, o.process(ctx, created[0]))

	remaining, err := deliveries.ListCreated(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

package signal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexherrero/tradecore/models"
	"github.com/alexherrero/tradecore/store"
)

type fakeAnalytics struct {
	candidate *models.SignalCandidate
}

func (f *fakeAnalytics) Evaluate(ctx context.Context, symbol string, tf models.Timeframe) (*models.SignalCandidate, error) {
	return f.candidate, nil
}

func newTestStores(t *testing.T) (*store.SignalStore, *store.DeliveryStore, *store.UserBrokerStore) {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	return store.NewSignalStore(db), store.NewDeliveryStore(db), store.NewUserBrokerStore(db)
}

func baseCandidate(symbol string, dir models.Direction) *models.SignalCandidate {
	return &models.SignalCandidate{
		Symbol:           symbol,
		Direction:        dir,
		SignalType:       models.SignalTypeEntry,
		Confluence:       models.ConfluenceTriple,
		ConfluenceScore:  models.NewRatio(0.9),
		PWin:             models.NewRatio(0.62),
		PFill:            models.NewRatio(0.95),
		Kelly:            models.NewRatio(0.08),
		RefPrice:         models.NewMoney(500),
		EffectiveFloor:   models.NewMoney(490),
		EffectiveCeiling: models.NewMoney(520),
		ExpiresAt:        time.Now().Add(time.Hour),
	}
}

func TestProcessPublishesSignalAndFansOut(t *testing.T) {
	signals, deliveries, userBrokers := newTestStores(t)
	ctx := context.Background()

	ub := &models.UserBroker{
		UserID: "U1", BrokerCode: "ZERODHA", Role: models.RoleExec,
		Status: models.UserBrokerConnected, Capital: models.NewMoney(100000),
	}
	require.NoError(t, userBrokers.Create(ctx, ub))

	c := NewCoordinator(&fakeAnalytics{candidate: baseCandidate("SBIN", models.DirectionBuy)}, signals, deliveries, userBrokers, nil, 2)
	c.BrokerCodes = func(ctx context.Context) ([]string, error) { return []string{"ZERODHA"}, nil }

	require.NoError(t, c.process(ctx, "SBIN", models.TimeframeM15))

	sig, err := signals.FindLiveByDedupeKey(ctx, "SBIN", time.Now().In(ExchangeLocation).Truncate(24*time.Hour), models.SignalTypeEntry, models.DirectionBuy)
	require.NoError(t, err)
	assert.Equal(t, models.SignalStatusActive, sig.Status)

	created, err := deliveries.ListCreated(ctx, 10)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, sig.ID, created[0].SignalID)
}

// TestSupersessionExpiresPriorDeliveries covers scenario 6: a second
// signal for the same dedupe key supersedes the first and expires its
// still-CREATED deliveries.
func TestSupersessionExpiresPriorDeliveries(t *testing.T) {
	signals, deliveries, userBrokers := newTestStores(t)
	ctx := context.Background()

	ub := &models.UserBroker{
		UserID: "U1", BrokerCode: "ZERODHA", Role: models.RoleExec,
		Status: models.UserBrokerConnected, Capital: models.NewMoney(100000),
	}
	require.NoError(t, userBrokers.Create(ctx, ub))

	cand := baseCandidate("SBIN", models.DirectionBuy)
	c := NewCoordinator(&fakeAnalytics{candidate: cand}, signals, deliveries, userBrokers, nil, 2)
	c.BrokerCodes = func(ctx context.Context) ([]string, error) { return []string{"ZERODHA"}, nil }

	require.NoError(t, c.process(ctx, "SBIN", models.TimeframeM15))
	first, err := signals.FindLiveByDedupeKey(ctx, "SBIN", time.Now().In(ExchangeLocation).Truncate(24*time.Hour), models.SignalTypeEntry, models.DirectionBuy)
	require.NoError(t, err)

	require.NoError(t, c.process(ctx, "SBIN", models.TimeframeM15))

	reloaded, err := signals.FindLiveByDedupeKey(ctx, "SBIN", time.Now().In(ExchangeLocation).Truncate(24*time.Hour), models.SignalTypeEntry, models.DirectionBuy)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, reloaded.ID)

	created, err := deliveries.ListCreated(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, created, 1, "only the new signal's delivery should remain CREATED")
}

func TestIneligibleUserBrokerSkipped(t *testing.T) {
	signals, deliveries, userBrokers := newTestStores(t)
	ctx := context.Background()

	ub := &models.UserBroker{
		UserID: "U1", BrokerCode: "ZERODHA", Role: models.RoleExec,
		Status: models.UserBrokerConnected, Paused: true, Capital: models.NewMoney(100000),
	}
	require.NoError(t, userBrokers.Create(ctx, ub))

	c := NewCoordinator(&fakeAnalytics{candidate: baseCandidate("SBIN", models.DirectionBuy)}, signals, deliveries, userBrokers, nil, 2)
	c.BrokerCodes = func(ctx context.Context) ([]string, error) { return []string{"ZERODHA"}, nil }

	require.NoError(t, c.process(ctx, "SBIN", models.TimeframeM15))

	created, err := deliveries.ListCreated(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, created, "paused user-broker must not receive a delivery")
}

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexherrero/tradecore/broker"
	"github.com/alexherrero/tradecore/candle"
	"github.com/alexherrero/tradecore/models"
	"github.com/alexherrero/tradecore/store"
)

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	return db
}

// TestSchedulerRunsCandleFinalizeOnATicker verifies the ticker loop itself
// fires a task and Stop halts it cleanly, without wiring every collaborator
// (most are nil-safe no-ops, see TestSchedulerTasksAreNilSafe).
func TestSchedulerRunsCandleFinalizeOnATicker(t *testing.T) {
	db := newTestDB(t)
	cs := store.NewCandleStore(db)
	builder := candle.NewBuilder(cs, nil)

	base := time.Date(2026, 1, 1, 9, 15, 0, 0, time.UTC)
	builder.OnTick(context.Background(), broker.Tick{Symbol: "SBIN", LastPrice: models.NewMoney(500), Volume: 10, Timestamp: base})

	s := New(Config{Candles: builder})
	s.now = func() time.Time { return base.Add(2 * time.Minute) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.runEvery(ctx, "candle_finalize_test", 10*time.Millisecond, 0, s.runCandleFinalize)
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	candles, err := cs.Range(context.Background(), "SBIN", models.TimeframeM1, base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	assert.NotEmpty(t, candles, "sweep should have finalized the in-progress candle")
}

// TestSchedulerTasksAreNilSafe verifies every task method tolerates a
// Scheduler built with no collaborators wired (a partially-started
// process, or a run mode that doesn't need a given task).
func TestSchedulerTasksAreNilSafe(t *testing.T) {
	s := New(Config{})
	ctx := context.Background()

	assert.NotPanics(t, func() {
		s.runCandleFinalize(ctx)
		s.runOrderReconcile(ctx)
		s.runExitPipeline(ctx)
		s.runExitReconcile(ctx)
		s.runMTFSweep(ctx)
		s.runWatchdog(ctx)
		s.runOAuthCleanup(ctx)
		s.runInstrumentRefresh(ctx)
	})
}

// TestSchedulerTaskPanicIsRecovered verifies one task's panic never
// escapes runTask, so a single broken collaborator can't take down the
// scheduler's other tickers (spec.md §4.10).
func TestSchedulerTaskPanicIsRecovered(t *testing.T) {
	s := New(Config{})
	assert.NotPanics(t, func() {
		s.runTask(context.Background(), "boom", func(context.Context) { panic("boom") })
	})
}

type fakeInstrumentPort struct {
	broker.Port
	instruments []models.Instrument
}

func (f *fakeInstrumentPort) GetInstruments(ctx context.Context) ([]models.Instrument, error) {
	return f.instruments, nil
}

func TestSchedulerInstrumentRefreshUpsertsEachBroker(t *testing.T) {
	db := newTestDB(t)
	instruments := store.NewInstrumentStore(db)

	port := &fakeInstrumentPort{instruments: []models.Instrument{
		{Symbol: "SBIN", Exchange: "NSE", TickSize: models.NewMoney(0.05), LotSize: 1, Tradable: true},
		{Symbol: "RELIANCE", Exchange: "NSE", TickSize: models.NewMoney(0.05), LotSize: 1, Tradable: true},
	}}

	s := New(Config{
		Instruments: instruments,
		Refreshers:  []InstrumentRefresher{{BrokerCode: "ZERODHA", Port: port}},
	})
	s.runInstrumentRefresh(context.Background())

	listed, err := instruments.ListTradable(context.Background(), "ZERODHA")
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

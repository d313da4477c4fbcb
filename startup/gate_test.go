package startup

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexherrero/tradecore/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PRODUCTION_MODE", "ORDER_EXECUTION_ENABLED", "TRADING_ENABLED",
		"DATA_FEED_BROKER", "ORDER_BROKER", "DATA_FEED_BASE_URL", "ORDER_BROKER_BASE_URL",
		"DB_URL", "DB_USER", "DB_PASS", "DB_POOL_SIZE",
		"JWT_SECRET", "JWT_EXPIRATION_HOURS", "PORT", "RELAY_PORT", "WS_BATCH_FLUSH_MS",
		"PERSIST_TICK_EVENTS", "ASYNC_EVENT_WRITER_ENABLED",
		"RELEASE_READINESS", "CONFIG_DIR", "RUN_MODE",
	} {
		os.Unsetenv(k)
	}
}

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	clearEnv(t)
	os.Setenv("DATA_FEED_BROKER", "ZERODHA")
	os.Setenv("ORDER_BROKER", "ZERODHA")
	os.Setenv("JWT_SECRET", "test-secret")
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

type fakeStarter struct{ started bool }

func (f *fakeStarter) Start(ctx context.Context) error { f.started = true; return nil }

func TestGateStartsComponentsInOrderOnValidConfig(t *testing.T) {
	cfg := validConfig(t)
	g := NewGate(cfg)

	a, b := &fakeStarter{}, &fakeStarter{}
	require.NoError(t, g.Run(context.Background(), a, b))
	assert.True(t, a.started)
	assert.True(t, b.started)
}

func TestGateFailsOnInvalidConfig(t *testing.T) {
	clearEnv(t) // DATA_FEED_BROKER/JWT_SECRET left unset
	cfg := &config.Config{ReleaseReadiness: config.ReadinessBeta, RunMode: config.RunModeFull, DBURL: "x", DBPoolSize: 1}
	g := NewGate(cfg)

	err := g.Run(context.Background())
	assert.Error(t, err)
}

func TestGateFailsWhenProdReadyWithUnresolvedDebt(t *testing.T) {
	cfg := validConfig(t)
	cfg.ReleaseReadiness = config.ReadinessProdReady
	cfg.ProductionMode = true
	cfg.OrderExecutionEnabled = true
	cfg.OrderBrokerBaseURL = "https://live.broker.example"
	require.NoError(t, cfg.Validate())

	original := DebtRegistry
	DebtRegistry = append([]DebtFlag{}, original...)
	DebtRegistry[0].Done = false
	defer func() { DebtRegistry = original }()

	g := NewGate(cfg)
	err := g.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ORDER_EXECUTION_IMPLEMENTED")
}

type failingStarter struct{}

func (failingStarter) Start(ctx context.Context) error { return assert.AnError }

func TestGateStopsAtFirstFailingComponent(t *testing.T) {
	cfg := validConfig(t)
	g := NewGate(cfg)

	never := &fakeStarter{}
	err := g.Run(context.Background(), failingStarter{}, never)
	require.Error(t, err)
	assert.False(t, never.started)
}

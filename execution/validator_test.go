package execution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexherrero/tradecore/broker"
	"github.com/alexherrero/tradecore/models"
)

type fakeSizer struct {
	result *models.PositionSizeResult
	err    error
}

func (f *fakeSizer) Size(ctx context.Context, sig *models.Signal, portfolio *models.PortfolioContext) (*models.PositionSizeResult, error) {
	return f.result, f.err
}

func baseSignal() *models.Signal {
	return &models.Signal{
		Symbol:     "SBIN",
		Direction:  models.DirectionBuy,
		SignalType: models.SignalTypeEntry,
		Confluence: models.ConfluenceTriple,
		PWin:       models.NewRatio(0.62),
		Kelly:      models.NewRatio(0.08),
		Status:     models.SignalStatusActive,
		ExpiresAt:  time.Now().Add(time.Hour),
	}
}

func basePortfolio() *models.PortfolioContext {
	return &models.PortfolioContext{
		TotalCapital:     models.NewMoney(100000),
		AvailableCapital: models.NewMoney(100000),
	}
}

func connectedMock() *broker.MockAdapter {
	m := broker.NewMockAdapter()
	_, _ = m.Connect(context.Background(), nil)
	return m
}

func TestValidatePassesWithinLimits(t *testing.T) {
	sizer := &fakeSizer{result: &models.PositionSizeResult{
		Quantity: 10, NotionalValue: models.NewMoney(5000),
		RiskAmount: models.NewMoney(500), StopLoss: models.NewMoney(480), TargetPrice: models.NewMoney(520),
	}}
	v := NewValidator(sizer, DefaultLimits())
	ub := &models.UserBroker{Role: models.RoleExec, Status: models.UserBrokerConnected, Capital: models.NewMoney(100000)}
	port := connectedMock()

	r := v.Validate(context.Background(), baseSignal(), ub, port, basePortfolio())
	require.True(t, r.Passed, r.RejectReason())
	assert.Equal(t, int64(10), r.Quantity)
}

func TestValidateFailsOnDisconnectedBroker(t *testing.T) {
	sizer := &fakeSizer{result: &models.PositionSizeResult{Quantity: 10, NotionalValue: models.NewMoney(5000)}}
	v := NewValidator(sizer, DefaultLimits())
	ub := &models.UserBroker{Role: models.RoleExec, Status: models.UserBrokerConnected, Capital: models.NewMoney(100000)}

	r := v.Validate(context.Background(), baseSignal(), ub, nil, basePortfolio())
	assert.False(t, r.Passed)
	assert.NotEmpty(t, r.Errors)
}

func TestValidateFailsOnInsufficientConfluence(t *testing.T) {
	sizer := &fakeSizer{result: &models.PositionSizeResult{Quantity: 10, NotionalValue: models.NewMoney(5000)}}
	v := NewValidator(sizer, DefaultLimits())
	ub := &models.UserBroker{Role: models.RoleExec, Status: models.UserBrokerConnected, Capital: models.NewMoney(100000)}
	port := connectedMock()

	sig := baseSignal()
	sig.Confluence = models.ConfluenceSingle

	r := v.Validate(context.Background(), sig, ub, port, basePortfolio())
	assert.False(t, r.Passed)
}

func TestValidateFailsWhenExposureExceedsMax(t *testing.T) {
	sizer := &fakeSizer{result: &models.PositionSizeResult{
		Quantity: 10, NotionalValue: models.NewMoney(5000), RiskAmount: models.NewMoney(500),
	}}
	limits := DefaultLimits()
	limits.MaxExposure = models.NewMoney(1000)
	v := NewValidator(sizer, limits)
	ub := &models.UserBroker{Role: models.RoleExec, Status: models.UserBrokerConnected, Capital: models.NewMoney(100000)}
	port := connectedMock()

	r := v.Validate(context.Background(), baseSignal(), ub, port, basePortfolio())
	assert.False(t, r.Passed)
}

func TestValidateFailsWhenDailyLossLimitBreached(t *testing.T) {
	sizer := &fakeSizer{result: &models.PositionSizeResult{
		Quantity: 10, NotionalValue: models.NewMoney(5000), RiskAmount: models.NewMoney(500),
	}}
	v := NewValidator(sizer, DefaultLimits())
	ub := &models.UserBroker{Role: models.RoleExec, Status: models.UserBrokerConnected, Capital: models.NewMoney(100000)}
	port := connectedMock()

	portfolio := basePortfolio()
	portfolio.DailyPnL = models.NewMoney(-6000)

	r := v.Validate(context.Background(), baseSignal(), ub, port, portfolio)
	assert.False(t, r.Passed)
}

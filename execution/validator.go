// Package execution implements the policy pipeline and ExecutionOrchestrator
// (spec.md §4.6, C6): the boundary between a published Signal and a
// broker-bound TradeIntent.
package execution

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/alexherrero/tradecore/apperr"
	"github.com/alexherrero/tradecore/broker"
	"github.com/alexherrero/tradecore/models"
)

var structValidate = validator.New()

// Sizer is the out-of-scope constitutional position sizer (spec.md §1):
// the core consumes its PositionSizeResult but never recomputes Kelly
// sizing itself.
type Sizer interface {
	Size(ctx context.Context, sig *models.Signal, portfolio *models.PortfolioContext) (*models.PositionSizeResult, error)
}

// Limits is the configured set of thresholds the policy pipeline checks
// every candidate against (spec.md §4.6 step 3).
type Limits struct {
	RequireTripleConfluence bool
	MinPWin                 decimal.Decimal
	MinKelly                decimal.Decimal

	MinQuantity int64
	MinNotional models.Money
	MaxNotional models.Money

	MaxExposure   models.Money
	MaxOpenTrades int

	MaxPerTradeLogLoss  decimal.Decimal
	MaxPortfolioLogLoss decimal.Decimal

	DailyLossLimit  models.Money
	WeeklyLossLimit models.Money
}

// DefaultLimits returns conservative defaults, overridden per-deployment
// via configuration loaded by the composition root.
func DefaultLimits() Limits {
	return Limits{
		RequireTripleConfluence: true,
		MinPWin:                 models.NewRatio(0.55),
		MinKelly:                models.NewRatio(0.01),
		MinQuantity:             1,
		MinNotional:             models.NewMoney(500),
		MaxNotional:             models.NewMoney(100000),
		MaxExposure:             models.NewMoney(500000),
		MaxOpenTrades:           10,
		MaxPerTradeLogLoss:      decimal.NewFromFloat(0.02),
		MaxPortfolioLogLoss:     decimal.NewFromFloat(0.10),
		DailyLossLimit:          models.NewMoney(5000),
		WeeklyLossLimit:         models.NewMoney(15000),
	}
}

// Result is the aggregated outcome of one Validate call. Every failing
// check contributes its own typed error; a candidate can fail several
// checks at once and all of them are reported (spec.md §4.6 step 3).
type Result struct {
	Passed   bool
	Quantity int64
	Sizing   *models.PositionSizeResult
	Errors   []*apperr.Error
}

// RejectReason joins every failing check's message for persistence on the
// TradeIntent's reject_reason column.
func (r *Result) RejectReason() string {
	if r.Passed {
		return ""
	}
	msg := ""
	for i, e := range r.Errors {
		if i > 0 {
			msg += "; "
		}
		msg += fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return msg
}

// intentDraft is a first-pass struct-tag check ahead of the business-rule
// pipeline, catching a malformed candidate (bad ids, non-positive
// quantity) before it reaches portfolio-state logic.
type intentDraft struct {
	Symbol   string `validate:"required"`
	Quantity int64  `validate:"required,gt=0"`
}

// Validator is the policy pipeline ExecutionOrchestrator calls once per
// delivery (spec.md §4.6 step 3). It never mutates state; it only judges.
type Validator struct {
	sizer  Sizer
	limits Limits
}

// NewValidator builds a Validator over a Sizer collaborator and a set of
// configured limits.
func NewValidator(sizer Sizer, limits Limits) *Validator {
	return &Validator{sizer: sizer, limits: limits}
}

// Validate runs every check in spec.md §4.6 step 3 against one (signal,
// user-broker) candidate, collecting every failure rather than
// short-circuiting on the first.
func (v *Validator) Validate(ctx context.Context, sig *models.Signal, ub *models.UserBroker, port broker.Port, portfolio *models.PortfolioContext) *Result {
	r := &Result{Passed: true}
	fail := func(kind apperr.Kind, format string, args ...interface{}) {
		r.Passed = false
		r.Errors = append(r.Errors, apperr.New(kind, fmt.Sprintf(format, args...)))
	}

	// Connection checks.
	if port == nil || !port.IsConnected() {
		fail(apperr.Connection, "broker not connected for user_broker %s", ub.ID)
	} else if !port.CanPlaceOrders() {
		fail(apperr.StaleFeed, "broker feed stale, orders refused")
	}

	// Symbol-allowed and eligibility (re-checked here: the fan-out list may
	// have gone stale between SignalCoordinator's snapshot and this poll).
	if !ub.IsEligibleForSignal(sig.Symbol) {
		fail(apperr.ValidationFailed, "user_broker %s not eligible for symbol %s", ub.ID, sig.Symbol)
	}
	if portfolio.Paused {
		fail(apperr.ValidationFailed, "user_broker %s is paused", ub.ID)
	}
	if portfolio.Cooldown {
		fail(apperr.ValidationFailed, "user_broker %s is in cooldown", ub.ID)
	}

	// Signal-quality thresholds.
	if v.limits.RequireTripleConfluence && sig.Confluence != models.ConfluenceTriple {
		fail(apperr.ValidationFailed, "confluence %s below required TRIPLE", sig.Confluence)
	}
	if sig.PWin.LessThan(v.limits.MinPWin) {
		fail(apperr.ValidationFailed, "p_win %s below minimum %s", sig.PWin, v.limits.MinPWin)
	}
	if sig.Kelly.LessThan(v.limits.MinKelly) {
		fail(apperr.ValidationFailed, "kelly %s below minimum %s", sig.Kelly, v.limits.MinKelly)
	}

	draft := intentDraft{Symbol: sig.Symbol}

	sizing, err := v.sizer.Size(ctx, sig, portfolio)
	if err != nil {
		fail(apperr.ExecutionError, "position sizer: %v", err)
		return r
	}
	draft.Quantity = sizing.Quantity
	if err := structValidate.Struct(draft); err != nil {
		fail(apperr.ValidationFailed, "malformed sizing candidate: %v", err)
		return r
	}

	r.Sizing = sizing
	r.Quantity = sizing.Quantity

	if sizing.Quantity < v.limits.MinQuantity {
		fail(apperr.ValidationFailed, "quantity %d below minimum %d", sizing.Quantity, v.limits.MinQuantity)
	}
	if sizing.NotionalValue.LessThan(v.limits.MinNotional) {
		fail(apperr.ValidationFailed, "notional %s below minimum %s", sizing.NotionalValue, v.limits.MinNotional)
	}
	if sizing.NotionalValue.GreaterThan(v.limits.MaxNotional) {
		fail(apperr.ValidationFailed, "notional %s exceeds per-trade maximum %s", sizing.NotionalValue, v.limits.MaxNotional)
	}
	if sizing.NotionalValue.GreaterThan(portfolio.AvailableCapital) {
		fail(apperr.ValidationFailed, "notional %s exceeds available capital %s", sizing.NotionalValue, portfolio.AvailableCapital)
	}
	if portfolio.CurrentExposure.Add(sizing.NotionalValue).GreaterThan(v.limits.MaxExposure) {
		fail(apperr.ValidationFailed, "projected exposure exceeds maximum %s", v.limits.MaxExposure)
	}
	if portfolio.OpenTradeCount >= v.limits.MaxOpenTrades {
		fail(apperr.ValidationFailed, "open trade count %d at maximum %d", portfolio.OpenTradeCount, v.limits.MaxOpenTrades)
	}

	if !portfolio.TotalCapital.IsZero() {
		perTradeLogLoss := sizing.RiskAmount.Div(portfolio.TotalCapital)
		if perTradeLogLoss.GreaterThan(v.limits.MaxPerTradeLogLoss) {
			fail(apperr.ValidationFailed, "per-trade log-loss %s exceeds maximum %s", perTradeLogLoss, v.limits.MaxPerTradeLogLoss)
		}
		if portfolio.CurrentLogExposure.Add(perTradeLogLoss).GreaterThan(v.limits.MaxPortfolioLogLoss) {
			fail(apperr.ValidationFailed, "portfolio log-loss would exceed maximum %s", v.limits.MaxPortfolioLogLoss)
		}
	}

	if portfolio.DailyPnL.IsNegative() && portfolio.DailyPnL.Abs().GreaterThanOrEqual(v.limits.DailyLossLimit) {
		fail(apperr.ValidationFailed, "daily loss %s at or beyond limit %s", portfolio.DailyPnL, v.limits.DailyLossLimit)
	}
	if portfolio.WeeklyPnL.IsNegative() && portfolio.WeeklyPnL.Abs().GreaterThanOrEqual(v.limits.WeeklyLossLimit) {
		fail(apperr.ValidationFailed, "weekly loss %s at or beyond limit %s", portfolio.WeeklyPnL, v.limits.WeeklyLossLimit)
	}

	return r
}

package models

import "github.com/shopspring/decimal"

// PortfolioContext snapshots a user-broker's risk-relevant state at the
// moment ExecutionOrchestrator validates a candidate (spec.md §4.6 step 2).
// It is read-only input to Validator; nothing in execution/ writes it back.
type PortfolioContext struct {
	UserBrokerID string

	TotalCapital     Money
	AvailableCapital Money

	OpenTradeCount      int
	CurrentExposure     Money
	CurrentLogExposure  decimal.Decimal

	DailyPnL  Money
	WeeklyPnL Money

	Cooldown bool
	Paused   bool
}

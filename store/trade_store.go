package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alexherrero/tradecore/models"
)

// TradeStore persists Trade rows. TradeCoordinator is the only caller that
// ever writes through this store (spec.md §4.7/§4.11 — single writer).
type TradeStore struct{ db *DB }

// NewTradeStore builds a TradeStore.
func NewTradeStore(db *DB) *TradeStore { return &TradeStore{db: db} }

// Create inserts a new CREATED Trade once OrderExecutor decides to place an
// entry order, keyed uniquely by intent_id so a retried OrderExecutor call
// never produces a second Trade for the same intent (P3).
func (s *TradeStore) Create(ctx context.Context, trade *models.Trade) error {
	trade.ID = uuid.NewString()
	now := time.Now()
	trade.CreatedAt, trade.UpdatedAt = now, now
	trade.Version = 1

	query := `INSERT INTO trades (
		id, created_at, updated_at, version, intent_id, signal_id, user_id, user_broker_id,
		symbol, direction, entry_price, entry_quantity, entry_filled_at,
		initial_stop_loss, initial_target, last_price, last_marked_at, open_quantity,
		realized_pnl, unrealized_pnl, current_log_return, trailing_stop, trailing_active, trailing_highest_price,
		exit_price, exit_quantity, exit_reason, closed_at, realized_log_return, holding_days,
		entry_broker_order_id, exit_broker_order_id, last_broker_update_at, reject_reason, status
	) VALUES (
		:id, :created_at, :updated_at, :version, :intent_id, :signal_id, :user_id, :user_broker_id,
		:symbol, :direction, :entry_price, :entry_quantity, :entry_filled_at,
		:initial_stop_loss, :initial_target, :last_price, :last_marked_at, :open_quantity,
		:realized_pnl, :unrealized_pnl, :current_log_return, :trailing_stop, :trailing_active, :trailing_highest_price,
		:exit_price, :exit_quantity, :exit_reason, :closed_at, :realized_log_return, :holding_days,
		:entry_broker_order_id, :exit_broker_order_id, :last_broker_update_at, :reject_reason, :status
	)`
	if _, err := s.db.NamedExecContext(ctx, query, trade); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("store: trade already exists for intent %s: %w", trade.IntentID, err)
		}
		return fmt.Errorf("store: create trade: %w", err)
	}
	return nil
}

// GetByIntentID supports OrderExecutor's crash-recovery check: before
// creating a Trade, look for one already anchored to this intent.
func (s *TradeStore) GetByIntentID(ctx context.Context, intentID string) (*models.Trade, error) {
	var t models.Trade
	err := s.db.GetContext(ctx, &t, `SELECT * FROM trades WHERE intent_id = ?`, intentID)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get trade by intent_id: %w", err)
	}
	return &t, nil
}

// Get loads a Trade by id.
func (s *TradeStore) Get(ctx context.Context, id string) (*models.Trade, error) {
	var t models.Trade
	err := s.db.GetContext(ctx, &t, `SELECT * FROM trades WHERE id = ?`, id)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get trade: %w", err)
	}
	return &t, nil
}

// ListOpen returns every OPEN/EXITING trade, the working set for
// ExitSignalService's tick-driven evaluation, TradeCoordinator's startup
// index rebuild, and the exit reconciler.
func (s *TradeStore) ListOpen(ctx context.Context) ([]models.Trade, error) {
	var out []models.Trade
	query := `SELECT * FROM trades WHERE status IN (?, ?) AND deleted_at IS NULL`
	if err := s.db.SelectContext(ctx, &out, query, models.TradeStatusOpen, models.TradeStatusExiting); err != nil {
		return nil, fmt.Errorf("store: list open trades: %w", err)
	}
	return out, nil
}

// ListPending returns every PENDING trade, PendingOrderReconciler's
// working set (spec.md §4.8).
func (s *TradeStore) ListPending(ctx context.Context) ([]models.Trade, error) {
	var out []models.Trade
	query := `SELECT * FROM trades WHERE status = ? AND deleted_at IS NULL`
	if err := s.db.SelectContext(ctx, &out, query, models.TradeStatusPending); err != nil {
		return nil, fmt.Errorf("store: list pending trades: %w", err)
	}
	return out, nil
}

// PortfolioSnapshot computes the exposure/PnL figures Validator needs for
// one user-broker (spec.md §4.6 step 2). Capital/available-capital are not
// this store's concern — the caller fills those in from UserBroker/Funds.
// loc fixes the trading-day/trading-week boundary the daily/weekly loss
// limits reset on (spec.md §4.6: "daily loss, weekly loss" are evaluated
// against the trading calendar, not a UTC midnight that falls mid-session
// in most exchange timezones).
func (s *TradeStore) PortfolioSnapshot(ctx context.Context, userBrokerID string, now time.Time, loc *time.Location) (openCount int, exposure, logExposure, dailyPnL, weeklyPnL models.Money, err error) {
	var open []models.Trade
	openQuery := `SELECT * FROM trades WHERE user_broker_id = ? AND status IN (?, ?) AND deleted_at IS NULL`
	if err = s.db.SelectContext(ctx, &open, openQuery, userBrokerID, models.TradeStatusOpen, models.TradeStatusExiting); err != nil {
		return 0, models.Money{}, models.Money{}, models.Money{}, models.Money{}, fmt.Errorf("store: portfolio open trades: %w", err)
	}
	exposure = models.NewMoney(0)
	logExposure = models.NewMoney(0)
	for _, t := range open {
		exposure = exposure.Add(t.EntryPrice.Mul(models.NewMoney(float64(t.OpenQuantity))))
		logExposure = logExposure.Add(t.CurrentLogReturn)
	}

	local := now.In(loc)
	y, m, d := local.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, loc)
	weekStart := dayStart.AddDate(0, 0, -int(local.Weekday()))

	dailyPnL, err = s.realizedPnLSince(ctx, userBrokerID, dayStart)
	if err != nil {
		return 0, models.Money{}, models.Money{}, models.Money{}, models.Money{}, err
	}
	weeklyPnL, err = s.realizedPnLSince(ctx, userBrokerID, weekStart)
	if err != nil {
		return 0, models.Money{}, models.Money{}, models.Money{}, models.Money{}, err
	}
	return len(open), exposure, logExposure, dailyPnL, weeklyPnL, nil
}

func (s *TradeStore) realizedPnLSince(ctx context.Context, userBrokerID string, since time.Time) (models.Money, error) {
	var closed []models.Trade
	query := `SELECT * FROM trades WHERE user_broker_id = ? AND status = ? AND closed_at >= ? AND deleted_at IS NULL`
	if err := s.db.SelectContext(ctx, &closed, query, userBrokerID, models.TradeStatusClosed, since); err != nil {
		return models.Money{}, fmt.Errorf("store: realized pnl since: %w", err)
	}
	total := models.NewMoney(0)
	for _, t := range closed {
		total = total.Add(t.RealizedPnL)
	}
	return total, nil
}

// Update persists a full Trade snapshot with optimistic concurrency: the
// write only applies if the row is still at expectedVersion (TradeCoordinator
// serializes per trade_id through the actor partition, so contention here
// signals a coordinator bug, not a legitimate race).
func (s *TradeStore) Update(ctx context.Context, trade *models.Trade, expectedVersion int64) error {
	trade.UpdatedAt = time.Now()
	query := `UPDATE trades SET
		updated_at = :updated_at, version = version + 1,
		entry_price = :entry_price, entry_quantity = :entry_quantity, entry_filled_at = :entry_filled_at,
		last_price = :last_price, last_marked_at = :last_marked_at,
		open_quantity = :open_quantity, realized_pnl = :realized_pnl, unrealized_pnl = :unrealized_pnl,
		current_log_return = :current_log_return,
		trailing_stop = :trailing_stop, trailing_active = :trailing_active, trailing_highest_price = :trailing_highest_price,
		exit_price = :exit_price, exit_quantity = :exit_quantity, exit_reason = :exit_reason, closed_at = :closed_at,
		realized_log_return = :realized_log_return, holding_days = :holding_days,
		entry_broker_order_id = :entry_broker_order_id, exit_broker_order_id = :exit_broker_order_id,
		last_broker_update_at = :last_broker_update_at, reject_reason = :reject_reason, status = :status
		WHERE id = :id AND version = ` + fmt.Sprint(expectedVersion)
	res, err := s.db.NamedExecContext(ctx, query, trade)
	if err != nil {
		return fmt.Errorf("store: update trade: %w", err)
	}
	return checkRowsAffected(res)
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/alexherrero/tradecore/models"
)

// DeliveryStore persists SignalDelivery rows.
type DeliveryStore struct{ db *DB }

// NewDeliveryStore builds a DeliveryStore.
func NewDeliveryStore(db *DB) *DeliveryStore { return &DeliveryStore{db: db} }

// CreateBatch inserts one CREATED delivery per eligible user-broker, in a
// single transaction (spec.md §4.5 step 3).
func (s *DeliveryStore) CreateBatch(ctx context.Context, deliveries []models.SignalDelivery) error {
	if len(deliveries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin create deliveries: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	query := `INSERT INTO signal_deliveries (id, created_at, updated_at, version, signal_id, user_id, user_broker_id, status)
		VALUES (?, ?, ?, 1, ?, ?, ?, ?)`
	for i := range deliveries {
		deliveries[i].ID = uuid.NewString()
		deliveries[i].CreatedAt, deliveries[i].UpdatedAt = now, now
		deliveries[i].Status = models.DeliveryStatusCreated
		if _, err := tx.ExecContext(ctx, query,
			deliveries[i].ID, now, now, deliveries[i].SignalID, deliveries[i].UserID,
			deliveries[i].UserBrokerID, deliveries[i].Status); err != nil {
			return fmt.Errorf("store: insert delivery: %w", err)
		}
	}
	return tx.Commit()
}

// ListCreated returns deliveries ExecutionOrchestrator may still consume.
func (s *DeliveryStore) ListCreated(ctx context.Context, limit int) ([]models.SignalDelivery, error) {
	var out []models.SignalDelivery
	query := `SELECT * FROM signal_deliveries WHERE status = ? AND deleted_at IS NULL ORDER BY created_at ASC LIMIT ?`
	if err := s.db.SelectContext(ctx, &out, query, models.DeliveryStatusCreated, limit); err != nil {
		return nil, fmt.Errorf("store: list created deliveries: %w", err)
	}
	return out, nil
}

// ExpireOutstandingForSignal marks every still-CREATED delivery of a
// signal EXPIRED, used when the signal is superseded or itself expires.
func (s *DeliveryStore) ExpireOutstandingForSignal(ctx context.Context, signalID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE signal_deliveries SET status = ?, updated_at = ?, version = version + 1 WHERE signal_id = ? AND status = ?`,
		models.DeliveryStatusExpired, time.Now(), signalID, models.DeliveryStatusCreated)
	if err != nil {
		return 0, fmt.Errorf("store: expire outstanding deliveries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: rows affected: %w", err)
	}
	return n, nil
}

// ConsumeWithIntent performs the single-consumption invariant (P2): the
// delivery transitions CREATED→CONSUMED and the TradeIntent is inserted in
// one transaction, or neither happens. A delivery no longer in CREATED
// (consumed by a racing worker, or expired by supersession) yields
// ErrNotFound and the caller does not double-write an intent.
func (s *DeliveryStore) ConsumeWithIntent(ctx context.Context, deliveryID string, intent *models.TradeIntent) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin consume: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE signal_deliveries SET status = ?, updated_at = ?, version = version + 1 WHERE id = ? AND status = ?`,
		models.DeliveryStatusConsumed, time.Now(), deliveryID, models.DeliveryStatusCreated)
	if err != nil {
		return fmt.Errorf("store: consume delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	if err := insertIntent(ctx, tx, intent); err != nil {
		return err
	}
	return tx.Commit()
}

// RejectWithoutIntent marks a delivery REJECTED when its signal/user-broker
// is missing, the reject-without-intent branch of spec.md §4.6 step 1.
func (s *DeliveryStore) RejectWithoutIntent(ctx context.Context, deliveryID, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE signal_deliveries SET status = ?, reject_reason = ?, updated_at = ?, version = version + 1 WHERE id = ? AND status = ?`,
		models.DeliveryStatusRejected, reason, time.Now(), deliveryID, models.DeliveryStatusCreated)
	if err != nil {
		return fmt.Errorf("store: reject delivery: %w", err)
	}
	return checkRowsAffected(res)
}

func insertIntent(ctx context.Context, tx *sqlx.Tx, intent *models.TradeIntent) error {
	intent.ID = uuid.NewString()
	now := time.Now()
	intent.CreatedAt, intent.UpdatedAt = now, now
	intent.Version = 1

	query := `INSERT INTO trade_intents (
		id, created_at, updated_at, version, signal_id, signal_delivery_id, user_id, user_broker_id,
		intent_id, symbol, direction, order_type, product_type, validity, quantity, limit_price,
		stop_loss, target_price, notional_value, risk_amount, kelly, status
	) VALUES (
		:id, :created_at, :updated_at, :version, :signal_id, :signal_delivery_id, :user_id, :user_broker_id,
		:intent_id, :symbol, :direction, :order_type, :product_type, :validity, :quantity, :limit_price,
		:stop_loss, :target_price, :notional_value, :risk_amount, :kelly, :status
	)`
	if _, err := sqlx.NamedExecContext(ctx, tx, query, intent); err != nil {
		return fmt.Errorf("store: insert trade intent: %w", err)
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

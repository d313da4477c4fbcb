package store

import (
	"context"
	"fmt"
	"time"

	"github.com/alexherrero/tradecore/models"
)

// IntentStore persists TradeIntent rows.
type IntentStore struct{ db *DB }

// NewIntentStore builds an IntentStore.
func NewIntentStore(db *DB) *IntentStore { return &IntentStore{db: db} }

// ListApproved returns TradeIntents OrderExecutor should place.
func (s *IntentStore) ListApproved(ctx context.Context, limit int) ([]models.TradeIntent, error) {
	var out []models.TradeIntent
	query := `SELECT * FROM trade_intents WHERE status = ? AND deleted_at IS NULL ORDER BY created_at ASC LIMIT ?`
	if err := s.db.SelectContext(ctx, &out, query, models.IntentStatusPending, limit); err != nil {
		return nil, fmt.Errorf("store: list approved intents: %w", err)
	}
	return out, nil
}

// GetByIntentID looks up a TradeIntent by its idempotency key, used by
// OrderExecutor to detect a crash-and-retry before placing a duplicate
// order (P3).
func (s *IntentStore) GetByIntentID(ctx context.Context, intentID string) (*models.TradeIntent, error) {
	var intent models.TradeIntent
	err := s.db.GetContext(ctx, &intent, `SELECT * FROM trade_intents WHERE intent_id = ?`, intentID)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get intent by intent_id: %w", err)
	}
	return &intent, nil
}

// MarkPlaced records the broker order id once placement succeeds.
func (s *IntentStore) MarkPlaced(ctx context.Context, id, brokerOrderID string) error {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE trade_intents SET status = ?, broker_order_id = ?, placed_at = ?, updated_at = ?, version = version + 1 WHERE id = ?`,
		models.IntentStatusPlaced, brokerOrderID, now, now, id)
	if err != nil {
		return fmt.Errorf("store: mark intent placed: %w", err)
	}
	return checkRowsAffected(res)
}

// MarkRejected terminally rejects an intent (immediate broker rejection,
// spec.md §4.7).
func (s *IntentStore) MarkRejected(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE trade_intents SET status = ?, reject_reason = ?, updated_at = ?, version = version + 1 WHERE id = ?`,
		models.IntentStatusRejected, reason, time.Now(), id)
	if err != nil {
		return fmt.Errorf("store: mark intent rejected: %w", err)
	}
	return checkRowsAffected(res)
}

// MarkFailed records a non-terminal placement failure the reconciler
// should retry against broker truth.
func (s *IntentStore) MarkFailed(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE trade_intents SET status = ?, reject_reason = ?, updated_at = ?, version = version + 1 WHERE id = ?`,
		models.IntentStatusFailed, reason, time.Now(), id)
	if err != nil {
		return fmt.Errorf("store: mark intent failed: %w", err)
	}
	return checkRowsAffected(res)
}

// MarkFilled is the terminal success transition, set by the reconciler
// once the broker confirms a fill.
func (s *IntentStore) MarkFilled(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE trade_intents SET status = ?, updated_at = ?, version = version + 1 WHERE id = ?`,
		models.IntentStatusFilled, time.Now(), id)
	if err != nil {
		return fmt.Errorf("store: mark intent filled: %w", err)
	}
	return checkRowsAffected(res)
}

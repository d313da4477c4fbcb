package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alexherrero/tradecore/models"
)

// ErrDuplicateExitIntent is returned when a live ExitIntent already exists
// for (trade_id, exit_reason) — the DB-level half of the Open Question (c)
// dedupe resolution in SPEC_FULL.md §3.
var ErrDuplicateExitIntent = fmt.Errorf("store: duplicate exit intent")

// ExitIntentStore persists ExitIntent rows.
type ExitIntentStore struct{ db *DB }

// NewExitIntentStore builds an ExitIntentStore.
func NewExitIntentStore(db *DB) *ExitIntentStore { return &ExitIntentStore{db: db} }

// Create inserts a new PENDING exit intent.
func (s *ExitIntentStore) Create(ctx context.Context, intent *models.ExitIntent) error {
	intent.ID = uuid.NewString()
	now := time.Now()
	intent.CreatedAt, intent.UpdatedAt = now, now
	intent.Version = 1

	query := `INSERT INTO exit_intents (
		id, created_at, updated_at, version, trade_id, exit_reason, quantity, limit_price, status
	) VALUES (
		:id, :created_at, :updated_at, :version, :trade_id, :exit_reason, :quantity, :limit_price, :status
	)`
	if _, err := s.db.NamedExecContext(ctx, query, intent); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateExitIntent
		}
		return fmt.Errorf("store: create exit intent: %w", err)
	}
	return nil
}

// ListPending returns exit intents ExitQualification should evaluate.
func (s *ExitIntentStore) ListPending(ctx context.Context, limit int) ([]models.ExitIntent, error) {
	var out []models.ExitIntent
	query := `SELECT * FROM exit_intents WHERE status = ? AND deleted_at IS NULL ORDER BY created_at ASC LIMIT ?`
	if err := s.db.SelectContext(ctx, &out, query, models.ExitIntentStatusPending, limit); err != nil {
		return nil, fmt.Errorf("store: list pending exit intents: %w", err)
	}
	return out, nil
}

// ListApproved returns exit intents ExitOrderExecutor should place, the
// exit-side analogue of IntentStore.ListApproved.
func (s *ExitIntentStore) ListApproved(ctx context.Context, limit int) ([]models.ExitIntent, error) {
	var out []models.ExitIntent
	query := `SELECT * FROM exit_intents WHERE status = ? AND deleted_at IS NULL ORDER BY created_at ASC LIMIT ?`
	if err := s.db.SelectContext(ctx, &out, query, models.ExitIntentStatusApproved, limit); err != nil {
		return nil, fmt.Errorf("store: list approved exit intents: %w", err)
	}
	return out, nil
}

// MarkApproved performs the PENDING→APPROVED transition once
// ExitQualification passes the intent.
func (s *ExitIntentStore) MarkApproved(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE exit_intents SET status = ?, updated_at = ?, version = version + 1 WHERE id = ? AND status = ?`,
		models.ExitIntentStatusApproved, time.Now(), id, models.ExitIntentStatusPending)
	if err != nil {
		return fmt.Errorf("store: mark exit intent approved: %w", err)
	}
	return checkRowsAffected(res)
}

// MarkRejected performs the PENDING→REJECTED transition when
// ExitQualification fails the intent; the underlying trade is untouched.
func (s *ExitIntentStore) MarkRejected(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE exit_intents SET status = ?, reject_reason = ?, updated_at = ?, version = version + 1 WHERE id = ? AND status = ?`,
		models.ExitIntentStatusRejected, reason, time.Now(), id, models.ExitIntentStatusPending)
	if err != nil {
		return fmt.Errorf("store: mark exit intent rejected: %w", err)
	}
	return checkRowsAffected(res)
}

// ListPlaced returns exit intents awaiting broker fill confirmation, the
// exit reconciler's working set.
func (s *ExitIntentStore) ListPlaced(ctx context.Context) ([]models.ExitIntent, error) {
	var out []models.ExitIntent
	query := `SELECT * FROM exit_intents WHERE status = ? AND deleted_at IS NULL`
	if err := s.db.SelectContext(ctx, &out, query, models.ExitIntentStatusPlaced); err != nil {
		return nil, fmt.Errorf("store: list placed exit intents: %w", err)
	}
	return out, nil
}

// MarkPlaced performs the atomic APPROVED→PLACED transition (spec.md
// §4.9): predicated on the row still being APPROVED, so two racing
// ExitOrderExecutor workers can never both place a broker order for the
// same exit intent. A caller that loses the race gets ErrNotFound.
func (s *ExitIntentStore) MarkPlaced(ctx context.Context, id, brokerOrderID string) error {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE exit_intents SET status = ?, broker_order_id = ?, placed_at = ?, updated_at = ?, version = version + 1 WHERE id = ? AND status = ?`,
		models.ExitIntentStatusPlaced, brokerOrderID, now, now, id, models.ExitIntentStatusApproved)
	if err != nil {
		return fmt.Errorf("store: mark exit intent placed: %w", err)
	}
	return checkRowsAffected(res)
}

// MarkFilled records a confirmed fill.
func (s *ExitIntentStore) MarkFilled(ctx context.Context, id string, fillPrice models.Money) error {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE exit_intents SET status = ?, filled_at = ?, fill_price = ?, updated_at = ?, version = version + 1 WHERE id = ?`,
		models.ExitIntentStatusFilled, now, fillPrice, now, id)
	if err != nil {
		return fmt.Errorf("store: mark exit intent filled: %w", err)
	}
	return checkRowsAffected(res)
}

// MarkFailed records a terminal placement/reconciliation failure.
func (s *ExitIntentStore) MarkFailed(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE exit_intents SET status = ?, reject_reason = ?, updated_at = ?, version = version + 1 WHERE id = ?`,
		models.ExitIntentStatusFailed, reason, time.Now(), id)
	if err != nil {
		return fmt.Errorf("store: mark exit intent failed: %w", err)
	}
	return checkRowsAffected(res)
}

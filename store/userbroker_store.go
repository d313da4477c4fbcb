package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alexherrero/tradecore/models"
)

// UserBrokerStore persists UserBroker rows.
type UserBrokerStore struct{ db *DB }

// NewUserBrokerStore builds a UserBrokerStore.
func NewUserBrokerStore(db *DB) *UserBrokerStore { return &UserBrokerStore{db: db} }

// Create inserts a new user-broker link.
func (s *UserBrokerStore) Create(ctx context.Context, ub *models.UserBroker) error {
	ub.ID = uuid.NewString()
	now := time.Now()
	ub.CreatedAt, ub.UpdatedAt = now, now
	ub.Version = 1

	query := `INSERT INTO user_brokers (
		id, created_at, updated_at, version, user_id, broker_code, role, status, paused, allowed_symbols, capital, cooldown_until
	) VALUES (
		:id, :created_at, :updated_at, :version, :user_id, :broker_code, :role, :status, :paused, :allowed_symbols, :capital, :cooldown_until
	)`
	if _, err := s.db.NamedExecContext(ctx, query, ub); err != nil {
		return fmt.Errorf("store: create user broker: %w", err)
	}
	return nil
}

// Get returns one user-broker by id.
func (s *UserBrokerStore) Get(ctx context.Context, id string) (*models.UserBroker, error) {
	var ub models.UserBroker
	err := s.db.GetContext(ctx, &ub, `SELECT * FROM user_brokers WHERE id = ?`, id)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get user broker: %w", err)
	}
	return &ub, nil
}

// ListExecutableForBroker returns every EXEC-role, connected, unpaused
// user-broker for the given broker code — SignalCoordinator's fan-out
// candidate set, filtered further by each row's allowed-symbols list.
func (s *UserBrokerStore) ListExecutableForBroker(ctx context.Context, brokerCode string) ([]models.UserBroker, error) {
	var out []models.UserBroker
	query := `SELECT * FROM user_brokers
		WHERE broker_code = ? AND role = ? AND status = ? AND paused = 0 AND deleted_at IS NULL`
	if err := s.db.SelectContext(ctx, &out, query, brokerCode, models.RoleExec, models.UserBrokerConnected); err != nil {
		return nil, fmt.Errorf("store: list executable user brokers: %w", err)
	}
	return out, nil
}

// SetStatus updates a user-broker's connection status (driven by SessionManager).
func (s *UserBrokerStore) SetStatus(ctx context.Context, id string, status models.UserBrokerStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_brokers SET status = ?, updated_at = ?, version = version + 1 WHERE id = ?`,
		status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("store: set user broker status: %w", err)
	}
	return checkRowsAffected(res)
}

// SetCooldown blocks new TradeIntents for this user-broker until until
// (spec.md §4.6 step 2's cooldown flag) — the loss-streak circuit breaker
// sets this; pass the zero time to lift a cooldown early.
func (s *UserBrokerStore) SetCooldown(ctx context.Context, id string, until time.Time) error {
	var arg interface{}
	if !until.IsZero() {
		arg = until
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_brokers SET cooldown_until = ?, updated_at = ?, version = version + 1 WHERE id = ?`,
		arg, time.Now(), id)
	if err != nil {
		return fmt.Errorf("store: set user broker cooldown: %w", err)
	}
	return checkRowsAffected(res)
}

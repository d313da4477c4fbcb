package store

import (
	"context"
	"fmt"
	"time"

	"github.com/alexherrero/tradecore/models"
)

// OAuthStore persists OAuthState rows, giving SessionManager's login
// handshake restart survival (spec.md §4.2).
type OAuthStore struct{ db *DB }

// NewOAuthStore builds an OAuthStore.
func NewOAuthStore(db *DB) *OAuthStore { return &OAuthStore{db: db} }

// SaveOAuthState inserts a freshly issued state token.
func (s *OAuthStore) SaveOAuthState(ctx context.Context, state *models.OAuthState) error {
	now := time.Now()
	state.CreatedAt, state.UpdatedAt = now, now
	state.Version = 1
	query := `INSERT INTO oauth_states (
		id, created_at, updated_at, version, user_id, user_broker_id, broker_code, state, status, expires_at, redirect_uri
	) VALUES (
		:id, :created_at, :updated_at, :version, :user_id, :user_broker_id, :broker_code, :state, :status, :expires_at, :redirect_uri
	)`
	if _, err := s.db.NamedExecContext(ctx, query, state); err != nil {
		return fmt.Errorf("store: save oauth state: %w", err)
	}
	return nil
}

// ConsumeOAuthState atomically transitions a PENDING, unexpired state to
// CONSUMED — states are usable at most once (spec.md §3).
func (s *OAuthStore) ConsumeOAuthState(ctx context.Context, token string, now time.Time) (*models.OAuthState, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin consume oauth state: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE oauth_states SET status = ?, updated_at = ?, version = version + 1
		 WHERE state = ? AND status = ? AND expires_at > ?`,
		models.OAuthStateConsumed, now, token, models.OAuthStatePending, now)
	if err != nil {
		return nil, fmt.Errorf("store: consume oauth state: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("store: rows affected: %w", err)
	} else if n == 0 {
		return nil, ErrNotFound
	}

	var out models.OAuthState
	if err := tx.GetContext(ctx, &out, `SELECT * FROM oauth_states WHERE state = ?`, token); err != nil {
		return nil, fmt.Errorf("store: load consumed oauth state: %w", err)
	}
	return &out, tx.Commit()
}

// DeleteExpiredOAuthStates sweeps states past expiry, called every 10
// minutes by the Scheduler.
func (s *OAuthStore) DeleteExpiredOAuthStates(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("store: delete expired oauth states: %w", err)
	}
	return res.RowsAffected()
}

// SaveToken upserts the cached broker token for a user_broker_id.
func (s *OAuthStore) SaveToken(ctx context.Context, userBrokerID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO broker_tokens (user_broker_id, token, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_broker_id) DO UPDATE SET token = excluded.token, expires_at = excluded.expires_at`,
		userBrokerID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("store: save token: %w", err)
	}
	return nil
}

// LoadToken returns the cached token for a user_broker_id.
func (s *OAuthStore) LoadToken(ctx context.Context, userBrokerID string) (string, time.Time, error) {
	var row struct {
		Token     string    `db:"token"`
		ExpiresAt time.Time `db:"expires_at"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT token, expires_at FROM broker_tokens WHERE user_broker_id = ?`, userBrokerID)
	if isNoRows(err) {
		return "", time.Time{}, ErrNotFound
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("store: load token: %w", err)
	}
	return row.Token, row.ExpiresAt, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alexherrero/tradecore/models"
)

// ErrNotFound is returned when a lookup by id finds no live row.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicateSignal is returned when a live Signal already exists for a
// dedupe key (spec.md §4.5, P4).
var ErrDuplicateSignal = errors.New("store: duplicate signal")

// SignalStore persists Signal entities.
type SignalStore struct{ db *DB }

// NewSignalStore builds a SignalStore.
func NewSignalStore(db *DB) *SignalStore { return &SignalStore{db: db} }

// Create inserts a new ACTIVE signal, returning ErrDuplicateSignal if a
// live signal already occupies its dedupe key.
func (s *SignalStore) Create(ctx context.Context, sig *models.Signal) error {
	sig.ID = uuid.NewString()
	now := time.Now()
	sig.CreatedAt, sig.UpdatedAt = now, now
	sig.Version = 1

	query := `
		INSERT INTO signals (
			id, created_at, updated_at, version, symbol, direction, signal_type,
			htf_low, htf_high, itf_low, itf_high, ltf_low, ltf_high, zone_index,
			confluence_type, confluence_score, p_win, p_fill, kelly,
			ref_price, bid_price, ask_price, entry_low, entry_high,
			effective_floor, effective_ceiling, reason, signal_day, expires_at, status
		) VALUES (
			:id, :created_at, :updated_at, :version, :symbol, :direction, :signal_type,
			:htf_low, :htf_high, :itf_low, :itf_high, :ltf_low, :ltf_high, :zone_index,
			:confluence_type, :confluence_score, :p_win, :p_fill, :kelly,
			:ref_price, :bid_price, :ask_price, :entry_low, :entry_high,
			:effective_floor, :effective_ceiling, :reason, :signal_day, :expires_at, :status
		)`
	_, err := s.db.NamedExecContext(ctx, query, sig)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSignal
		}
		return fmt.Errorf("store: create signal: %w", err)
	}
	return nil
}

// Get loads a Signal by id, used by ExecutionOrchestrator to resolve a
// delivery's parent signal.
func (s *SignalStore) Get(ctx context.Context, id string) (*models.Signal, error) {
	var sig models.Signal
	err := s.db.GetContext(ctx, &sig, `SELECT * FROM signals WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get signal: %w", err)
	}
	return &sig, nil
}

// FindLiveByDedupeKey looks up an ACTIVE signal for (symbol, day, type, direction).
func (s *SignalStore) FindLiveByDedupeKey(ctx context.Context, symbol string, day time.Time, signalType models.SignalType, direction models.Direction) (*models.Signal, error) {
	var sig models.Signal
	query := `SELECT * FROM signals WHERE symbol = ? AND signal_day = ? AND signal_type = ? AND direction = ? AND status = ? AND deleted_at IS NULL`
	err := s.db.GetContext(ctx, &sig, query, symbol, day, signalType, direction, models.SignalStatusActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find signal by dedupe key: %w", err)
	}
	return &sig, nil
}

// ListCreatedFor returns every CREATED-status delivery id isn't needed
// here; this method lists ACTIVE signals whose expiry has passed, for the
// Scheduler's expiry sweep.
func (s *SignalStore) ListExpired(ctx context.Context, now time.Time) ([]models.Signal, error) {
	var out []models.Signal
	query := `SELECT * FROM signals WHERE status = ? AND expires_at <= ? AND deleted_at IS NULL`
	if err := s.db.SelectContext(ctx, &out, query, models.SignalStatusActive, now); err != nil {
		return nil, fmt.Errorf("store: list expired signals: %w", err)
	}
	return out, nil
}

// UpdateStatus transitions a signal's status with optimistic concurrency
// on version, incrementing it.
func (s *SignalStore) UpdateStatus(ctx context.Context, id string, status models.SignalStatus, expectedVersion int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE signals SET status = ?, updated_at = ?, version = version + 1 WHERE id = ? AND version = ?`,
		status, time.Now(), id, expectedVersion)
	if err != nil {
		return fmt.Errorf("store: update signal status: %w", err)
	}
	return checkRowsAffected(res)
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}

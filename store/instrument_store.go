package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alexherrero/tradecore/models"
)

// InstrumentStore persists per-broker Instrument metadata.
type InstrumentStore struct{ db *DB }

// NewInstrumentStore builds an InstrumentStore.
func NewInstrumentStore(db *DB) *InstrumentStore { return &InstrumentStore{db: db} }

// Upsert inserts or refreshes one instrument's metadata, keyed on
// (broker_code, exchange, symbol).
func (s *InstrumentStore) Upsert(ctx context.Context, inst *models.Instrument) error {
	if inst.ID == "" {
		inst.ID = uuid.NewString()
		inst.CreatedAt = time.Now()
	}
	inst.UpdatedAt = time.Now()

	query := `INSERT INTO instruments (
		id, created_at, updated_at, version, symbol, broker_code, broker_token, exchange, tick_size, lot_size, tradable
	) VALUES (
		:id, :created_at, :updated_at, 1, :symbol, :broker_code, :broker_token, :exchange, :tick_size, :lot_size, :tradable
	)
	ON CONFLICT(broker_code, exchange, symbol) DO UPDATE SET
		updated_at = excluded.updated_at, broker_token = excluded.broker_token,
		tick_size = excluded.tick_size, lot_size = excluded.lot_size, tradable = excluded.tradable,
		version = instruments.version + 1`
	if _, err := s.db.NamedExecContext(ctx, query, inst); err != nil {
		return fmt.Errorf("store: upsert instrument: %w", err)
	}
	return nil
}

// ListTradable returns every tradable instrument for a broker, the set
// TickIntake subscribes to on startup.
func (s *InstrumentStore) ListTradable(ctx context.Context, brokerCode string) ([]models.Instrument, error) {
	var out []models.Instrument
	query := `SELECT * FROM instruments WHERE broker_code = ? AND tradable = 1 AND deleted_at IS NULL`
	if err := s.db.SelectContext(ctx, &out, query, brokerCode); err != nil {
		return nil, fmt.Errorf("store: list tradable instruments: %w", err)
	}
	return out, nil
}

// GetBySymbol looks up one instrument by (broker_code, exchange, symbol).
func (s *InstrumentStore) GetBySymbol(ctx context.Context, brokerCode, exchange, symbol string) (*models.Instrument, error) {
	var inst models.Instrument
	query := `SELECT * FROM instruments WHERE broker_code = ? AND exchange = ? AND symbol = ?`
	err := s.db.GetContext(ctx, &inst, query, brokerCode, exchange, symbol)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get instrument: %w", err)
	}
	return &inst, nil
}

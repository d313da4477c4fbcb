package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alexherrero/tradecore/models"
)

// CandleStore persists finalized Candle rows.
type CandleStore struct{ db *DB }

// NewCandleStore builds a CandleStore.
func NewCandleStore(db *DB) *CandleStore { return &CandleStore{db: db} }

// Upsert inserts or replaces a candle for its (symbol, timeframe, open_time)
// key, matching the teacher's INSERT OR REPLACE idempotent-write pattern.
func (s *CandleStore) Upsert(ctx context.Context, c *models.Candle) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
		c.CreatedAt = time.Now()
	}
	c.UpdatedAt = time.Now()

	query := `INSERT INTO candles (
		id, created_at, updated_at, version, symbol, timeframe, open_time, close_time,
		open, high, low, close, volume, tick_count, finalized
	) VALUES (
		:id, :created_at, :updated_at, 1, :symbol, :timeframe, :open_time, :close_time,
		:open, :high, :low, :close, :volume, :tick_count, :finalized
	)
	ON CONFLICT(symbol, timeframe, open_time) DO UPDATE SET
		updated_at = excluded.updated_at, close_time = excluded.close_time,
		open = excluded.open, high = excluded.high, low = excluded.low, close = excluded.close,
		volume = excluded.volume, tick_count = excluded.tick_count, finalized = excluded.finalized,
		version = candles.version + 1`
	if _, err := s.db.NamedExecContext(ctx, query, c); err != nil {
		return fmt.Errorf("store: upsert candle: %w", err)
	}
	return nil
}

// Latest returns the most recent finalized candle for (symbol, timeframe),
// used by HistoryBackfiller to detect a gap since the last run.
func (s *CandleStore) Latest(ctx context.Context, symbol string, tf models.Timeframe) (*models.Candle, error) {
	var c models.Candle
	query := `SELECT * FROM candles WHERE symbol = ? AND timeframe = ? AND finalized = 1 ORDER BY open_time DESC LIMIT 1`
	err := s.db.GetContext(ctx, &c, query, symbol, tf)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest candle: %w", err)
	}
	return &c, nil
}

// Range returns finalized candles within [from, to) for MTF analysis input.
func (s *CandleStore) Range(ctx context.Context, symbol string, tf models.Timeframe, from, to time.Time) ([]models.Candle, error) {
	var out []models.Candle
	query := `SELECT * FROM candles WHERE symbol = ? AND timeframe = ? AND open_time >= ? AND open_time < ? AND finalized = 1 ORDER BY open_time ASC`
	if err := s.db.SelectContext(ctx, &out, query, symbol, tf, from, to); err != nil {
		return nil, fmt.Errorf("store: candle range: %w", err)
	}
	return out, nil
}

// CountSince returns how many finalized candles exist for (symbol,
// timeframe) since `since`, used by MtfBackfillService's lookback check.
func (s *CandleStore) CountSince(ctx context.Context, symbol string, tf models.Timeframe, since time.Time) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM candles WHERE symbol = ? AND timeframe = ? AND open_time >= ? AND finalized = 1`
	if err := s.db.GetContext(ctx, &n, query, symbol, tf, since); err != nil {
		return 0, fmt.Errorf("store: count candles since: %w", err)
	}
	return n, nil
}

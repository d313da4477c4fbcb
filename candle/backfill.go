package candle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alexherrero/tradecore/broker"
	"github.com/alexherrero/tradecore/models"
	"github.com/alexherrero/tradecore/store"
)

// HistoryBackfiller fetches and fills any gap between the latest stored
// candle and now, for one (symbol, timeframe), via BrokerPort's historical
// candle endpoint.
type HistoryBackfiller struct {
	broker broker.Port
	store  *store.CandleStore
}

// NewHistoryBackfiller builds a HistoryBackfiller.
func NewHistoryBackfiller(port broker.Port, s *store.CandleStore) *HistoryBackfiller {
	return &HistoryBackfiller{broker: port, store: s}
}

// FillGap checks for a gap since the latest finalized candle and, if one
// exists, fetches and persists the missing window.
func (h *HistoryBackfiller) FillGap(ctx context.Context, symbol string, tf models.Timeframe, now time.Time) error {
	latest, err := h.store.Latest(ctx, symbol, tf)
	from := now.Add(-tf.Duration() * 100)
	if err == nil {
		from = latest.CloseTime
	} else if err != store.ErrNotFound {
		return fmt.Errorf("candle: backfill latest lookup: %w", err)
	}

	if !from.Before(now) {
		return nil
	}

	candles, err := h.broker.GetHistoricalCandles(ctx, symbol, tf, from, now)
	if err != nil {
		return fmt.Errorf("candle: fetch historical candles: %w", err)
	}

	for _, c := range candles {
		c.Symbol = symbol
		c.Timeframe = tf
		c.Finalized = true
		if err := h.store.Upsert(ctx, &c); err != nil {
			return fmt.Errorf("candle: persist backfilled candle: %w", err)
		}
	}

	log.Info().Str("symbol", symbol).Str("timeframe", string(tf)).Int("count", len(candles)).
		Msg("backfilled historical candles")
	return nil
}

// MtfBackfillService ensures each watched symbol has at least a minimum
// lookback count of finalized candles per timeframe on startup, so MTF
// analytics never starts cold.
type MtfBackfillService struct {
	backfiller *HistoryBackfiller
	store      *store.CandleStore
	minCount   int
}

// NewMtfBackfillService builds an MtfBackfillService requiring minCount
// finalized candles per (symbol, timeframe) as the startup floor.
func NewMtfBackfillService(b *HistoryBackfiller, s *store.CandleStore, minCount int) *MtfBackfillService {
	return &MtfBackfillService{backfiller: b, store: s, minCount: minCount}
}

// EnsureLookback checks symbol/timeframe coverage and triggers a backfill
// if the stored count since `since` falls short of minCount.
func (m *MtfBackfillService) EnsureLookback(ctx context.Context, symbol string, tf models.Timeframe, since, now time.Time) error {
	n, err := m.store.CountSince(ctx, symbol, tf, since)
	if err != nil {
		return fmt.Errorf("candle: count since lookup: %w", err)
	}
	if n >= m.minCount {
		return nil
	}
	return m.backfiller.FillGap(ctx, symbol, tf, now)
}

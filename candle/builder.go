// Package candle implements CandleBuilder (spec.md §4.4): one in-progress
// bar per (symbol, timeframe) held in memory, finalized on a boundary
// crossing or by a periodic sweep, persisted, and announced on the event
// bus.
package candle

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alexherrero/tradecore/broker"
	"github.com/alexherrero/tradecore/events"
	"github.com/alexherrero/tradecore/models"
	"github.com/alexherrero/tradecore/store"
)

// FinalizeSweepInterval is how often the periodic finalizer checks for
// in-progress candles whose end-time has passed with no tick arriving.
const FinalizeSweepInterval = 2 * time.Second

type key struct {
	Symbol    string
	Timeframe models.Timeframe
}

// Builder holds one in-progress candle per (symbol, timeframe) and
// finalizes them into durable storage.
type Builder struct {
	mu       sync.Mutex
	inflight map[key]*models.Candle

	store *store.CandleStore
	bus   events.Bus
}

// NewBuilder builds a Builder. bus may be nil (events are then dropped,
// useful for tests and for the FEED_COLLECTOR run mode).
func NewBuilder(s *store.CandleStore, bus events.Bus) *Builder {
	return &Builder{
		inflight: make(map[key]*models.Candle),
		store:    s,
		bus:      bus,
	}
}

// OnTick folds a tick into every timeframe's in-progress candle for its
// symbol, finalizing any candle the tick's timestamp has crossed out of.
func (b *Builder) OnTick(ctx context.Context, t broker.Tick) {
	for _, tf := range models.Timeframes {
		b.applyTick(ctx, t, tf)
	}
}

func (b *Builder) applyTick(ctx context.Context, t broker.Tick, tf models.Timeframe) {
	k := key{Symbol: t.Symbol, Timeframe: tf}
	openTime := bucketStart(t.Timestamp, tf)

	b.mu.Lock()
	c, ok := b.inflight[k]
	if ok && !c.OpenTime.Equal(openTime) {
		// Tick crossed the boundary; finalize the old bar before starting a new one.
		toFinalize := c
		delete(b.inflight, k)
		b.mu.Unlock()
		b.finalize(ctx, toFinalize)
		b.mu.Lock()
	}

	c, ok = b.inflight[k]
	if !ok {
		c = &models.Candle{
			Symbol:    t.Symbol,
			Timeframe: tf,
			OpenTime:  openTime,
			CloseTime: openTime.Add(tf.Duration()),
		}
		b.inflight[k] = c
	}
	c.ApplyTick(t.LastPrice, t.Volume)
	b.mu.Unlock()
}

// SweepExpired finalizes any in-progress candle whose close time has
// passed with no new tick arriving — called every FinalizeSweepInterval.
func (b *Builder) SweepExpired(ctx context.Context, now time.Time) {
	var due []*models.Candle

	b.mu.Lock()
	for k, c := range b.inflight {
		if c.TickCount > 0 && now.After(c.CloseTime) {
			due = append(due, c)
			delete(b.inflight, k)
		}
	}
	b.mu.Unlock()

	for _, c := range due {
		b.finalize(ctx, c)
	}
}

func (b *Builder) finalize(ctx context.Context, c *models.Candle) {
	c.Finalized = true
	if err := b.store.Upsert(ctx, c); err != nil {
		log.Error().Err(err).Str("symbol", c.Symbol).Str("timeframe", string(c.Timeframe)).
			Msg("failed to persist finalized candle")
		return
	}
	if b.bus != nil {
		b.bus.Publish(events.CandleFinalized, events.CandleFinalizedPayload{
			Symbol:    c.Symbol,
			Timeframe: string(c.Timeframe),
			OpenTime:  c.OpenTime.Unix(),
		})
	}
}

// bucketStart truncates t down to the start of its timeframe bucket in UTC.
func bucketStart(t time.Time, tf models.Timeframe) time.Time {
	if tf == models.TimeframeDaily {
		y, m, d := t.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	return t.UTC().Truncate(tf.Duration())
}

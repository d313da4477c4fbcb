// Package tick implements TickIntake (spec.md §4.3): tick dedup, an
// in-memory LTP cache, and non-blocking fan-out to downstream listeners.
package tick

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alexherrero/tradecore/broker"
	"github.com/alexherrero/tradecore/models"
)

const (
	// ShortWindow is the sliding window a tick's (symbol, broker_timestamp)
	// must be absent from to be accepted.
	ShortWindow = 2 * time.Second
	// LongWindow additionally guards against a semantically identical tick
	// reappearing (e.g. a replayed broker message) further back in time.
	LongWindow = 60 * time.Second

	// ListenerQueueDepth bounds each listener's fan-out channel; ingest
	// never blocks on a slow listener (P6).
	ListenerQueueDepth = 256
)

type tickKey struct {
	Symbol    string
	Timestamp int64
}

// Listener receives accepted ticks over a bounded channel.
type Listener struct {
	Name    string
	C       chan broker.Tick
	dropped uint64
	mu      sync.Mutex
}

// Dropped returns how many ticks were discarded because this listener's
// queue was full — ingest drops oldest-on-overflow and counts it rather
// than blocking.
func (l *Listener) Dropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

func (l *Listener) incDropped() {
	l.mu.Lock()
	l.dropped++
	l.mu.Unlock()
}

// Intake is the two-window deduplicator plus LTP cache described in
// spec.md §4.3.
type Intake struct {
	mu        sync.Mutex
	seenShort map[tickKey]time.Time
	seenLong  map[tickKey]time.Time

	ltpMu sync.RWMutex
	ltp   map[string]models.Money

	listenersMu sync.RWMutex
	listeners   []*Listener

	now func() time.Time
}

// NewIntake builds an Intake. `now` defaults to time.Now and is
// overridable in tests to exercise window-expiry deterministically.
func NewIntake(now func() time.Time) *Intake {
	if now == nil {
		now = time.Now
	}
	return &Intake{
		seenShort: make(map[tickKey]time.Time),
		seenLong:  make(map[tickKey]time.Time),
		ltp:       make(map[string]models.Money),
		now:       now,
	}
}

// Subscribe registers a new listener and returns it; the caller reads from
// listener.C until the Intake is stopped.
func (in *Intake) Subscribe(name string) *Listener {
	l := &Listener{Name: name, C: make(chan broker.Tick, ListenerQueueDepth)}
	in.listenersMu.Lock()
	in.listeners = append(in.listeners, l)
	in.listenersMu.Unlock()
	return l
}

// OnTick is the ingest path. It deduplicates, updates the LTP cache, and
// fans the tick out to every listener without blocking (P6).
func (in *Intake) OnTick(t broker.Tick) {
	if !in.accept(t) {
		return
	}

	in.ltpMu.Lock()
	in.ltp[t.Symbol] = t.LastPrice
	in.ltpMu.Unlock()

	in.listenersMu.RLock()
	defer in.listenersMu.RUnlock()
	for _, l := range in.listeners {
		select {
		case l.C <- t:
		default:
			// Drop oldest: make room for the newest tick rather than block.
			select {
			case <-l.C:
			default:
			}
			select {
			case l.C <- t:
			default:
			}
			l.incDropped()
			log.Warn().Str("listener", l.Name).Str("symbol", t.Symbol).Msg("tick listener queue full, dropped oldest")
		}
	}
}

// accept applies the two-window dedup rule and records the tick's key if
// accepted. Replaying the same tick twice within the short window yields
// the same accept/reject outcome (P6).
func (in *Intake) accept(t broker.Tick) bool {
	key := tickKey{Symbol: t.Symbol, Timestamp: t.Timestamp.UnixNano()}
	now := in.now()

	in.mu.Lock()
	defer in.mu.Unlock()

	in.evictLocked(now)

	if _, ok := in.seenShort[key]; ok {
		return false
	}
	if _, ok := in.seenLong[key]; ok {
		return false
	}

	in.seenShort[key] = now
	in.seenLong[key] = now
	return true
}

func (in *Intake) evictLocked(now time.Time) {
	for k, t := range in.seenShort {
		if now.Sub(t) > ShortWindow {
			delete(in.seenShort, k)
		}
	}
	for k, t := range in.seenLong {
		if now.Sub(t) > LongWindow {
			delete(in.seenLong, k)
		}
	}
}

// LTP returns the last observed price for symbol and whether any tick has
// been seen yet.
func (in *Intake) LTP(symbol string) (models.Money, bool) {
	in.ltpMu.RLock()
	defer in.ltpMu.RUnlock()
	v, ok := in.ltp[symbol]
	return v, ok
}

// Package scheduler implements Scheduler (C13, spec.md §4.10): the single
// periodic-task runner every background sweep in this core is owned by,
// grounded on the teacher's engine/trading_engine.go ticker loop (one
// time.Ticker per cadence instead of the teacher's single interval, since
// this core's tasks run at independently-specified cadences).
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alexherrero/tradecore/broker"
	"github.com/alexherrero/tradecore/candle"
	"github.com/alexherrero/tradecore/exit"
	"github.com/alexherrero/tradecore/order"
	"github.com/alexherrero/tradecore/session"
	"github.com/alexherrero/tradecore/signal"
	"github.com/alexherrero/tradecore/store"
)

// Cadences name every interval spec.md §4.10 fixes for Scheduler's tasks.
const (
	CandleFinalizeInterval  = candle.FinalizeSweepInterval
	OrderReconcileInterval  = 30 * time.Second
	ExitReconcileInterval   = 30 * time.Second
	ExitReconcileOffset     = 15 * time.Second
	MTFSweepInterval        = 1 * time.Minute
	WatchdogInterval        = 2 * time.Minute
	OAuthCleanupInterval    = 10 * time.Minute
	InstrumentRefreshPeriod = 24 * time.Hour

	exitIntentBatchSize = 50
)

// InstrumentRefresher feeds Scheduler's daily instrument-refresh task: one
// per data-feed broker it should keep in sync. port may belong to any
// connected user_broker_id for that broker code — GetInstruments returns
// the broker's full tradable universe regardless of which session asked.
type InstrumentRefresher struct {
	BrokerCode string
	Port       broker.Port
}

// Scheduler owns every periodic task named in spec.md §4.10. Each task
// runs on its own ticker so a slow or stuck task never delays the others;
// each task's run catches and logs its own error so a single failure
// never halts the scheduler (spec.md §4.10: "a failing task never halts
// the scheduler").
type Scheduler struct {
	candles       *candle.Builder
	orderRecon    *order.Reconciler
	exitQual      *exit.Qualification
	exitExec      *exit.Executor
	exitRecon     *exit.Reconciler
	signals       *signal.Coordinator
	sweepPairs    func() []signal.SymbolTimeframe
	sessions      *session.Manager
	instruments   *store.InstrumentStore
	refreshers    []InstrumentRefresher
	registry      *broker.Registry
	now           func() time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

// Config bundles every collaborator Scheduler drives. SweepPairs and
// Refreshers may be nil/empty when their corresponding task has nothing
// to do yet (e.g. before any instrument has been onboarded).
type Config struct {
	Candles     *candle.Builder
	OrderRecon  *order.Reconciler
	ExitQual    *exit.Qualification
	ExitExec    *exit.Executor
	ExitRecon   *exit.Reconciler
	Signals     *signal.Coordinator
	SweepPairs  func() []signal.SymbolTimeframe
	Sessions    *session.Manager
	Instruments *store.InstrumentStore
	Refreshers  []InstrumentRefresher
	Registry    *broker.Registry
}

// New builds a Scheduler from cfg.
func New(cfg Config) *Scheduler {
	return &Scheduler{
		candles:     cfg.Candles,
		orderRecon:  cfg.OrderRecon,
		exitQual:    cfg.ExitQual,
		exitExec:    cfg.ExitExec,
		exitRecon:   cfg.ExitRecon,
		signals:     cfg.Signals,
		sweepPairs:  cfg.SweepPairs,
		sessions:    cfg.Sessions,
		instruments: cfg.Instruments,
		refreshers:  cfg.Refreshers,
		registry:    cfg.Registry,
		now:         time.Now,
		stop:        make(chan struct{}),
	}
}

// Start launches every periodic task as its own goroutine. It returns
// immediately; call Stop to shut them down.
func (s *Scheduler) Start(ctx context.Context) {
	s.runEvery(ctx, "candle_finalize", CandleFinalizeInterval, 0, s.runCandleFinalize)
	s.runEvery(ctx, "order_reconcile", OrderReconcileInterval, 0, s.runOrderReconcile)
	s.runEvery(ctx, "exit_qualify_and_place", OrderReconcileInterval, 0, s.runExitPipeline)
	s.runEvery(ctx, "exit_reconcile", ExitReconcileInterval, ExitReconcileOffset, s.runExitReconcile)
	s.runEvery(ctx, "mtf_sweep", MTFSweepInterval, 0, s.runMTFSweep)
	s.runEvery(ctx, "watchdog", WatchdogInterval, 0, s.runWatchdog)
	s.runEvery(ctx, "oauth_cleanup", OAuthCleanupInterval, 0, s.runOAuthCleanup)
	s.runEvery(ctx, "instrument_refresh", InstrumentRefreshPeriod, 0, s.runInstrumentRefresh)
	log.Info().Msg("scheduler started")
}

// Stop signals every task goroutine to exit and waits for them to return.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
	log.Info().Msg("scheduler stopped")
}

// runEvery starts one named periodic task, delayed by offset on its first
// firing (used by the exit reconciler's +15s stagger against the order
// reconciler so the two 30s sweeps don't contend for the same rate-limit
// semaphore tick).
func (s *Scheduler) runEvery(ctx context.Context, name string, interval, offset time.Duration, fn func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if offset > 0 {
			select {
			case <-time.After(offset):
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			}
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.runTask(ctx, name, fn)
			}
		}
	}()
}

// runTask recovers a panicking task and always logs an error return,
// guaranteeing one task's failure never stops the ticker loop above.
func (s *Scheduler) runTask(ctx context.Context, name string, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("task", name).Interface("panic", r).Msg("scheduler task panicked")
		}
	}()
	fn(ctx)
}

func (s *Scheduler) runCandleFinalize(ctx context.Context) {
	if s.candles == nil {
		return
	}
	s.candles.SweepExpired(ctx, s.now())
}

func (s *Scheduler) runOrderReconcile(ctx context.Context) {
	if s.orderRecon == nil {
		return
	}
	if err := s.orderRecon.Run(ctx); err != nil {
		log.Error().Err(err).Msg("scheduler: order reconciler run failed")
	}
}

// runExitPipeline drives ExitQualification then ExitOrderExecutor back to
// back each cycle, since a freshly-qualified (APPROVED) intent should be
// placed without waiting an extra 30s for the next tick (spec.md §4.9).
func (s *Scheduler) runExitPipeline(ctx context.Context) {
	if s.exitQual != nil {
		if err := s.exitQual.Run(ctx, exitIntentBatchSize); err != nil {
			log.Error().Err(err).Msg("scheduler: exit qualification run failed")
		}
	}
	if s.exitExec != nil {
		if err := s.exitExec.Poll(ctx, exitIntentBatchSize); err != nil {
			log.Error().Err(err).Msg("scheduler: exit executor poll failed")
		}
	}
}

func (s *Scheduler) runExitReconcile(ctx context.Context) {
	if s.exitRecon == nil {
		return
	}
	if err := s.exitRecon.Run(ctx); err != nil {
		log.Error().Err(err).Msg("scheduler: exit reconciler run failed")
	}
}

func (s *Scheduler) runMTFSweep(ctx context.Context) {
	if s.signals == nil || s.sweepPairs == nil {
		return
	}
	pairs := s.sweepPairs()
	if len(pairs) == 0 {
		return
	}
	s.signals.Sweep(ctx, pairs)
}

// runWatchdog logs the connection health of every registered broker port,
// the minimal form of spec.md §4.10's "watchdog health check" — detecting
// a silently-dead connection is the out-of-scope alerting layer's job,
// this just surfaces the signal in structured logs and SYSTEM_STATUS.
func (s *Scheduler) runWatchdog(ctx context.Context) {
	if s.registry == nil {
		return
	}
	for userBrokerID, port := range s.registry.All() {
		if !port.IsConnected() {
			log.Warn().Str("user_broker_id", userBrokerID).Str("broker", port.Name()).
				Msg("watchdog: broker port disconnected")
		}
	}
}

func (s *Scheduler) runOAuthCleanup(ctx context.Context) {
	if s.sessions == nil {
		return
	}
	n, err := s.sessions.SweepExpiredStates(ctx)
	if err != nil {
		log.Error().Err(err).Msg("scheduler: oauth state cleanup failed")
		return
	}
	if n > 0 {
		log.Info().Int64("deleted", n).Msg("scheduler: swept expired oauth states")
	}
}

// runInstrumentRefresh re-pulls each refresher's broker's instrument
// master and upserts it (spec.md §4.10: "daily instrument refresh at a
// configured local time" — here driven by InstrumentRefreshPeriod off
// process start rather than a wall-clock time-of-day, since this core has
// no existing time-of-day scheduler primitive to ground that on).
func (s *Scheduler) runInstrumentRefresh(ctx context.Context) {
	if s.instruments == nil {
		return
	}
	for _, r := range s.refreshers {
		instruments, err := r.Port.GetInstruments(ctx)
		if err != nil {
			log.Error().Err(err).Str("broker_code", r.BrokerCode).Msg("scheduler: instrument refresh fetch failed")
			continue
		}
		updated := 0
		for i := range instruments {
			inst := instruments[i]
			inst.BrokerCode = r.BrokerCode
			if err := s.instruments.Upsert(ctx, &inst); err != nil {
				log.Error().Err(err).Str("symbol", inst.Symbol).Msg("scheduler: instrument upsert failed")
				continue
			}
			updated++
		}
		log.Info().Str("broker_code", r.BrokerCode).Int("count", updated).Msg("scheduler: instrument refresh complete")
	}
}

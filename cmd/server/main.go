// Command server is the composition root for tradecore: it loads
// configuration, constructs every component named in spec.md §4, runs
// StartupGate, and serves the operational HTTP surface until a shutdown
// signal arrives. Grounded on the teacher's root main.go wiring order
// (config → collaborators bottom-up → engine start → HTTP server →
// signal-driven graceful shutdown), generalized from one trading engine
// to this core's full C1-C13 component set.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/alexherrero/tradecore/broker"
	"github.com/alexherrero/tradecore/candle"
	"github.com/alexherrero/tradecore/config"
	"github.com/alexherrero/tradecore/events"
	"github.com/alexherrero/tradecore/execution"
	"github.com/alexherrero/tradecore/exit"
	"github.com/alexherrero/tradecore/models"
	"github.com/alexherrero/tradecore/order"
	"github.com/alexherrero/tradecore/realtime"
	"github.com/alexherrero/tradecore/scheduler"
	"github.com/alexherrero/tradecore/server"
	"github.com/alexherrero/tradecore/session"
	"github.com/alexherrero/tradecore/signal"
	"github.com/alexherrero/tradecore/startup"
	"github.com/alexherrero/tradecore/store"
	"github.com/alexherrero/tradecore/tick"
)

// actorPartitions sizes every per-key actor pool in the process. A single
// shared constant keeps the fan-out width consistent across coordinators
// until a deployment needs to tune one independently.
const actorPartitions = 8

// noopAnalytics is the seam for the out-of-scope MTF analytics
// collaborator (spec.md §1: the core never computes probability, Kelly
// sizing, or confluence itself). Wire a real implementation here once one
// exists; until then Sweep/OnCandleFinalized simply find nothing to
// publish — the same nil-safe-seam idiom exit.Service uses for RiskBreachFunc.
type noopAnalytics struct{}

func (noopAnalytics) Evaluate(ctx context.Context, symbol string, tf models.Timeframe) (*models.SignalCandidate, error) {
	return nil, nil
}

// noopSizer is the seam for the out-of-scope position-sizing collaborator
// (spec.md §1). Returning zero quantity fails MinQuantity in
// execution.Validator, so no trade intent is created until a real sizer is
// wired — fail closed, not open.
type noopSizer struct{}

func (noopSizer) Size(ctx context.Context, sig *models.Signal, portfolio *models.PortfolioContext) (*models.PositionSizeResult, error) {
	return &models.PositionSizeResult{LimitingConstraint: "SIZER_NOT_WIRED"}, nil
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	log.Info().Msg("starting tradecore")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.ProductionMode {
		log.Warn().Msg("PRODUCTION_MODE enabled - live order execution")
	} else {
		log.Info().Msg("non-production mode")
	}

	db, err := store.Open(cfg.DBURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	signalStore := store.NewSignalStore(db)
	deliveryStore := store.NewDeliveryStore(db)
	userBrokerStore := store.NewUserBrokerStore(db)
	tradeStore := store.NewTradeStore(db)
	intentStore := store.NewIntentStore(db)
	exitIntentStore := store.NewExitIntentStore(db)
	candleStore := store.NewCandleStore(db)
	instrumentStore := store.NewInstrumentStore(db)
	oauthStore := store.NewOAuthStore(db)

	registry := broker.NewRegistry()
	wsManager := realtime.NewWebSocketManager()
	go wsManager.Run()
	var bus events.Bus = wsManager

	sessionManager := session.NewManager(oauthStore, func(ctx context.Context, userBrokerID string) (string, time.Time, error) {
		// Re-authentication is adapter-specific (the OAuth redirect flow is
		// owned by the out-of-scope gateway); the core can only refresh a
		// user-broker whose adapter is already registered and connected.
		port, err := registry.Get(userBrokerID)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("main: no live port to refresh %s: %w", userBrokerID, err)
		}
		token, err := port.Connect(ctx, broker.Credentials{})
		return token, time.Now().Add(session.RefreshWindow * 4), err
	})
	sessionManager.Subscribe(func(userBrokerID, token string) {
		log.Info().Str("user_broker_id", userBrokerID).Msg("session token refreshed")
	})

	if cfg.DataFeedBroker != "" {
		if port, err := broker.NewAdapter(broker.Code(cfg.DataFeedBroker), cfg.DataFeedBaseURL); err != nil {
			log.Error().Err(err).Str("broker", cfg.DataFeedBroker).Msg("failed to build data feed adapter")
		} else {
			registry.Register("data-feed-"+cfg.DataFeedBroker, port)
		}
	}
	if cfg.OrderBroker != "" && cfg.OrderBroker != cfg.DataFeedBroker {
		if port, err := broker.NewAdapter(broker.Code(cfg.OrderBroker), cfg.OrderBrokerBaseURL); err != nil {
			log.Error().Err(err).Str("broker", cfg.OrderBroker).Msg("failed to build order broker adapter")
		} else {
			registry.Register("order-broker-"+cfg.OrderBroker, port)
		}
	}

	intake := tick.NewIntake(time.Now)
	candleBuilder := candle.NewBuilder(candleStore, bus)

	signalCoordinator := signal.NewCoordinator(noopAnalytics{}, signalStore, deliveryStore, userBrokerStore, bus, actorPartitions)
	signalCoordinator.BrokerCodes = func(ctx context.Context) ([]string, error) {
		var codes []string
		if cfg.DataFeedBroker != "" {
			codes = append(codes, cfg.DataFeedBroker)
		}
		if cfg.OrderBroker != "" && cfg.OrderBroker != cfg.DataFeedBroker {
			codes = append(codes, cfg.OrderBroker)
		}
		return codes, nil
	}

	validator := execution.NewValidator(noopSizer{}, execution.DefaultLimits())
	orchestrator := execution.NewOrchestrator(deliveryStore, signalStore, userBrokerStore, tradeStore, registry, validator, bus, actorPartitions)

	tradeCoordinator := order.NewCoordinator(tradeStore, actorPartitions, order.DefaultTargetConfig())
	orderExecutor := order.NewExecutor(intentStore, signalStore, registry, tradeCoordinator, bus, func() bool { return cfg.TradingEnabled })
	orderLimiter := broker.NewRateLimiter(1000, 5000, 50000, 5)
	orderReconciler := order.NewReconciler(tradeStore, registry, tradeCoordinator, orderLimiter)

	exitService := exit.NewService(tradeCoordinator, exitIntentStore, exit.DefaultLimits(), nil)
	exitQualification := exit.NewQualification(exitIntentStore, tradeCoordinator, registry)
	exitExecutor := exit.NewExecutor(exitIntentStore, registry, tradeCoordinator, bus)
	exitLimiter := broker.NewRateLimiter(1000, 5000, 50000, 5)
	exitReconciler := exit.NewReconciler(exitIntentStore, registry, tradeCoordinator, exitLimiter)

	sched := scheduler.New(scheduler.Config{
		Candles:     candleBuilder,
		OrderRecon:  orderReconciler,
		ExitQual:    exitQualification,
		ExitExec:    exitExecutor,
		ExitRecon:   exitReconciler,
		Signals:     signalCoordinator,
		Sessions:    sessionManager,
		Instruments: instrumentStore,
		Registry:    registry,
	})

	gate := startup.NewGate(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = gate.Run(ctx,
		tradeCoordinator,
		signalCoordinator,
		startup.AsStarter(func(ctx context.Context) { orchestrator.Start(ctx) }),
		startup.AsStarter(func(ctx context.Context) { exitService.Start(ctx) }),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("startup gate failed")
	}
	defer tradeCoordinator.Stop()
	defer signalCoordinator.Stop()
	defer orchestrator.Stop()
	defer exitService.Stop()

	startKnownSessions(ctx, sessionManager, userBrokerStore, cfg)

	tickListener := intake.Subscribe("candle-builder")
	go func() {
		for t := range tickListener.C {
			candleBuilder.OnTick(ctx, t)
		}
	}()
	exitListener := intake.Subscribe("exit-signal-service")
	go exitService.Consume(ctx, exitListener)

	// orderExecutor and orchestrator are both "poll for new rows" steps
	// rather than a sweep tied to a specific downstream effect, so they run
	// on their own simple ticker here instead of Scheduler's named task set.
	go pollEvery(ctx, scheduler.OrderReconcileInterval, func(ctx context.Context) {
		if err := orderExecutor.Poll(ctx, 50); err != nil {
			log.Error().Err(err).Msg("order executor poll failed")
		}
	})
	go pollEvery(ctx, scheduler.OrderReconcileInterval, func(ctx context.Context) {
		if err := orchestrator.Poll(ctx, 50); err != nil {
			log.Error().Err(err).Msg("execution orchestrator poll failed")
		}
	})

	sched.Start(ctx)
	defer sched.Stop()

	healthHandler := server.NewHandler(registry,
		server.NewChecker("store", func() bool { return db.Ping() == nil }),
	)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      healthHandler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Port).Msg("operational HTTP surface listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	cancel()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server forced shutdown")
	}
	log.Info().Msg("shutdown complete")
}

// startKnownSessions calls session.Manager.Start for every user-broker
// eligible to trade on either configured broker, so their tokens are loaded
// (or flagged LOGIN_REQUIRED) before the first scheduler tick runs.
func startKnownSessions(ctx context.Context, mgr *session.Manager, userBrokers *store.UserBrokerStore, cfg *config.Config) {
	seen := make(map[string]bool)
	for _, code := range []string{cfg.DataFeedBroker, cfg.OrderBroker} {
		if code == "" {
			continue
		}
		ubs, err := userBrokers.ListExecutableForBroker(ctx, code)
		if err != nil {
			log.Error().Err(err).Str("broker_code", code).Msg("main: failed to list user brokers for session start")
			continue
		}
		for _, ub := range ubs {
			if seen[ub.ID] {
				continue
			}
			seen[ub.ID] = true
			mgr.Start(ctx, ub.ID)
		}
	}
}

// pollEvery runs fn on a fixed ticker until ctx is cancelled.
func pollEvery(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

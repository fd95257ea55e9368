package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"

	"bluefinAgent/config"
	"bluefinAgent/internal/adapters/binance"
	"bluefinAgent/internal/adapters/bluefin"
	"bluefinAgent/internal/adapters/jsonledger"
	"bluefinAgent/internal/adapters/logger"
	"bluefinAgent/internal/adapters/mock"
	"bluefinAgent/internal/adapters/sqlite"
	"bluefinAgent/internal/adapters/webhook"
	"bluefinAgent/internal/engine"
	"bluefinAgent/internal/ledger"
	"bluefinAgent/internal/lifecycle"
	"bluefinAgent/internal/metrics"
	"bluefinAgent/internal/planner"
	"bluefinAgent/internal/ports"
	"bluefinAgent/internal/retry"
	"bluefinAgent/internal/risk"
	sig "bluefinAgent/internal/signal"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Trade Ledger Store
	store, err := buildStore(cfg, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize trade ledger store")
		log.Fatalf("FATAL: Failed to initialize trade ledger store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing trade ledger store")
		}
	}()
	appLogger.Info(ctx, "Trade ledger store initialized", map[string]interface{}{"backend": cfg.LedgerStore})

	// 4. Initialize Performance Ledger (replays persisted trades)
	perfLedger, err := ledger.New(ctx, store, cfg.InitialBalance, cfg.Leverage, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize performance ledger")
		log.Fatalf("FATAL: Failed to initialize performance ledger: %v", err)
	}

	// 5. Initialize Exchange Client
	exchange, err := buildExchange(cfg, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize exchange client")
		log.Fatalf("FATAL: Failed to initialize exchange client: %v", err)
	}
	appLogger.Info(ctx, "Exchange client initialized", map[string]interface{}{"exchange": cfg.Exchange})

	// The offline fallback keeps a consistent local record when the live
	// venue is unreachable. Pointless when the venue already is the mock.
	var fallback ports.ExchangeClient
	if cfg.OfflineFallback && cfg.Exchange != config.ExchangeMock {
		fallback, err = mock.NewClient(mock.Config{InitialBalance: cfg.InitialBalance, Logger: appLogger, AutoFill: true})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize offline fallback backend")
			log.Fatalf("FATAL: Failed to initialize offline fallback backend: %v", err)
		}
	}

	// 6. Initialize Core Components
	normalizer, err := sig.New(sig.Config{
		TradablePairs: cfg.TradingPairs,
		MinConfidence: cfg.MinConfidence,
	}, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize signal normalizer")
		log.Fatalf("FATAL: Failed to initialize signal normalizer: %v", err)
	}

	gate, err := risk.NewGate(risk.GateConfig{
		MaxRiskPerTrade:  cfg.MaxRiskPerTrade,
		MaxRiskPerSymbol: cfg.MaxRiskPerSymbol,
		MaxOpenTrades:    cfg.MaxOpenTrades,
		MaxDailyDrawdown: cfg.MaxDailyDrawdown,
	}, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize risk gate")
		log.Fatalf("FATAL: Failed to initialize risk gate: %v", err)
	}

	orderPlanner, err := planner.New(planner.Config{
		StopLossPct:      cfg.StopLossPct,
		TakeProfitRR:     cfg.TakeProfitRR,
		ATRPeriod:        cfg.ATRPeriod,
		ATRMultiplier:    cfg.ATRMultiplier,
		Leverage:         cfg.Leverage,
		DoubleOnOpposite: cfg.DoubleOnOpposite,
	}, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize order planner")
		log.Fatalf("FATAL: Failed to initialize order planner: %v", err)
	}

	tracker, err := lifecycle.New(lifecycle.Config{
		RequeueAdjustThreshold: cfg.RequeueAdjustThreshold,
		RequeueAdjustPct:       cfg.RequeueAdjustPct,
		BreakEvenPct:           cfg.BreakEvenPct,
	}, exchange, perfLedger, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize lifecycle tracker")
		log.Fatalf("FATAL: Failed to initialize lifecycle tracker: %v", err)
	}

	appMetrics := metrics.New()
	retryPolicy := retry.Policy{
		MaxAttempts: cfg.RetryMaxAttempts,
		Budget:      cfg.RetryBudget,
		MinDelay:    cfg.RetryMinDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		Retryable:   retry.IsTransient,
		Logger:      appLogger,
	}

	// 7. Initialize Engine
	eng, err := engine.New(engine.Config{
		TradingPairs:     cfg.TradingPairs,
		CandleInterval:   cfg.CandleInterval,
		TrailingInterval: cfg.TrailingInterval,
		OfflineFallback:  cfg.OfflineFallback,
	}, engine.Deps{
		Normalizer: normalizer,
		Gate:       gate,
		Planner:    orderPlanner,
		Tracker:    tracker,
		Ledger:     perfLedger,
		Exchange:   exchange,
		Fallback:   fallback,
		Retry:      retryPolicy,
		Metrics:    appMetrics,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize engine")
		log.Fatalf("FATAL: Failed to initialize engine: %v", err)
	}

	// 8. Initialize Webhook Server
	server, err := webhook.NewServer(webhook.Config{
		Addr:       cfg.WebhookAddr,
		Passphrase: cfg.WebhookPassphrase,
		Logger:     appLogger,
		Metrics:    appMetrics,
		Resetter:   perfLedger,
	}, eng)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize webhook server")
		log.Fatalf("FATAL: Failed to initialize webhook server: %v", err)
	}

	// 9. Run until a shutdown signal or a fatal component error
	errCh := make(chan error, 2)
	go func() { errCh <- eng.Run(ctx) }()
	go func() { errCh <- server.Start(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sigCh:
		appLogger.Info(ctx, "Shutdown signal received", map[string]interface{}{"signal": s.String()})
	case err := <-errCh:
		if err != nil {
			appLogger.Error(ctx, err, "Component exited with error")
		}
	}

	cancel()
	<-errCh // Wait for the second component to stop

	appLogger.Info(context.Background(), "Application finished gracefully.")
}

func buildStore(cfg *config.Config, appLogger ports.Logger) (ports.TradeLedgerStore, error) {
	switch cfg.LedgerStore {
	case config.LedgerStoreSQLite:
		return sqlite.NewRepository(sqlite.Config{DBPath: cfg.LedgerPath, Logger: appLogger})
	default:
		return jsonledger.NewStore(jsonledger.Config{Path: cfg.LedgerPath, Logger: appLogger})
	}
}

func buildExchange(cfg *config.Config, appLogger ports.Logger) (ports.ExchangeClient, error) {
	switch cfg.Exchange {
	case config.ExchangeBluefin:
		return bluefin.NewClient(bluefin.Config{
			BaseURL:   cfg.APIBaseURL,
			WSURL:     cfg.WSBaseURL,
			APIKey:    cfg.APIKey,
			APISecret: cfg.SecretKey,
			Logger:    appLogger,
		})
	case config.ExchangeBinance:
		return binance.New(binance.Config{
			APIKey:     cfg.APIKey,
			SecretKey:  cfg.SecretKey,
			UseTestnet: cfg.IsTestnet,
			Logger:     appLogger,
		})
	default:
		return mock.NewClient(mock.Config{InitialBalance: cfg.InitialBalance, Logger: appLogger, AutoFill: true})
	}
}

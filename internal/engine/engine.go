package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bluefinAgent/internal/domain"
	"bluefinAgent/internal/ledger"
	"bluefinAgent/internal/lifecycle"
	"bluefinAgent/internal/metrics"
	"bluefinAgent/internal/planner"
	"bluefinAgent/internal/ports"
	"bluefinAgent/internal/retry"
	"bluefinAgent/internal/risk"
	"bluefinAgent/internal/signal"
)

// Config holds the engine's own knobs; the collaborators carry their own.
type Config struct {
	TradingPairs     []string
	CandleInterval   string        // Candle timeframe for the ATR stop
	CandleLimit      int           // Candles fetched per plan; default 50
	TrailingInterval time.Duration // Stop re-check cadence; default 15s
	OfflineFallback  bool          // Route orders to the fallback venue when retries exhaust
}

// Engine drives a signal from raw alert to tracked order. One instance per
// process; HandleAlert is safe for concurrent use.
type Engine struct {
	cfg        Config
	normalizer *signal.Normalizer
	gate       *risk.Gate
	planner    *planner.Planner
	tracker    *lifecycle.Tracker
	ledger     *ledger.Ledger
	exchange   ports.ExchangeClient
	fallback   ports.ExchangeClient // Optional offline backend; nil disables rerouting
	retry      retry.Policy
	metrics    *metrics.Metrics
	logger     ports.Logger

	// Serializes evaluate-then-submit per symbol so two concurrent alerts
	// cannot both pass the risk gate against the same stale account state.
	symbolMu sync.Map // symbol -> *sync.Mutex

	wg sync.WaitGroup
}

// Deps bundles the engine's collaborators. All fields except Fallback and
// Metrics are required.
type Deps struct {
	Normalizer *signal.Normalizer
	Gate       *risk.Gate
	Planner    *planner.Planner
	Tracker    *lifecycle.Tracker
	Ledger     *ledger.Ledger
	Exchange   ports.ExchangeClient
	Fallback   ports.ExchangeClient
	Retry      retry.Policy
	Metrics    *metrics.Metrics
	Logger     ports.Logger
}

func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Normalizer == nil || deps.Gate == nil || deps.Planner == nil ||
		deps.Tracker == nil || deps.Ledger == nil || deps.Exchange == nil || deps.Logger == nil {
		return nil, fmt.Errorf("%w: engine requires normalizer, gate, planner, tracker, ledger, exchange and logger", ports.ErrConfigurationError)
	}
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = 50
	}
	if cfg.CandleInterval == "" {
		cfg.CandleInterval = "5m"
	}
	if cfg.TrailingInterval <= 0 {
		cfg.TrailingInterval = 15 * time.Second
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}

	return &Engine{
		cfg:        cfg,
		normalizer: deps.Normalizer,
		gate:       deps.Gate,
		planner:    deps.Planner,
		tracker:    deps.Tracker,
		ledger:     deps.Ledger,
		exchange:   deps.Exchange,
		fallback:   deps.Fallback,
		retry:      deps.Retry,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
	}, nil
}

// HandleAlert runs the full pipeline for one inbound alert: normalize,
// plan prices, risk-gate, build the order plan and submit it. A rejection
// is returned as a wrapped sentinel error; the signal is never silently
// dropped.
func (e *Engine) HandleAlert(ctx context.Context, alert *domain.RawAlert) (*domain.Order, error) {
	sig, err := e.normalizer.Normalize(ctx, alert)
	if err != nil {
		switch {
		case errors.Is(err, ports.ErrUnsupportedSignal):
			e.metrics.SignalsTotal.WithLabelValues(metrics.OutcomeUnsupported).Inc()
		default:
			e.metrics.SignalsTotal.WithLabelValues(metrics.OutcomeInvalid).Inc()
		}
		return nil, err
	}

	return e.HandleSignal(ctx, sig)
}

// HandleSignal plans and submits one normalized signal. Exported so replays
// and tests can inject signals below the alert layer.
func (e *Engine) HandleSignal(ctx context.Context, sig *domain.TradeSignal) (*domain.Order, error) {
	mu := e.lockSymbol(sig.Symbol)
	defer mu.Unlock()

	marketPrice, candles, err := e.fetchMarketState(ctx, sig.Symbol)
	if err != nil {
		e.metrics.SignalsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		return nil, err
	}

	prices, err := e.planner.PlanPrices(ctx, sig, marketPrice, candles)
	if err != nil {
		e.metrics.SignalsTotal.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return nil, err
	}

	account := e.ledger.Account()
	positions := e.tracker.Positions()
	decision := e.gate.Evaluate(ctx, sig, prices.Entry, prices.Stop, 0, account, positions)
	if !decision.Accepted {
		e.metrics.SignalsTotal.WithLabelValues(metrics.OutcomeRejectedRisk).Inc()
		if decision.Halted {
			return nil, fmt.Errorf("%w: %s", ports.ErrDrawdownHalt, decision.Reason)
		}
		return nil, fmt.Errorf("%w: %s", ports.ErrRiskRejected, decision.Reason)
	}

	var existing *domain.Position
	if pos, ok := e.tracker.Position(sig.Symbol); ok {
		existing = &pos
	}

	plan, err := e.planner.Build(ctx, sig, prices, decision.Quantity, existing)
	if err != nil {
		e.metrics.SignalsTotal.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return nil, err
	}

	order, err := e.submit(ctx, plan)
	if err != nil {
		e.metrics.SignalsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		return nil, err
	}

	e.metrics.SignalsTotal.WithLabelValues(metrics.OutcomeAccepted).Inc()
	e.metrics.OrdersTotal.WithLabelValues(string(order.Status)).Inc()
	e.logger.Info(ctx, "Order submitted", map[string]interface{}{
		"symbol":   order.Symbol,
		"side":     string(order.Side),
		"quantity": order.Quantity,
		"price":    order.Price,
		"hash":     order.Hash,
		"doubled":  plan.Doubled,
	})
	return order, nil
}

// submit places the entry order with retries and registers it, together with
// its protective legs, with the lifecycle tracker.
func (e *Engine) submit(ctx context.Context, plan *planner.Plan) (*domain.Order, error) {
	if plan.Entry.Leverage > 0 {
		// Best effort: a leverage mismatch surfaces on order placement anyway.
		if err := e.exchange.SetLeverage(ctx, plan.Entry.Symbol, plan.Entry.Leverage); err != nil {
			e.logger.Warn(ctx, "Failed to set leverage", map[string]interface{}{
				"symbol":   plan.Entry.Symbol,
				"leverage": plan.Entry.Leverage,
				"error":    err.Error(),
			})
		}
	}

	var order *domain.Order
	err := e.retry.Do(ctx, "place order", func(ctx context.Context) error {
		var placeErr error
		order, placeErr = e.exchange.PlaceOrder(ctx, plan.Entry)
		return placeErr
	})
	if err == nil {
		e.tracker.TrackEntry(order, plan.Stop, plan.Target)
		return order, nil
	}

	if e.cfg.OfflineFallback && e.fallback != nil && retry.IsTransient(err) {
		e.logger.Warn(ctx, "Exchange unreachable, recording order on offline backend", map[string]interface{}{
			"symbol": plan.Entry.Symbol,
			"error":  err.Error(),
		})
		order, fbErr := e.fallback.PlaceOrder(ctx, plan.Entry)
		if fbErr != nil {
			e.logger.Error(ctx, fbErr, "Offline fallback placement failed", map[string]interface{}{
				"symbol": plan.Entry.Symbol,
			})
			return nil, fmt.Errorf("%w: %v", ports.ErrOrderPlacementFailed, err)
		}
		// Protective legs are skipped offline: the fallback venue cannot
		// guard a position the real venue never opened.
		e.tracker.TrackOrder(order)
		return order, nil
	}

	e.logger.Error(ctx, err, "Order placement failed", map[string]interface{}{
		"symbol":   plan.Entry.Symbol,
		"side":     string(plan.Entry.Side),
		"quantity": plan.Entry.Quantity,
	})
	return nil, err
}

// Run starts the tracker, bridges the exchange event stream into it and runs
// the housekeeping loop until ctx is cancelled. It blocks.
func (e *Engine) Run(ctx context.Context) error {
	e.tracker.Start(ctx)
	defer e.tracker.Stop()

	if err := e.restorePositions(ctx); err != nil {
		e.logger.Warn(ctx, "Position restore failed, starting flat", map[string]interface{}{
			"error": err.Error(),
		})
	}

	doneCh, stopCh, err := e.exchange.StreamOrderEvents(ctx, e.onOrderEvent, e.onStreamError)
	if err != nil {
		return fmt.Errorf("start order event stream: %w", err)
	}

	if e.fallback != nil {
		// The fallback venue settles orders too; its events feed the same
		// tracker so offline records stay consistent.
		if _, _, fbErr := e.fallback.StreamOrderEvents(ctx, e.onOrderEvent, e.onStreamError); fbErr != nil {
			e.logger.Warn(ctx, "Fallback event stream unavailable", map[string]interface{}{
				"error": fbErr.Error(),
			})
		}
	}

	e.wg.Add(1)
	go e.housekeeping(ctx)

	e.logger.Info(ctx, "Engine running", map[string]interface{}{
		"pairs": e.cfg.TradingPairs,
	})

	select {
	case <-ctx.Done():
	case <-doneCh:
		e.logger.Warn(ctx, "Order event stream terminated", nil)
	}

	close(stopCh)
	e.wg.Wait()
	return nil
}

func (e *Engine) onOrderEvent(ev *domain.OrderEvent) {
	if ev.Type == domain.EventOrderRequeue {
		e.metrics.RequeuesTotal.Inc()
	}
	e.tracker.HandleEvent(ev)
}

func (e *Engine) onStreamError(err error) {
	e.logger.Error(context.Background(), err, "Order event stream error", nil)
}

// housekeeping periodically drags stops to break-even, refreshes gauges and
// rolls the daily P&L window at UTC midnight.
func (e *Engine) housekeeping(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.TrailingInterval)
	defer ticker.Stop()

	day := time.NewTicker(time.Minute)
	defer day.Stop()
	lastDay := time.Now().UTC().Truncate(24 * time.Hour)

	e.refreshGauges()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.adjustAllStops(ctx)
			e.refreshGauges()
		case <-day.C:
			now := time.Now().UTC().Truncate(24 * time.Hour)
			if now.After(lastDay) {
				lastDay = now
				e.ledger.ResetDaily(ctx)
				e.logger.Info(ctx, "Daily P&L window reset", nil)
			}
		}
	}
}

func (e *Engine) adjustAllStops(ctx context.Context) {
	for _, pos := range e.tracker.Positions() {
		price, err := e.exchange.GetMarketPrice(ctx, pos.Symbol)
		if err != nil {
			e.logger.Debug(ctx, "Skipping stop adjustment, no market price", map[string]interface{}{
				"symbol": pos.Symbol,
				"error":  err.Error(),
			})
			continue
		}
		e.tracker.AdjustStops(ctx, pos.Symbol, price)
	}
}

func (e *Engine) refreshGauges() {
	account := e.ledger.Account()
	e.metrics.Equity.Set(account.Balance)
	e.metrics.DailyPnL.Set(account.DailyPnL)
	e.metrics.OpenPositions.Set(float64(len(e.tracker.Positions())))
}

// restorePositions seeds the tracker with positions already open on the
// venue so a restart does not lose sight of live exposure.
func (e *Engine) restorePositions(ctx context.Context) error {
	positions, err := e.exchange.GetPositions(ctx)
	if err != nil {
		return err
	}
	for _, pos := range positions {
		if pos.Quantity <= 0 {
			continue
		}
		// Reconnect the position to its open ledger record when one exists.
		for _, tr := range e.ledger.OpenTrades() {
			if tr.Symbol == pos.Symbol && tr.Status == domain.TradeStatusOpen {
				pos.TradeID = tr.ID
				break
			}
		}
		e.tracker.RestorePosition(pos)
		e.logger.Info(ctx, "Restored open position", map[string]interface{}{
			"symbol":   pos.Symbol,
			"side":     string(pos.Side),
			"quantity": pos.Quantity,
		})
	}
	return nil
}

func (e *Engine) fetchMarketState(ctx context.Context, symbol string) (float64, []*domain.Candle, error) {
	var price float64
	err := e.retry.Do(ctx, "get market price", func(ctx context.Context) error {
		var priceErr error
		price, priceErr = e.exchange.GetMarketPrice(ctx, symbol)
		return priceErr
	})
	if err != nil {
		return 0, nil, err
	}

	// Candles only feed the ATR stop; planning falls back to the fixed
	// percentage stop without them.
	candles, err := e.exchange.GetCandles(ctx, symbol, e.cfg.CandleInterval, e.cfg.CandleLimit)
	if err != nil {
		e.logger.Debug(ctx, "Candle fetch failed, using percentage stop", map[string]interface{}{
			"symbol": symbol,
			"error":  err.Error(),
		})
		candles = nil
	}
	return price, candles, nil
}

func (e *Engine) lockSymbol(symbol string) *sync.Mutex {
	mu, _ := e.symbolMu.LoadOrStore(symbol, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m
}

// Package planner turns an accepted trade signal into a concrete order plan:
// an entry order plus protective stop and target legs, with prices derived
// from signal hints, recent volatility, or fixed percentages.
package planner

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"bluefinAgent/internal/domain"
	"bluefinAgent/internal/indicators"
	"bluefinAgent/internal/ports"
)

// Config holds order planning parameters.
type Config struct {
	StopLossPct      float64 // Fallback stop distance as a fraction of entry
	TakeProfitRR     float64 // Target distance as a multiple of stop distance
	ATRPeriod        int     // 0 disables ATR-based stops
	ATRMultiplier    float64 // Stop distance in ATR units
	Leverage         int
	DoubleOnOpposite bool // Add the opposite position's size so one order flips it
}

// Prices are the planned entry, stop and target for one signal.
type Prices struct {
	Entry  float64
	Stop   float64
	Target float64
}

// Plan is a fully sized set of order requests for one signal. The entry is
// submitted first; the protective legs only after the entry acknowledges.
type Plan struct {
	Signal  *domain.TradeSignal
	Entry   ports.OrderRequest
	Stop    ports.OrderRequest
	Target  ports.OrderRequest
	Prices  Prices
	Doubled bool // Quantity includes an opposite position's size
}

// Planner computes order plans. It is stateless and safe for concurrent use.
type Planner struct {
	cfg    Config
	logger ports.Logger
}

// New creates a Planner.
func New(cfg Config, log ports.Logger) (*Planner, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required for planner")
	}
	if cfg.StopLossPct <= 0 || cfg.StopLossPct >= 1 {
		return nil, fmt.Errorf("%w: StopLossPct must be in (0,1)", ports.ErrConfigurationError)
	}
	if cfg.TakeProfitRR <= 0 {
		return nil, fmt.Errorf("%w: TakeProfitRR must be positive", ports.ErrConfigurationError)
	}
	if cfg.ATRPeriod > 0 && cfg.ATRMultiplier <= 0 {
		return nil, fmt.Errorf("%w: ATRMultiplier must be positive when ATRPeriod is set", ports.ErrConfigurationError)
	}
	return &Planner{cfg: cfg, logger: log}, nil
}

// PlanPrices resolves entry, stop and target prices for a signal. Hints from
// the alert win; otherwise the stop comes from ATR when enough candles are
// supplied, or a fixed percentage, and the target from the risk distance
// times the reward multiple.
func (p *Planner) PlanPrices(ctx context.Context, signal *domain.TradeSignal, marketPrice float64, candles []*domain.Candle) (Prices, error) {
	entry := signal.EntryHint
	if entry <= 0 {
		entry = marketPrice
	}
	if entry <= 0 {
		return Prices{}, fmt.Errorf("%w: no entry price available for %s", ports.ErrValidation, signal.Symbol)
	}

	stop := signal.StopHint
	if stop <= 0 {
		stop = p.stopPrice(ctx, signal, entry, candles)
	}

	target := signal.TargetHint
	if target <= 0 {
		riskDistance := math.Abs(entry - stop)
		if signal.Direction == domain.Buy {
			target = entry + riskDistance*p.cfg.TakeProfitRR
		} else {
			target = entry - riskDistance*p.cfg.TakeProfitRR
		}
	}

	if signal.Direction == domain.Buy && stop >= entry {
		return Prices{}, fmt.Errorf("%w: stop %.8f not below entry %.8f for buy", ports.ErrValidation, stop, entry)
	}
	if signal.Direction == domain.Sell && stop <= entry {
		return Prices{}, fmt.Errorf("%w: stop %.8f not above entry %.8f for sell", ports.ErrValidation, stop, entry)
	}

	return Prices{Entry: entry, Stop: stop, Target: target}, nil
}

func (p *Planner) stopPrice(ctx context.Context, signal *domain.TradeSignal, entry float64, candles []*domain.Candle) float64 {
	distance := entry * p.cfg.StopLossPct

	if p.cfg.ATRPeriod > 0 && len(candles) > p.cfg.ATRPeriod {
		atr, err := indicators.ATR(candles, p.cfg.ATRPeriod)
		if err == nil && atr > 0 {
			distance = atr * p.cfg.ATRMultiplier
		} else if err != nil {
			p.logger.Debug(ctx, "planPrices: ATR unavailable, using percentage stop", map[string]interface{}{
				"symbol": signal.Symbol,
				"error":  err.Error(),
			})
		}
	}

	if signal.Direction == domain.Buy {
		return entry - distance
	}
	return entry + distance
}

// Build assembles the order requests for a sized signal. existing is the
// currently open position on the symbol, nil when flat; when it sits on the
// opposite side and doubling is enabled, its quantity is added so a single
// entry order both closes it and opens the new position.
func (p *Planner) Build(ctx context.Context, signal *domain.TradeSignal, prices Prices, quantity float64, existing *domain.Position) (*Plan, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: non-positive quantity %.8f", ports.ErrValidation, quantity)
	}

	doubled := false
	if existing != nil && p.cfg.DoubleOnOpposite &&
		existing.Side != domain.SideForPosition(signal.Direction) && existing.Quantity > 0 {
		quantity += existing.Quantity
		doubled = true
		p.logger.Info(ctx, "buildPlan: doubling through opposite position", map[string]interface{}{
			"symbol":      signal.Symbol,
			"existingQty": existing.Quantity,
			"totalQty":    quantity,
		})
	}

	exitSide := signal.Direction.Opposite()
	plan := &Plan{
		Signal: signal,
		Entry: ports.OrderRequest{
			Symbol:        signal.Symbol,
			Side:          signal.Direction,
			Quantity:      quantity,
			Price:         prices.Entry,
			Type:          domain.OrderTypeLimit,
			TimeInForce:   "GTC",
			Leverage:      p.cfg.Leverage,
			ClientOrderID: uuid.New().String(),
		},
		Stop: ports.OrderRequest{
			Symbol:        signal.Symbol,
			Side:          exitSide,
			Quantity:      quantity,
			Price:         prices.Stop,
			Type:          domain.OrderTypeStopMarket,
			ReduceOnly:    true,
			TimeInForce:   "GTC",
			ClientOrderID: uuid.New().String(),
		},
		Target: ports.OrderRequest{
			Symbol:        signal.Symbol,
			Side:          exitSide,
			Quantity:      quantity,
			Price:         prices.Target,
			Type:          domain.OrderTypeLimit,
			ReduceOnly:    true,
			TimeInForce:   "GTC",
			ClientOrderID: uuid.New().String(),
		},
		Prices:  prices,
		Doubled: doubled,
	}
	return plan, nil
}

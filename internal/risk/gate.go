package risk

import (
	"context"
	"fmt"
	"math"

	"bluefinAgent/internal/domain"
	"bluefinAgent/internal/ports"
)

// GateConfig holds risk gating parameters.
type GateConfig struct {
	MaxRiskPerTrade  float64 // Fraction of balance risked on one trade
	MaxRiskPerSymbol float64 // Fraction of balance committed per symbol
	MaxOpenTrades    int
	MaxDailyDrawdown float64 // Daily loss fraction triggering the kill switch
}

// Decision is the outcome of evaluating one signal against account risk.
// Ephemeral: one per signal, never stored.
type Decision struct {
	Accepted bool
	Halted   bool    // Rejection came from the daily drawdown kill switch
	Quantity float64 // Sized quantity when accepted
	Resized  bool    // Quantity was cut to the exact risk budget
	Reason   string  // Human-readable reason, always set
}

// Gate performs stateless risk computation over the supplied account state
// and open positions. Evaluate has no side effects: all mutation happens
// after a real fill, so rejected signals can never double-count risk. Atomic
// per-symbol commitment is the caller's responsibility (the engine holds a
// per-symbol lock around evaluate-then-submit).
type Gate struct {
	cfg    GateConfig
	logger ports.Logger
}

// NewGate creates a risk gate.
func NewGate(cfg GateConfig, log ports.Logger) (*Gate, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required for risk gate")
	}
	if cfg.MaxRiskPerTrade <= 0 || cfg.MaxRiskPerTrade >= 1 {
		return nil, fmt.Errorf("%w: MaxRiskPerTrade must be in (0,1)", ports.ErrConfigurationError)
	}
	if cfg.MaxOpenTrades <= 0 {
		return nil, fmt.Errorf("%w: MaxOpenTrades must be positive", ports.ErrConfigurationError)
	}
	if cfg.MaxRiskPerSymbol <= 0 {
		return nil, fmt.Errorf("%w: MaxRiskPerSymbol must be positive", ports.ErrConfigurationError)
	}
	if cfg.MaxDailyDrawdown <= 0 || cfg.MaxDailyDrawdown >= 1 {
		return nil, fmt.Errorf("%w: MaxDailyDrawdown must be in (0,1)", ports.ErrConfigurationError)
	}
	return &Gate{cfg: cfg, logger: log}, nil
}

// Evaluate decides whether and at what size a signal may become an order.
// entry and stop are the planned entry and stop prices; requestedQty is an
// externally suggested size (0 means size from the risk budget).
func (g *Gate) Evaluate(ctx context.Context, signal *domain.TradeSignal, entry, stop, requestedQty float64, account domain.AccountState, openPositions []*domain.Position) Decision {
	// Daily drawdown kill switch. Persists until an explicit daily reset.
	if g.drawdownHalted(account) {
		d := g.reject(ctx, signal, fmt.Sprintf("Daily drawdown halt: %.2f exceeds %.2f of balance",
			account.DailyPnL, g.cfg.MaxDailyDrawdown))
		d.Halted = true
		return d
	}

	if len(openPositions) >= g.cfg.MaxOpenTrades {
		return g.reject(ctx, signal, fmt.Sprintf("Max open trades reached: %d/%d",
			len(openPositions), g.cfg.MaxOpenTrades))
	}

	// Risk already committed on this symbol.
	symbolRisk := 0.0
	for _, p := range openPositions {
		if p.Symbol == signal.Symbol {
			symbolRisk += math.Abs(p.EntryPrice-p.StopLoss) * p.Quantity
		}
	}
	symbolBudget := account.Balance * g.cfg.MaxRiskPerSymbol
	if symbolRisk >= symbolBudget {
		return g.reject(ctx, signal, fmt.Sprintf("Max risk per symbol reached for %s: %.2f/%.2f",
			signal.Symbol, symbolRisk, symbolBudget))
	}

	riskAmount := account.Balance * g.cfg.MaxRiskPerTrade
	priceDiff := math.Abs(entry - stop)

	var quantity float64
	if priceDiff == 0 {
		// Degenerate stop: size by notional instead of stop distance. The
		// resulting risk is unbounded; flagged in the reason so callers can
		// surface it.
		g.logger.Warn(ctx, "Stop equals entry, falling back to notional sizing", map[string]interface{}{
			"symbol": signal.Symbol,
			"entry":  entry,
		})
		quantity = riskAmount / entry
		return Decision{
			Accepted: true,
			Quantity: quantity,
			Reason:   "Trade allowed (degenerate stop, notional sizing)",
		}
	}

	quantity = riskAmount / priceDiff
	resized := false

	// An oversized external request is resized to the exact budget, not
	// rejected.
	if requestedQty > 0 {
		if tradeRisk := priceDiff * requestedQty; tradeRisk > riskAmount+1e-9 {
			resized = true
		} else {
			quantity = requestedQty
		}
	}

	// Appending this trade's risk must stay within the symbol budget.
	if symbolRisk+priceDiff*quantity > symbolBudget+1e-9 {
		remaining := symbolBudget - symbolRisk
		if remaining <= 0 {
			return g.reject(ctx, signal, fmt.Sprintf("Max risk per symbol reached for %s: %.2f/%.2f",
				signal.Symbol, symbolRisk, symbolBudget))
		}
		quantity = remaining / priceDiff
		resized = true
	}

	reason := "Trade allowed"
	if resized {
		reason = fmt.Sprintf("Trade allowed, resized to risk budget: quantity %.4f", quantity)
	}
	return Decision{Accepted: true, Quantity: quantity, Resized: resized, Reason: reason}
}

// drawdownHalted reports whether the daily loss exceeds the configured
// fraction of balance.
func (g *Gate) drawdownHalted(account domain.AccountState) bool {
	return account.DailyPnL < 0 &&
		math.Abs(account.DailyPnL) > account.Balance*g.cfg.MaxDailyDrawdown
}

func (g *Gate) reject(ctx context.Context, signal *domain.TradeSignal, reason string) Decision {
	g.logger.Info(ctx, "Signal rejected by risk gate", map[string]interface{}{
		"symbol": signal.Symbol,
		"reason": reason,
	})
	return Decision{Accepted: false, Reason: reason}
}

// Package ledger keeps the authoritative record of trades and account state.
// Every position opening and closing flows through here; the ledger owns the
// account balance and daily P&L, persists each mutation through its store,
// and derives the performance metrics.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"bluefinAgent/internal/domain"
	"bluefinAgent/internal/ports"
)

// Metrics summarizes realized performance over closed trades.
type Metrics struct {
	TotalTrades  int     `json:"total_trades"`
	WinningCount int     `json:"winning_trades"`
	LosingCount  int     `json:"losing_trades"`
	WinRate      float64 `json:"win_rate"`
	AvgProfit    float64 `json:"avg_profit"`
	AvgLoss      float64 `json:"avg_loss"`
	ProfitFactor float64 `json:"profit_factor"`
	TotalPnL     float64 `json:"total_pnl"`
	MaxDrawdown  float64 `json:"max_drawdown"`
}

// Ledger is safe for concurrent use; a single mutex serializes all account
// and trade mutation.
type Ledger struct {
	store  ports.TradeLedgerStore
	logger ports.Logger

	mu      sync.RWMutex
	trades  map[string]*domain.Trade
	account domain.AccountState
	day     time.Time // Start of the current accounting day (UTC)
}

// New creates a Ledger seeded with the initial balance and replays any
// persisted trades from the store.
func New(ctx context.Context, store ports.TradeLedgerStore, initialBalance float64, leverage int, log ports.Logger) (*Ledger, error) {
	if store == nil || log == nil {
		return nil, fmt.Errorf("store and logger are required for ledger")
	}
	if initialBalance <= 0 {
		return nil, fmt.Errorf("%w: initial balance must be positive", ports.ErrConfigurationError)
	}

	l := &Ledger{
		store:  store,
		logger: log,
		trades: make(map[string]*domain.Trade),
		account: domain.AccountState{
			Balance:  initialBalance,
			Leverage: leverage,
		},
		day: startOfDay(time.Now().UTC()),
	}
	if err := l.replay(ctx); err != nil {
		return nil, fmt.Errorf("ledger replay: %w", err)
	}
	return l, nil
}

// replay rebuilds in-memory state from the persisted trade history: realized
// P&L adjusts the balance, today's exits rebuild the daily P&L, and open
// trades count against the open-trade limit.
func (l *Ledger) replay(ctx context.Context) error {
	trades, err := l.store.LoadAll(ctx)
	if err != nil {
		return err
	}
	for _, tr := range trades {
		l.trades[tr.ID] = tr
		if tr.Status == domain.TradeStatusClosed {
			l.account.Balance += tr.PnL
			if !tr.ExitTime.Before(l.day) {
				l.account.DailyPnL += tr.PnL
			}
		} else {
			l.account.OpenTradeCount++
		}
	}
	if len(trades) > 0 {
		l.logger.Info(ctx, "replay: ledger restored", map[string]interface{}{
			"trades":   len(trades),
			"open":     l.account.OpenTradeCount,
			"balance":  l.account.Balance,
			"dailyPnL": l.account.DailyPnL,
		})
	}
	return nil
}

// Account returns a snapshot of the account state.
func (l *Ledger) Account() domain.AccountState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.account
}

// RecordEntry registers a newly opened trade.
func (l *Ledger) RecordEntry(ctx context.Context, trade *domain.Trade) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.trades[trade.ID]; exists {
		return fmt.Errorf("%w: trade %s", ports.ErrDuplicateEntry, trade.ID)
	}
	if trade.Status == "" {
		trade.Status = domain.TradeStatusOpen
	}
	l.trades[trade.ID] = trade
	l.account.OpenTradeCount++

	if err := l.store.Append(ctx, trade); err != nil {
		return fmt.Errorf("%w: append trade %s: %v", ports.ErrStoreFailed, trade.ID, err)
	}
	l.logger.Info(ctx, "recordEntry: trade opened", map[string]interface{}{
		"tradeID": trade.ID,
		"symbol":  trade.Symbol,
		"side":    string(trade.Side),
		"size":    trade.Quantity,
	})
	return nil
}

// RecordExit closes an open trade. Idempotent: a second exit for the same
// trade logs a warning and changes nothing.
func (l *Ledger) RecordExit(ctx context.Context, tradeID string, exitPrice float64, exitTime time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	trade, ok := l.trades[tradeID]
	if !ok {
		return fmt.Errorf("%w: %s", ports.ErrTradeNotFound, tradeID)
	}
	if trade.Status == domain.TradeStatusClosed {
		l.logger.Warn(ctx, "recordExit: trade already closed, ignoring", map[string]interface{}{
			"tradeID": tradeID,
		})
		return nil
	}

	l.closeLocked(ctx, trade, exitPrice, exitTime)
	l.account.OpenTradeCount--

	if err := l.store.Update(ctx, trade); err != nil {
		return fmt.Errorf("%w: update trade %s: %v", ports.ErrStoreFailed, tradeID, err)
	}
	return nil
}

// RecordPartialExit closes part of an open trade: the closed slice becomes
// its own closed record and the open trade shrinks by the same quantity.
func (l *Ledger) RecordPartialExit(ctx context.Context, tradeID string, quantity, exitPrice float64, exitTime time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	trade, ok := l.trades[tradeID]
	if !ok {
		return fmt.Errorf("%w: %s", ports.ErrTradeNotFound, tradeID)
	}
	if trade.Status == domain.TradeStatusClosed {
		l.logger.Warn(ctx, "recordPartialExit: trade already closed, ignoring", map[string]interface{}{
			"tradeID": tradeID,
		})
		return nil
	}
	if quantity <= 0 || quantity >= trade.Quantity {
		return fmt.Errorf("%w: partial quantity %.8f out of range for trade %s", ports.ErrValidation, quantity, tradeID)
	}

	slice := &domain.Trade{
		ID:         uuid.New().String(),
		Symbol:     trade.Symbol,
		Side:       trade.Side,
		EntryPrice: trade.EntryPrice,
		Quantity:   quantity,
		Leverage:   trade.Leverage,
		StopLoss:   trade.StopLoss,
		TakeProfit: trade.TakeProfit,
		EntryTime:  trade.EntryTime,
	}
	l.closeLocked(ctx, slice, exitPrice, exitTime)
	l.trades[slice.ID] = slice

	trade.Quantity -= quantity

	if err := l.store.Append(ctx, slice); err != nil {
		return fmt.Errorf("%w: append partial exit %s: %v", ports.ErrStoreFailed, slice.ID, err)
	}
	if err := l.store.Update(ctx, trade); err != nil {
		return fmt.Errorf("%w: update trade %s: %v", ports.ErrStoreFailed, tradeID, err)
	}
	return nil
}

// closeLocked finalizes a trade's exit and applies the realized P&L to the
// account. Caller holds l.mu.
func (l *Ledger) closeLocked(ctx context.Context, trade *domain.Trade, exitPrice float64, exitTime time.Time) {
	trade.ExitPrice = exitPrice
	trade.ExitTime = exitTime
	trade.Status = domain.TradeStatusClosed
	trade.PnL = trade.ComputePnL()
	if notional := trade.EntryPrice * trade.Quantity; notional > 0 {
		trade.PnLPercent = trade.PnL / notional * 100
	}

	l.account.Balance += trade.PnL
	if !exitTime.Before(l.day) {
		l.account.DailyPnL += trade.PnL
	}

	l.logger.Info(ctx, "recordExit: trade closed", map[string]interface{}{
		"tradeID":  trade.ID,
		"symbol":   trade.Symbol,
		"pnl":      trade.PnL,
		"balance":  l.account.Balance,
		"dailyPnL": l.account.DailyPnL,
	})
}

// ResetDaily zeroes the daily P&L, clearing a drawdown halt. Called by the
// engine at the UTC day rollover.
func (l *Ledger) ResetDaily(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Info(ctx, "resetDaily: daily P&L reset", map[string]interface{}{
		"previous": l.account.DailyPnL,
	})
	l.account.DailyPnL = 0
	l.day = startOfDay(time.Now().UTC())
}

// OpenTrades returns copies of all open trades.
func (l *Ledger) OpenTrades() []*domain.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*domain.Trade
	for _, tr := range l.trades {
		if tr.Status == domain.TradeStatusOpen {
			c := *tr
			out = append(out, &c)
		}
	}
	return out
}

// Metrics computes performance statistics over all closed trades. Max
// drawdown is the largest peak-to-trough fall of the running cumulative P&L,
// with trades ordered by exit time.
func (l *Ledger) Metrics() Metrics {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var closed []*domain.Trade
	for _, tr := range l.trades {
		if tr.Status == domain.TradeStatusClosed {
			closed = append(closed, tr)
		}
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i].ExitTime.Before(closed[j].ExitTime) })

	var m Metrics
	m.TotalTrades = len(closed)
	if m.TotalTrades == 0 {
		return m
	}

	var totalProfit, totalLoss, cumulative, peak float64
	for _, tr := range closed {
		m.TotalPnL += tr.PnL
		if tr.PnL > 0 {
			m.WinningCount++
			totalProfit += tr.PnL
		} else {
			m.LosingCount++
			totalLoss += tr.PnL
		}

		cumulative += tr.PnL
		if cumulative > peak {
			peak = cumulative
		}
		if dd := peak - cumulative; dd > m.MaxDrawdown {
			m.MaxDrawdown = dd
		}
	}

	m.WinRate = float64(m.WinningCount) / float64(m.TotalTrades)
	if m.WinningCount > 0 {
		m.AvgProfit = totalProfit / float64(m.WinningCount)
	}
	if m.LosingCount > 0 {
		m.AvgLoss = totalLoss / float64(m.LosingCount)
	}
	if totalLoss != 0 {
		m.ProfitFactor = totalProfit / -totalLoss
	} else if totalProfit > 0 {
		m.ProfitFactor = totalProfit
	}
	return m
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

package domain

import "time"

// Trade is a ledger record of a position entry and, once closed, its exit.
// Closed trades are append-only: never mutated after the exit is recorded.
type Trade struct {
	ID         string       `json:"id"`
	Symbol     string       `json:"symbol"`
	Side       PositionSide `json:"side"`
	EntryPrice float64      `json:"entry_price"`
	ExitPrice  float64      `json:"exit_price"`
	Quantity   float64      `json:"position_size"`
	Leverage   int          `json:"leverage"`
	StopLoss   float64      `json:"stop_loss"`
	TakeProfit float64      `json:"take_profit"`
	PnL        float64      `json:"pnl"`
	PnLPercent float64      `json:"pnl_percentage"`
	EntryTime  time.Time    `json:"entry_time"`
	ExitTime   time.Time    `json:"exit_time"`
	Status     TradeStatus  `json:"status"`
}

// ComputePnL recalculates the realized P&L from the stored fields.
// Long: (exit-entry)*size, short: (entry-exit)*size.
func (t *Trade) ComputePnL() float64 {
	if t.Side == Long {
		return (t.ExitPrice - t.EntryPrice) * t.Quantity
	}
	return (t.EntryPrice - t.ExitPrice) * t.Quantity
}

// AccountState is the single mutable account record. It is owned by the
// performance ledger; all writes are serialized behind the ledger's lock and
// readers receive copies.
type AccountState struct {
	Balance        float64
	DailyPnL       float64
	Leverage       int
	OpenTradeCount int
}

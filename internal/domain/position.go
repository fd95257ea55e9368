package domain

import "time"

// Position is the single open position for a symbol. At most one position
// exists per symbol; fills merge into, reduce, flip, or close it.
type Position struct {
	Symbol     string       // Venue symbol
	Side       PositionSide // LONG or SHORT
	Quantity   float64      // Current size
	EntryPrice float64      // Volume-weighted average entry
	Leverage   int          // Leverage in effect when opened
	StopLoss   float64      // Protective stop level (0 if none)
	TakeProfit float64      // Protective target level (0 if none)
	EntryTime  time.Time
	TradeID    string // Ledger record the position opens/closes against
}

// UnrealizedPnL computes the mark-to-market profit at the given price.
func (p *Position) UnrealizedPnL(price float64) float64 {
	if p.Side == Long {
		return (price - p.EntryPrice) * p.Quantity
	}
	return (p.EntryPrice - price) * p.Quantity
}

package domain

import (
	"encoding/json"
	"time"
)

// RawAlert is the wire form of an inbound alert payload before normalization.
// Unknown or missing fields are handled by the normalizer, never by the
// transport layer.
type RawAlert struct {
	Indicator  string  `json:"indicator"`
	Symbol     string  `json:"symbol"`
	Timeframe  string  `json:"timeframe"`
	SignalType string  `json:"signal_type"`
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Entry      float64 `json:"entry"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	Passphrase string  `json:"passphrase,omitempty"`
	Timestamp  string  `json:"timestamp,omitempty"`
}

// TradeSignal is the canonical, immutable form of an accepted alert.
type TradeSignal struct {
	Symbol     string    // Venue perpetual symbol (e.g., "SUI-PERP")
	Direction  OrderSide // BUY or SELL
	Timeframe  string    // Source chart timeframe (e.g., "5m")
	SignalType string    // Source signal classification (e.g., "GOLD_CIRCLE")
	Confidence float64   // Signal strength in [0,1]
	EntryHint  float64   // Suggested entry price (0 = use market)
	StopHint   float64   // Suggested stop price (0 = compute)
	TargetHint float64   // Suggested target price (0 = compute)
	ReceivedAt time.Time
	Raw        json.RawMessage // Original payload, kept for audit logging
}

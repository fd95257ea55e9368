package domain

import "time"

// Candle represents a single OHLCV data point, used for ATR-based stop
// distance calculations.
type Candle struct {
	OpenTime  time.Time
	CloseTime time.Time
	Symbol    string
	Interval  string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

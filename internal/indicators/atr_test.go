package indicators

import (
	"testing"
	"time"

	"bluefinAgent/internal/domain"
)

func candle(high, low, close float64) *domain.Candle {
	return &domain.Candle{
		OpenTime: time.Now(),
		High:     high,
		Low:      low,
		Close:    close,
	}
}

func TestATRConstantRange(t *testing.T) {
	// Every candle spans exactly 2.0 with closes inside the next range, so
	// the true range is constant and ATR must converge to it.
	var candles []*domain.Candle
	for i := 0; i < 20; i++ {
		candles = append(candles, candle(101, 99, 100))
	}

	atr, err := ATR(candles, 14)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := atr - 2.0; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected ATR 2.0, got %f", atr)
	}
}

func TestATRNotEnoughData(t *testing.T) {
	candles := []*domain.Candle{candle(101, 99, 100)}
	if _, err := ATR(candles, 14); err == nil {
		t.Error("expected error for insufficient data")
	}
}

func TestATRGapUp(t *testing.T) {
	// A gap above the previous close must widen the true range.
	var candles []*domain.Candle
	for i := 0; i < 15; i++ {
		candles = append(candles, candle(101, 99, 100))
	}
	candles = append(candles, candle(111, 109, 110)) // gap of 11 over prev close

	atr, err := ATR(candles, 14)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atr <= 2.0 {
		t.Errorf("expected ATR above 2.0 after gap, got %f", atr)
	}
}

func TestATRInvalidPeriod(t *testing.T) {
	if _, err := ATR(nil, 0); err == nil {
		t.Error("expected error for non-positive period")
	}
}

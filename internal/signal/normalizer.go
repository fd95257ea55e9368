package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"bluefinAgent/internal/domain"
	"bluefinAgent/internal/ports"
)

// Signal classification sets for VuManChu Cipher B alert types. Ambiguous
// types carry no direction of their own and defer to the alert's action
// field.
var (
	bullishSignals = map[string]bool{
		"GREEN_CIRCLE": true,
		"GOLD_CIRCLE":  true,
		"BULL_FLAG":    true,
		"BULL_DIAMOND": true,
	}
	bearishSignals = map[string]bool{
		"RED_CIRCLE":   true,
		"BEAR_FLAG":    true,
		"BEAR_DIAMOND": true,
	}
	ambiguousSignals = map[string]bool{
		"PURPLE_TRIANGLE": true,
		"LITTLE_CIRCLE":   true,
	}
)

// defaultConfidence is a static signal-type to score table, used when the
// alert does not carry its own confidence. There is no adaptation; the table
// reflects how reliable each alert type has historically been.
var defaultConfidence = map[string]float64{
	"GOLD_CIRCLE":     0.9,
	"GREEN_CIRCLE":    0.8,
	"RED_CIRCLE":      0.8,
	"BULL_FLAG":       0.7,
	"BEAR_FLAG":       0.7,
	"BULL_DIAMOND":    0.7,
	"BEAR_DIAMOND":    0.7,
	"PURPLE_TRIANGLE": 0.6,
	"LITTLE_CIRCLE":   0.5,
}

// quoteSuffixes are the quote-currency notations stripped during symbol
// normalization, longest first so "USDT" wins over "USD".
var quoteSuffixes = []string{"USDT", "USDC", "PERP", "USD"}

// Config holds normalizer parameters.
type Config struct {
	TradablePairs []string // Venue symbols orders may be placed on
	MinConfidence float64  // Signals scoring below this are rejected
}

// Normalizer converts arbitrary alert payloads into canonical TradeSignals.
type Normalizer struct {
	cfg      Config
	tradable map[string]bool
	logger   ports.Logger
}

// New creates a Normalizer.
func New(cfg Config, log ports.Logger) (*Normalizer, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required for signal normalizer")
	}
	if len(cfg.TradablePairs) == 0 {
		return nil, fmt.Errorf("%w: at least one tradable pair is required", ports.ErrConfigurationError)
	}
	tradable := make(map[string]bool, len(cfg.TradablePairs))
	for _, p := range cfg.TradablePairs {
		tradable[strings.ToUpper(p)] = true
	}
	return &Normalizer{cfg: cfg, tradable: tradable, logger: log}, nil
}

// Normalize validates and converts a raw alert into a TradeSignal.
// Returns ErrValidation for malformed payloads and ErrUnsupportedSignal for
// symbols outside the tradable set or unknown signal types.
func (n *Normalizer) Normalize(ctx context.Context, alert *domain.RawAlert) (*domain.TradeSignal, error) {
	if alert == nil {
		return nil, fmt.Errorf("%w: empty alert", ports.ErrValidation)
	}
	if alert.Symbol == "" {
		return nil, fmt.Errorf("%w: missing required field: symbol", ports.ErrValidation)
	}
	if alert.SignalType == "" {
		return nil, fmt.Errorf("%w: missing required field: signal_type", ports.ErrValidation)
	}

	direction, err := n.classify(alert)
	if err != nil {
		return nil, err
	}

	symbol := NormalizeSymbol(alert.Symbol)
	if !n.tradable[symbol] {
		return nil, fmt.Errorf("%w: %s is not in the tradable set", ports.ErrUnsupportedSignal, symbol)
	}

	confidence := alert.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = defaultConfidence[strings.ToUpper(alert.SignalType)]
	}
	if confidence < n.cfg.MinConfidence {
		return nil, fmt.Errorf("%w: confidence %.2f below minimum %.2f", ports.ErrUnsupportedSignal, confidence, n.cfg.MinConfidence)
	}

	raw, _ := json.Marshal(alert)
	sig := &domain.TradeSignal{
		Symbol:     symbol,
		Direction:  direction,
		Timeframe:  alert.Timeframe,
		SignalType: strings.ToUpper(alert.SignalType),
		Confidence: confidence,
		EntryHint:  alert.Entry,
		StopHint:   alert.StopLoss,
		TargetHint: alert.TakeProfit,
		ReceivedAt: time.Now().UTC(),
		Raw:        raw,
	}

	n.logger.Info(ctx, "Signal normalized", map[string]interface{}{
		"symbol":     sig.Symbol,
		"direction":  sig.Direction,
		"signalType": sig.SignalType,
		"confidence": sig.Confidence,
		"timeframe":  sig.Timeframe,
	})
	return sig, nil
}

// classify resolves the trade direction from the signal type, falling back to
// the explicit action field for ambiguous types.
func (n *Normalizer) classify(alert *domain.RawAlert) (domain.OrderSide, error) {
	st := strings.ToUpper(alert.SignalType)
	switch {
	case bullishSignals[st]:
		return domain.Buy, nil
	case bearishSignals[st]:
		return domain.Sell, nil
	case ambiguousSignals[st]:
		switch strings.ToUpper(alert.Action) {
		case "BUY":
			return domain.Buy, nil
		case "SELL":
			return domain.Sell, nil
		default:
			return "", fmt.Errorf("%w: ambiguous signal type %s requires an action field", ports.ErrValidation, st)
		}
	default:
		return "", fmt.Errorf("%w: unrecognized signal type %s", ports.ErrUnsupportedSignal, st)
	}
}

// NormalizeSymbol converts exchange-agnostic notation to the venue's
// perpetual-contract format: "SUI/USD" or "BINANCE:SUIUSDT" become
// "SUI-PERP". Symbols already in venue format pass through unchanged.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))

	// "EXCHANGE:BASEQUOTE" - drop the exchange prefix.
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	// "BASE/QUOTE" - keep the base.
	if i := strings.Index(s, "/"); i >= 0 {
		s = s[:i]
	}

	if strings.HasSuffix(s, "-PERP") {
		return s
	}

	for _, suffix := range quoteSuffixes {
		if strings.HasSuffix(s, suffix) && len(s) > len(suffix) {
			s = strings.TrimSuffix(s, suffix)
			break
		}
	}
	s = strings.TrimSuffix(s, "-")

	return s + "-PERP"
}

package planner

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bluefinAgent/internal/adapters/logger"
	"bluefinAgent/internal/domain"
)

func newTestPlanner(t *testing.T, cfg Config) *Planner {
	t.Helper()
	p, err := New(cfg, logger.NewStdLogger(logger.LevelError))
	require.NoError(t, err)
	return p
}

func buySignal() *domain.TradeSignal {
	return &domain.TradeSignal{
		Symbol:     "SUI-PERP",
		Direction:  domain.Buy,
		SignalType: "GREEN_CIRCLE",
		Confidence: 0.75,
	}
}

func TestPlanPricesFromHints(t *testing.T) {
	p := newTestPlanner(t, Config{StopLossPct: 0.05, TakeProfitRR: 2})
	sig := buySignal()
	sig.EntryHint = 1.50
	sig.StopHint = 1.425
	sig.TargetHint = 1.70

	prices, err := p.PlanPrices(context.Background(), sig, 1.48, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.50, prices.Entry)
	assert.Equal(t, 1.425, prices.Stop)
	assert.Equal(t, 1.70, prices.Target)
}

func TestPlanPricesPercentageStop(t *testing.T) {
	p := newTestPlanner(t, Config{StopLossPct: 0.05, TakeProfitRR: 2})

	prices, err := p.PlanPrices(context.Background(), buySignal(), 2.00, nil)
	require.NoError(t, err)
	assert.Equal(t, 2.00, prices.Entry)
	assert.InDelta(t, 1.90, prices.Stop, 1e-9)
	// Target = entry + riskDistance * RR = 2.00 + 0.10*2
	assert.InDelta(t, 2.20, prices.Target, 1e-9)
}

func TestPlanPricesSellDirection(t *testing.T) {
	p := newTestPlanner(t, Config{StopLossPct: 0.05, TakeProfitRR: 2})
	sig := buySignal()
	sig.Direction = domain.Sell

	prices, err := p.PlanPrices(context.Background(), sig, 2.00, nil)
	require.NoError(t, err)
	assert.Greater(t, prices.Stop, prices.Entry)
	assert.Less(t, prices.Target, prices.Entry)
}

func TestPlanPricesATRStop(t *testing.T) {
	p := newTestPlanner(t, Config{StopLossPct: 0.05, TakeProfitRR: 2, ATRPeriod: 3, ATRMultiplier: 1.5})

	// Constant true range of 1.0 per candle, so ATR = 1.0.
	var candles []*domain.Candle
	ts := time.Now().Add(-time.Hour)
	for i := 0; i < 10; i++ {
		candles = append(candles, &domain.Candle{
			OpenTime: ts.Add(time.Duration(i) * time.Minute),
			Open:     100, High: 100.5, Low: 99.5, Close: 100,
		})
	}

	prices, err := p.PlanPrices(context.Background(), buySignal(), 100, candles)
	require.NoError(t, err)
	assert.InDelta(t, 100-1.0*1.5, prices.Stop, 1e-9)
}

func TestPlanPricesRejectsInvertedStop(t *testing.T) {
	p := newTestPlanner(t, Config{StopLossPct: 0.05, TakeProfitRR: 2})
	sig := buySignal()
	sig.EntryHint = 1.50
	sig.StopHint = 1.60 // above entry for a buy

	_, err := p.PlanPrices(context.Background(), sig, 0, nil)
	assert.Error(t, err)
}

func TestPlanPricesNoPriceAvailable(t *testing.T) {
	p := newTestPlanner(t, Config{StopLossPct: 0.05, TakeProfitRR: 2})

	_, err := p.PlanPrices(context.Background(), buySignal(), 0, nil)
	assert.Error(t, err)
}

func TestBuildAssemblesLegs(t *testing.T) {
	p := newTestPlanner(t, Config{StopLossPct: 0.05, TakeProfitRR: 2, Leverage: 5})
	sig := buySignal()
	prices := Prices{Entry: 1.50, Stop: 1.425, Target: 1.65}

	plan, err := p.Build(context.Background(), sig, prices, 2000, nil)
	require.NoError(t, err)

	assert.Equal(t, domain.Buy, plan.Entry.Side)
	assert.Equal(t, domain.OrderTypeLimit, plan.Entry.Type)
	assert.Equal(t, 1.50, plan.Entry.Price)
	assert.Equal(t, 5, plan.Entry.Leverage)
	assert.False(t, plan.Entry.ReduceOnly)
	assert.NotEmpty(t, plan.Entry.ClientOrderID)

	assert.Equal(t, domain.Sell, plan.Stop.Side)
	assert.Equal(t, domain.OrderTypeStopMarket, plan.Stop.Type)
	assert.True(t, plan.Stop.ReduceOnly)
	assert.Equal(t, 1.425, plan.Stop.Price)

	assert.Equal(t, domain.Sell, plan.Target.Side)
	assert.Equal(t, domain.OrderTypeLimit, plan.Target.Type)
	assert.True(t, plan.Target.ReduceOnly)
	assert.Equal(t, 1.65, plan.Target.Price)

	for _, q := range []float64{plan.Entry.Quantity, plan.Stop.Quantity, plan.Target.Quantity} {
		assert.Equal(t, 2000.0, q)
	}
	assert.False(t, plan.Doubled)
}

func TestBuildDoublesThroughOppositePosition(t *testing.T) {
	p := newTestPlanner(t, Config{StopLossPct: 0.05, TakeProfitRR: 2, DoubleOnOpposite: true})
	sig := buySignal()
	existing := &domain.Position{Symbol: "SUI-PERP", Side: domain.Short, Quantity: 1500, EntryPrice: 1.55}

	plan, err := p.Build(context.Background(), sig, Prices{Entry: 1.50, Stop: 1.425, Target: 1.65}, 2000, existing)
	require.NoError(t, err)
	assert.True(t, plan.Doubled)
	assert.InDelta(t, 3500, plan.Entry.Quantity, 1e-9)
}

func TestBuildNoDoublingWhenDisabled(t *testing.T) {
	p := newTestPlanner(t, Config{StopLossPct: 0.05, TakeProfitRR: 2, DoubleOnOpposite: false})
	sig := buySignal()
	existing := &domain.Position{Symbol: "SUI-PERP", Side: domain.Short, Quantity: 1500, EntryPrice: 1.55}

	plan, err := p.Build(context.Background(), sig, Prices{Entry: 1.50, Stop: 1.425, Target: 1.65}, 2000, existing)
	require.NoError(t, err)
	assert.False(t, plan.Doubled)
	assert.Equal(t, 2000.0, plan.Entry.Quantity)
}

func TestBuildSameSidePositionNotDoubled(t *testing.T) {
	p := newTestPlanner(t, Config{StopLossPct: 0.05, TakeProfitRR: 2, DoubleOnOpposite: true})
	sig := buySignal()
	existing := &domain.Position{Symbol: "SUI-PERP", Side: domain.Long, Quantity: 1500, EntryPrice: 1.45}

	plan, err := p.Build(context.Background(), sig, Prices{Entry: 1.50, Stop: 1.425, Target: 1.65}, 2000, existing)
	require.NoError(t, err)
	assert.False(t, plan.Doubled)
}

func TestBuildRejectsNonPositiveQuantity(t *testing.T) {
	p := newTestPlanner(t, Config{StopLossPct: 0.05, TakeProfitRR: 2})

	_, err := p.Build(context.Background(), buySignal(), Prices{Entry: 1.5, Stop: 1.4, Target: 1.7}, 0, nil)
	assert.Error(t, err)
	_, err = p.Build(context.Background(), buySignal(), Prices{Entry: 1.5, Stop: 1.4, Target: 1.7}, math.Inf(-1), nil)
	assert.Error(t, err)
}

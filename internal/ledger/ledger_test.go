package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bluefinAgent/internal/adapters/logger"
	"bluefinAgent/internal/domain"
)

// memStore is an in-memory TradeLedgerStore for ledger tests.
type memStore struct {
	mu     sync.Mutex
	trades []*domain.Trade
}

func (s *memStore) Append(ctx context.Context, trade *domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *trade
	s.trades = append(s.trades, &c)
	return nil
}

func (s *memStore) Update(ctx context.Context, trade *domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, tr := range s.trades {
		if tr.ID == trade.ID {
			c := *trade
			s.trades[i] = &c
			return nil
		}
	}
	return nil
}

func (s *memStore) LoadAll(ctx context.Context) ([]*domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Trade, len(s.trades))
	for i, tr := range s.trades {
		c := *tr
		out[i] = &c
	}
	return out, nil
}

func (s *memStore) Close() error { return nil }

func newTestLedger(t *testing.T, store *memStore) *Ledger {
	t.Helper()
	l, err := New(context.Background(), store, 10000, 5, logger.NewStdLogger(logger.LevelError))
	require.NoError(t, err)
	return l
}

func openTrade(id string, side domain.PositionSide, entry, qty float64) *domain.Trade {
	return &domain.Trade{
		ID:         id,
		Symbol:     "SUI-PERP",
		Side:       side,
		EntryPrice: entry,
		Quantity:   qty,
		EntryTime:  time.Now(),
		Status:     domain.TradeStatusOpen,
	}
}

func TestRecordEntryAndExit(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	l := newTestLedger(t, store)

	require.NoError(t, l.RecordEntry(ctx, openTrade("t1", domain.Long, 1.50, 1000)))
	assert.Equal(t, 1, l.Account().OpenTradeCount)

	require.NoError(t, l.RecordExit(ctx, "t1", 1.60, time.Now()))
	acct := l.Account()
	assert.Equal(t, 0, acct.OpenTradeCount)
	// Long P&L: (1.60-1.50)*1000 = 100
	assert.InDelta(t, 10100, acct.Balance, 1e-9)
	assert.InDelta(t, 100, acct.DailyPnL, 1e-9)
}

func TestRecordExitShortSide(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, &memStore{})

	require.NoError(t, l.RecordEntry(ctx, openTrade("t1", domain.Short, 2.00, 500)))
	require.NoError(t, l.RecordExit(ctx, "t1", 1.80, time.Now()))
	// Short P&L: (2.00-1.80)*500 = 100
	assert.InDelta(t, 10100, l.Account().Balance, 1e-9)
}

func TestRecordExitIdempotent(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, &memStore{})

	require.NoError(t, l.RecordEntry(ctx, openTrade("t1", domain.Long, 1.50, 1000)))
	require.NoError(t, l.RecordExit(ctx, "t1", 1.60, time.Now()))
	balance := l.Account().Balance

	// Second exit must not double-count.
	require.NoError(t, l.RecordExit(ctx, "t1", 1.70, time.Now()))
	assert.Equal(t, balance, l.Account().Balance)
	assert.Equal(t, 1, l.Metrics().TotalTrades)
}

func TestRecordEntryDuplicateRejected(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, &memStore{})

	require.NoError(t, l.RecordEntry(ctx, openTrade("t1", domain.Long, 1.50, 1000)))
	err := l.RecordEntry(ctx, openTrade("t1", domain.Long, 1.55, 500))
	assert.Error(t, err)
}

func TestRecordExitUnknownTrade(t *testing.T) {
	l := newTestLedger(t, &memStore{})
	err := l.RecordExit(context.Background(), "missing", 1.0, time.Now())
	assert.Error(t, err)
}

func TestRecordPartialExit(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, &memStore{})

	require.NoError(t, l.RecordEntry(ctx, openTrade("t1", domain.Long, 1.50, 1000)))
	require.NoError(t, l.RecordPartialExit(ctx, "t1", 400, 1.60, time.Now()))

	// Closed slice realizes (1.60-1.50)*400 = 40; the rest stays open.
	acct := l.Account()
	assert.InDelta(t, 10040, acct.Balance, 1e-9)
	assert.Equal(t, 1, acct.OpenTradeCount)

	open := l.OpenTrades()
	require.Len(t, open, 1)
	assert.InDelta(t, 600, open[0].Quantity, 1e-9)

	m := l.Metrics()
	assert.Equal(t, 1, m.TotalTrades)
	assert.InDelta(t, 40, m.TotalPnL, 1e-9)
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, &memStore{})
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	// Three closed trades: +100, -50, +30.
	fills := []struct {
		id    string
		entry float64
		exit  float64
		qty   float64
	}{
		{"t1", 1.50, 1.60, 1000}, // +100
		{"t2", 1.60, 1.55, 1000}, // -50
		{"t3", 1.55, 1.58, 1000}, // +30
	}
	for i, f := range fills {
		require.NoError(t, l.RecordEntry(ctx, openTrade(f.id, domain.Long, f.entry, f.qty)))
		require.NoError(t, l.RecordExit(ctx, f.id, f.exit, base.Add(time.Duration(i)*time.Minute)))
	}

	m := l.Metrics()
	assert.Equal(t, 3, m.TotalTrades)
	assert.Equal(t, 2, m.WinningCount)
	assert.Equal(t, 1, m.LosingCount)
	assert.InDelta(t, 2.0/3.0, m.WinRate, 1e-9)
	assert.InDelta(t, 65, m.AvgProfit, 1e-9)   // (100+30)/2
	assert.InDelta(t, -50, m.AvgLoss, 1e-9)
	assert.InDelta(t, 130.0/50.0, m.ProfitFactor, 1e-9)
	assert.InDelta(t, 80, m.TotalPnL, 1e-9)
	// Cumulative path 100 -> 50 -> 80; peak 100, trough 50.
	assert.InDelta(t, 50, m.MaxDrawdown, 1e-9)
}

func TestMetricsEmpty(t *testing.T) {
	l := newTestLedger(t, &memStore{})
	m := l.Metrics()
	assert.Equal(t, 0, m.TotalTrades)
	assert.Equal(t, 0.0, m.WinRate)
}

func TestResetDaily(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, &memStore{})

	require.NoError(t, l.RecordEntry(ctx, openTrade("t1", domain.Long, 1.50, 1000)))
	require.NoError(t, l.RecordExit(ctx, "t1", 1.40, time.Now()))
	assert.InDelta(t, -100, l.Account().DailyPnL, 1e-9)

	l.ResetDaily(ctx)
	acct := l.Account()
	assert.Equal(t, 0.0, acct.DailyPnL)
	// Balance keeps the realized loss.
	assert.InDelta(t, 9900, acct.Balance, 1e-9)
}

func TestReplayRestoresState(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	l := newTestLedger(t, store)

	require.NoError(t, l.RecordEntry(ctx, openTrade("t1", domain.Long, 1.50, 1000)))
	require.NoError(t, l.RecordExit(ctx, "t1", 1.60, time.Now()))
	require.NoError(t, l.RecordEntry(ctx, openTrade("t2", domain.Short, 2.00, 500)))

	// A fresh ledger over the same store sees the same world.
	restored := newTestLedger(t, store)
	acct := restored.Account()
	assert.InDelta(t, 10100, acct.Balance, 1e-9)
	assert.Equal(t, 1, acct.OpenTradeCount)
	assert.Equal(t, 1, restored.Metrics().TotalTrades)
}

package jsonledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bluefinAgent/internal/adapters/logger"
	"bluefinAgent/internal/domain"
)

func newTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := NewStore(Config{Path: path, Logger: logger.NewStdLogger(logger.LevelError)})
	require.NoError(t, err)
	return s
}

func sampleTrade(id string) *domain.Trade {
	return &domain.Trade{
		ID:         id,
		Symbol:     "SUI-PERP",
		Side:       domain.Long,
		EntryPrice: 1.50,
		Quantity:   1000,
		EntryTime:  time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		Status:     domain.TradeStatusOpen,
	}
}

func TestAppendAndLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trades.json")
	s := newTestStore(t, path)

	require.NoError(t, s.Append(ctx, sampleTrade("t1")))
	require.NoError(t, s.Append(ctx, sampleTrade("t2")))

	trades, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "t1", trades[0].ID)
	assert.Equal(t, "t2", trades[1].ID)
}

func TestAppendDuplicateRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, filepath.Join(t.TempDir(), "trades.json"))

	require.NoError(t, s.Append(ctx, sampleTrade("t1")))
	assert.Error(t, s.Append(ctx, sampleTrade("t1")))
}

func TestUpdateClosesTrade(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trades.json")
	s := newTestStore(t, path)

	tr := sampleTrade("t1")
	require.NoError(t, s.Append(ctx, tr))

	tr.Status = domain.TradeStatusClosed
	tr.ExitPrice = 1.60
	tr.PnL = 100
	require.NoError(t, s.Update(ctx, tr))

	trades, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.TradeStatusClosed, trades[0].Status)
	assert.Equal(t, 1.60, trades[0].ExitPrice)
}

func TestUpdateUnknownTrade(t *testing.T) {
	s := newTestStore(t, filepath.Join(t.TempDir(), "trades.json"))
	assert.Error(t, s.Update(context.Background(), sampleTrade("missing")))
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trades.json")

	s := newTestStore(t, path)
	require.NoError(t, s.Append(ctx, sampleTrade("t1")))
	require.NoError(t, s.Close())

	reopened := newTestStore(t, path)
	trades, err := reopened.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "t1", trades[0].ID)
	assert.Equal(t, 1.50, trades[0].EntryPrice)
}

func TestNoTempFileLeftBehind(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "trades.json")
	s := newTestStore(t, path)

	require.NoError(t, s.Append(ctx, sampleTrade("t1")))
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

// Package jsonledger persists the trade ledger as a JSON array on disk.
// Suitable for single-process deployments; the SQLite store is the
// alternative for anything that needs concurrent readers.
package jsonledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"bluefinAgent/internal/domain"
	"bluefinAgent/internal/ports"
)

// Config holds configuration for the JSON ledger store.
type Config struct {
	Path   string
	Logger ports.Logger
}

// Store implements ports.TradeLedgerStore over a single JSON file. Every
// mutation rewrites the file through a temp-file rename, so a crash never
// leaves a half-written ledger behind.
type Store struct {
	path   string
	logger ports.Logger

	mu     sync.Mutex
	trades []*domain.Trade
	index  map[string]int // Trade ID to slice position
}

// NewStore opens or creates the ledger file at cfg.Path.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for JSON ledger store")
	}
	path := cfg.Path
	if path == "" {
		path = "./data/trades.json"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(path), err)
	}

	s := &Store{path: path, logger: cfg.Logger, index: make(map[string]int)}
	if err := s.load(); err != nil {
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "JSON trade ledger opened", map[string]interface{}{
		"path":   path,
		"trades": len(s.trades),
	})
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read ledger file: %v", ports.ErrStoreFailed, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &s.trades); err != nil {
		return fmt.Errorf("%w: parse ledger file '%s': %v", ports.ErrStoreFailed, s.path, err)
	}
	for i, tr := range s.trades {
		s.index[tr.ID] = i
	}
	return nil
}

// flush writes the full trade list atomically. Caller holds s.mu.
func (s *Store) flush() error {
	data, err := json.MarshalIndent(s.trades, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal trades: %v", ports.ErrStoreFailed, err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("%w: write temp ledger: %v", ports.ErrStoreFailed, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("%w: replace ledger file: %v", ports.ErrStoreFailed, err)
	}
	return nil
}

// Append saves a new trade record.
func (s *Store) Append(ctx context.Context, trade *domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.index[trade.ID]; exists {
		return fmt.Errorf("%w: trade %s already stored", ports.ErrDuplicateEntry, trade.ID)
	}
	c := *trade
	s.trades = append(s.trades, &c)
	s.index[trade.ID] = len(s.trades) - 1
	return s.flush()
}

// Update rewrites an existing record, keyed by trade ID.
func (s *Store) Update(ctx context.Context, trade *domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[trade.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ports.ErrTradeNotFound, trade.ID)
	}
	c := *trade
	s.trades[i] = &c
	return s.flush()
}

// LoadAll returns every stored trade, oldest first.
func (s *Store) LoadAll(ctx context.Context) ([]*domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Trade, len(s.trades))
	for i, tr := range s.trades {
		c := *tr
		out[i] = &c
	}
	return out, nil
}

// Close is a no-op: every mutation is flushed immediately.
func (s *Store) Close() error { return nil }

package ports

import (
	"context"

	"bluefinAgent/internal/domain"
)

// TradeLedgerStore persists the trade ledger. The ledger writes after every
// entry/exit and replays the full history at startup.
type TradeLedgerStore interface {
	// Append saves a new trade record.
	Append(ctx context.Context, trade *domain.Trade) error
	// Update rewrites an existing record, keyed by trade ID. Used when an
	// open trade is closed; closed records are never updated again.
	Update(ctx context.Context, trade *domain.Trade) error
	// LoadAll returns every stored trade, oldest first.
	LoadAll(ctx context.Context) ([]*domain.Trade, error)
	// Close releases the underlying resources.
	Close() error
}

// Package sqlite persists the trade ledger in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"bluefinAgent/internal/domain"
	"bluefinAgent/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.TradeLedgerStore using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/trades.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from
	// limiting connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite trade ledger opened", map[string]interface{}{"path": dbPath})

	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL DEFAULT 0,
		quantity REAL NOT NULL,
		leverage INTEGER NOT NULL DEFAULT 0,
		stop_loss REAL NOT NULL DEFAULT 0,
		take_profit REAL NOT NULL DEFAULT 0,
		pnl REAL NOT NULL DEFAULT 0,
		pnl_percentage REAL NOT NULL DEFAULT 0,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP DEFAULT NULL,
		status TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol_status ON trades (symbol, status);
	CREATE INDEX IF NOT EXISTS idx_trades_entry_time ON trades (entry_time);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("schema creation failed: %w", err)
	}
	return nil
}

// Append saves a new trade record.
func (r *Repository) Append(ctx context.Context, trade *domain.Trade) error {
	const query = `
	INSERT INTO trades (id, symbol, side, entry_price, exit_price, quantity,
		leverage, stop_loss, take_profit, pnl, pnl_percentage, entry_time, exit_time, status)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		trade.ID, trade.Symbol, string(trade.Side), trade.EntryPrice, trade.ExitPrice,
		trade.Quantity, trade.Leverage, trade.StopLoss, trade.TakeProfit,
		trade.PnL, trade.PnLPercent, trade.EntryTime, nullableTime(trade.ExitTime), string(trade.Status))
	if err != nil {
		return fmt.Errorf("%w: insert trade %s: %v", ports.ErrStoreFailed, trade.ID, err)
	}
	return nil
}

// Update rewrites an existing record, keyed by trade ID.
func (r *Repository) Update(ctx context.Context, trade *domain.Trade) error {
	const query = `
	UPDATE trades SET exit_price = ?, quantity = ?, stop_loss = ?, take_profit = ?,
		pnl = ?, pnl_percentage = ?, exit_time = ?, status = ?
	WHERE id = ?`

	res, err := r.db.ExecContext(ctx, query,
		trade.ExitPrice, trade.Quantity, trade.StopLoss, trade.TakeProfit,
		trade.PnL, trade.PnLPercent, nullableTime(trade.ExitTime), string(trade.Status), trade.ID)
	if err != nil {
		return fmt.Errorf("%w: update trade %s: %v", ports.ErrStoreFailed, trade.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected for trade %s: %v", ports.ErrStoreFailed, trade.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ports.ErrTradeNotFound, trade.ID)
	}
	return nil
}

// LoadAll returns every stored trade, oldest first.
func (r *Repository) LoadAll(ctx context.Context) ([]*domain.Trade, error) {
	const query = `
	SELECT id, symbol, side, entry_price, exit_price, quantity, leverage,
		stop_loss, take_profit, pnl, pnl_percentage, entry_time, exit_time, status
	FROM trades ORDER BY entry_time ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: query trades: %v", ports.ErrStoreFailed, err)
	}
	defer rows.Close()

	var trades []*domain.Trade
	for rows.Next() {
		var tr domain.Trade
		var side, status string
		var exitTime sql.NullTime
		if err := rows.Scan(&tr.ID, &tr.Symbol, &side, &tr.EntryPrice, &tr.ExitPrice,
			&tr.Quantity, &tr.Leverage, &tr.StopLoss, &tr.TakeProfit,
			&tr.PnL, &tr.PnLPercent, &tr.EntryTime, &exitTime, &status); err != nil {
			return nil, fmt.Errorf("%w: scan trade row: %v", ports.ErrStoreFailed, err)
		}
		tr.Side = domain.PositionSide(side)
		tr.Status = domain.TradeStatus(status)
		if exitTime.Valid {
			tr.ExitTime = exitTime.Time
		}
		trades = append(trades, &tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate trade rows: %v", ports.ErrStoreFailed, err)
	}
	return trades, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

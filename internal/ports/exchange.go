package ports

import (
	"context"

	"bluefinAgent/internal/domain"
)

// AccountInfo is the exchange's view of the trading account.
type AccountInfo struct {
	Balance         float64            // Wallet balance in quote currency
	AvailableMargin float64            // Margin available for new orders
	Positions       []*domain.Position // Open positions reported by the venue
}

// OrderRequest carries everything needed to submit one order.
type OrderRequest struct {
	Symbol        string
	Side          domain.OrderSide
	Quantity      float64
	Price         float64 // 0 = market order
	Type          domain.OrderType
	ReduceOnly    bool
	TimeInForce   string // e.g., "GTC"
	Leverage      int    // 0 = leave venue setting untouched
	ClientOrderID string // Becomes the order hash; generated if empty
}

// ExchangeClient defines the capability set every venue backend implements.
// Concrete variants (Bluefin, Binance futures, the offline mock) are selected
// at construction time; the core never inspects which one it holds.
type ExchangeClient interface {
	// GetAccountInfo retrieves balance, available margin and open positions.
	GetAccountInfo(ctx context.Context) (*AccountInfo, error)

	// GetPositions retrieves the currently open positions.
	GetPositions(ctx context.Context) ([]*domain.Position, error)

	// PlaceOrder submits an order and returns the locally-tracked Order in
	// status NEW. Fails with an ErrExchange* sentinel on transport/auth
	// failure.
	PlaceOrder(ctx context.Context, req OrderRequest) (*domain.Order, error)

	// CancelOrder cancels an open order by its hash.
	CancelOrder(ctx context.Context, orderHash string) error

	// ClosePosition closes the position on symbol, fully when quantity is 0.
	ClosePosition(ctx context.Context, symbol string, quantity float64) (*domain.Order, error)

	// SetLeverage sets the leverage for a symbol.
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// GetMarketPrice retrieves the current market price for a symbol.
	GetMarketPrice(ctx context.Context, symbol string) (float64, error)

	// GetCandles retrieves recent OHLCV data, newest last.
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Candle, error)

	// StreamOrderEvents starts the exchange event stream. Events for the same
	// order hash are delivered in order. Returns channels to observe and stop
	// the stream, mirroring the lifetime of the underlying connection.
	StreamOrderEvents(ctx context.Context, handler func(ev *domain.OrderEvent), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error)

	// Ping checks connectivity to the venue.
	Ping(ctx context.Context) error
}

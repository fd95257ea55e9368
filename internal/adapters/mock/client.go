// Package mock provides an offline exchange backend. It fills orders
// immediately at their limit price, keeps a local position book, and
// synthesizes the ack/settlement events the lifecycle tracker expects.
// Used when no venue credentials are configured and by the engine tests.
package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"bluefinAgent/internal/domain"
	"bluefinAgent/internal/ports"
)

// Config holds configuration for the mock exchange.
type Config struct {
	InitialBalance float64
	Logger         ports.Logger
	// AutoFill makes every placed order ack and settle immediately.
	// Disable to drive the event stream by hand from tests.
	AutoFill bool
}

// Client implements ports.ExchangeClient entirely in memory.
type Client struct {
	cfg    Config
	logger ports.Logger

	mu        sync.Mutex
	balance   float64
	orders    map[string]*domain.Order
	positions map[string]*domain.Position
	ticks     map[string]int
	events    chan *domain.OrderEvent

	streamOnce sync.Once
	doneCh     chan struct{}
	stopCh     chan struct{}
}

// NewClient creates a mock exchange client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for mock exchange")
	}
	if cfg.InitialBalance <= 0 {
		cfg.InitialBalance = 10000
	}
	return &Client{
		cfg:       cfg,
		logger:    cfg.Logger,
		balance:   cfg.InitialBalance,
		orders:    make(map[string]*domain.Order),
		positions: make(map[string]*domain.Position),
		ticks:     make(map[string]int),
		events:    make(chan *domain.OrderEvent, 256),
		doneCh:    make(chan struct{}),
		stopCh:    make(chan struct{}),
	}, nil
}

// GetAccountInfo retrieves balance and open positions.
func (c *Client) GetAccountInfo(ctx context.Context) (*ports.AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := &ports.AccountInfo{Balance: c.balance, AvailableMargin: c.balance}
	for _, p := range c.positions {
		cp := *p
		info.Positions = append(info.Positions, &cp)
	}
	return info, nil
}

// GetPositions retrieves the currently open positions.
func (c *Client) GetPositions(ctx context.Context) ([]*domain.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*domain.Position
	for _, p := range c.positions {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

// PlaceOrder accepts the order and, when auto-fill is on, emits an ack and a
// full settlement at the order's limit price.
func (c *Client) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*domain.Order, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: non-positive quantity", ports.ErrOrderPlacementFailed)
	}
	hash := req.ClientOrderID
	if hash == "" {
		hash = uuid.New().String()
	}
	price := req.Price
	if price <= 0 {
		p, _ := c.GetMarketPrice(ctx, req.Symbol)
		price = p
	}

	order := &domain.Order{
		Hash:       hash,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Quantity:   req.Quantity,
		Price:      req.Price,
		Type:       req.Type,
		ReduceOnly: req.ReduceOnly,
		Status:     domain.OrderStatusNew,
		CreatedAt:  time.Now(),
	}

	c.mu.Lock()
	c.orders[hash] = order
	c.mu.Unlock()

	c.logger.Debug(ctx, "mock: order placed", map[string]interface{}{
		"hash":   hash,
		"symbol": req.Symbol,
		"side":   string(req.Side),
		"qty":    req.Quantity,
	})

	// Protective legs rest on the book in the mock world; only the entry
	// fills immediately.
	if c.cfg.AutoFill && !req.ReduceOnly {
		c.PushEvent(&domain.OrderEvent{
			Type: domain.EventOrderAck, OrderHash: hash, Symbol: req.Symbol, Timestamp: time.Now(),
		})
		c.PushEvent(&domain.OrderEvent{
			Type: domain.EventOrderSettlement, OrderHash: hash, Symbol: req.Symbol,
			FillPrice: price, FillQuantity: req.Quantity, Maker: true, Timestamp: time.Now(),
		})
		c.applyFill(req, price)
	} else if c.cfg.AutoFill {
		c.PushEvent(&domain.OrderEvent{
			Type: domain.EventOrderAck, OrderHash: hash, Symbol: req.Symbol, Timestamp: time.Now(),
		})
	}
	return order, nil
}

func (c *Client) applyFill(req ports.OrderRequest, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	side := domain.SideForPosition(req.Side)
	pos, ok := c.positions[req.Symbol]
	switch {
	case !ok:
		c.positions[req.Symbol] = &domain.Position{
			Symbol: req.Symbol, Side: side, Quantity: req.Quantity,
			EntryPrice: price, EntryTime: time.Now(),
		}
	case pos.Side == side:
		total := pos.Quantity + req.Quantity
		pos.EntryPrice = (pos.EntryPrice*pos.Quantity + price*req.Quantity) / total
		pos.Quantity = total
	case req.Quantity < pos.Quantity:
		pos.Quantity -= req.Quantity
	case req.Quantity == pos.Quantity:
		delete(c.positions, req.Symbol)
	default:
		c.positions[req.Symbol] = &domain.Position{
			Symbol: req.Symbol, Side: side, Quantity: req.Quantity - pos.Quantity,
			EntryPrice: price, EntryTime: time.Now(),
		}
	}
}

// CancelOrder cancels an open order by its hash.
func (c *Client) CancelOrder(ctx context.Context, orderHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	order, ok := c.orders[orderHash]
	if !ok {
		return fmt.Errorf("%w: %s", ports.ErrOrderNotFound, orderHash)
	}
	order.Status = domain.OrderStatusCancelled
	return nil
}

// ClosePosition closes the position on symbol, fully when quantity is 0.
func (c *Client) ClosePosition(ctx context.Context, symbol string, quantity float64) (*domain.Order, error) {
	c.mu.Lock()
	pos, ok := c.positions[symbol]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: no position on %s", ports.ErrOrderPlacementFailed, symbol)
	}
	if quantity <= 0 || quantity > pos.Quantity {
		quantity = pos.Quantity
	}
	side := domain.OrderForPosition(pos.Side).Opposite()
	c.mu.Unlock()

	return c.PlaceOrder(ctx, ports.OrderRequest{
		Symbol:   symbol,
		Side:     side,
		Quantity: quantity,
		Type:     domain.OrderTypeMarket,
	})
}

// SetLeverage records the leverage; the mock ignores margin effects.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

// GetMarketPrice returns a deterministic price for the symbol: a stable base
// derived from the symbol name plus a small oscillation that advances on
// every call, so repeated runs see identical sequences.
func (c *Client) GetMarketPrice(ctx context.Context, symbol string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	base := basePrice(symbol)
	tick := c.ticks[symbol]
	c.ticks[symbol] = tick + 1
	return base * (1 + 0.002*math.Sin(float64(tick)/5)), nil
}

// GetCandles synthesizes a deterministic candle series around the base price.
func (c *Client) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	base := basePrice(symbol)
	now := time.Now().Truncate(time.Minute)
	candles := make([]*domain.Candle, limit)
	for i := 0; i < limit; i++ {
		mid := base * (1 + 0.002*math.Sin(float64(i)/5))
		candles[i] = &domain.Candle{
			OpenTime:  now.Add(time.Duration(i-limit) * time.Minute),
			CloseTime: now.Add(time.Duration(i-limit+1) * time.Minute),
			Symbol:    symbol,
			Interval:  interval,
			Open:      mid * 0.999,
			High:      mid * 1.002,
			Low:       mid * 0.998,
			Close:     mid,
			Volume:    1000,
		}
	}
	return candles, nil
}

// PushEvent injects an order event into the stream. Tests use this to drive
// requeue and cancellation scenarios.
func (c *Client) PushEvent(ev *domain.OrderEvent) {
	select {
	case c.events <- ev:
	default:
	}
}

// StreamOrderEvents delivers pushed and auto-fill events to the handler.
func (c *Client) StreamOrderEvents(ctx context.Context, handler func(ev *domain.OrderEvent), errHandler func(err error)) (chan struct{}, chan struct{}, error) {
	var err error
	c.streamOnce.Do(func() {
		go func() {
			defer close(c.doneCh)
			for {
				select {
				case ev := <-c.events:
					handler(ev)
				case <-c.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	})
	return c.doneCh, c.stopCh, err
}

// Ping always succeeds.
func (c *Client) Ping(ctx context.Context) error { return nil }

func basePrice(symbol string) float64 {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	// Spread bases over [1, 100) so different symbols get distinct prices.
	return 1 + float64(h.Sum32()%9900)/100
}

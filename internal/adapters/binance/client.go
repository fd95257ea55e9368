// Package binance implements the exchange client for Binance USD-M futures
// using the go-binance library. Binance has no order requeue notion, so the
// event stream carries only acks, settlements and cancellations, synthesized
// from order status polling.
package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"

	"bluefinAgent/internal/domain"
	"bluefinAgent/internal/ports"
)

const (
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	defaultPollInterval = 2 * time.Second
)

// Client implements ports.ExchangeClient using the go-binance library.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
	pollInterval  time.Duration

	mu      sync.Mutex
	tracked map[string]*trackedOrder // Client order ID to polling state
}

type trackedOrder struct {
	symbol   string
	acked    bool
	filled   float64
	terminal bool
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey       string
	SecretKey    string
	UseTestnet   bool
	PollInterval time.Duration
	Logger       ports.Logger
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
		pollInterval:  pollInterval,
		tracked:       make(map[string]*trackedOrder),
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003:
			mappedErr = ports.ErrRateLimited
		case -1021:
			mappedErr = ports.ErrTimeout
		case -1022, -2014, -2015:
			mappedErr = ports.ErrAuthenticationFailed
		case -2010, -2022:
			mappedErr = ports.ErrOrderPlacementFailed
		case -2011:
			mappedErr = ports.ErrOrderCancelFailed
		case -2013:
			mappedErr = ports.ErrOrderNotFound
		case -2019, -3005, -3041, -4047:
			mappedErr = ports.ErrInsufficientFunds
		case -4003, -4014, -4015:
			mappedErr = ports.ErrInvalidRequest
		case -4044:
			mappedErr = ports.ErrNotFound
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// GetAccountInfo retrieves balance, available margin and open positions.
func (c *Client) GetAccountInfo(ctx context.Context) (*ports.AccountInfo, error) {
	op := "GetAccountInfo"
	account, err := c.futuresClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	info := &ports.AccountInfo{}
	for _, asset := range account.Assets {
		if asset.Asset == "USDT" {
			info.Balance = parseFloat(asset.WalletBalance)
			info.AvailableMargin = parseFloat(asset.AvailableBalance)
			break
		}
	}
	for _, p := range account.Positions {
		amt := parseFloat(p.PositionAmt)
		if amt == 0 {
			continue
		}
		info.Positions = append(info.Positions, translateAccountPosition(p, amt))
	}
	return info, nil
}

// GetPositions retrieves the currently open positions.
func (c *Client) GetPositions(ctx context.Context) ([]*domain.Position, error) {
	info, err := c.GetAccountInfo(ctx)
	if err != nil {
		return nil, err
	}
	return info.Positions, nil
}

func translateAccountPosition(p *futures.AccountPosition, amt float64) *domain.Position {
	side := domain.Long
	if amt < 0 {
		side = domain.Short
		amt = -amt
	}
	lev, _ := strconv.Atoi(p.Leverage)
	return &domain.Position{
		Symbol:     p.Symbol,
		Side:       side,
		Quantity:   amt,
		EntryPrice: parseFloat(p.EntryPrice),
		Leverage:   lev,
	}
}

// PlaceOrder submits an order and registers it for status polling, which
// synthesizes the lifecycle events.
func (c *Client) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*domain.Order, error) {
	op := "PlaceOrder"
	clientID := req.ClientOrderID
	if clientID == "" {
		clientID = uuid.New().String()
	}

	svc := c.futuresClient.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Quantity(formatFloat(req.Quantity)).
		NewClientOrderID(clientID)

	switch req.Type {
	case domain.OrderTypeLimit:
		tif := req.TimeInForce
		if tif == "" {
			tif = "GTC"
		}
		svc = svc.Type(futures.OrderTypeLimit).
			Price(formatFloat(req.Price)).
			TimeInForce(futures.TimeInForceType(tif))
	case domain.OrderTypeStopMarket:
		svc = svc.Type(futures.OrderTypeStopMarket).
			StopPrice(formatFloat(req.Price))
	default:
		svc = svc.Type(futures.OrderTypeMarket)
	}
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	c.mu.Lock()
	c.tracked[clientID] = &trackedOrder{symbol: req.Symbol}
	c.mu.Unlock()

	c.logger.Info(ctx, op+": order submitted", map[string]interface{}{
		"clientOrderID": clientID,
		"orderID":       resp.OrderID,
		"symbol":        req.Symbol,
		"side":          string(req.Side),
	})
	return &domain.Order{
		Hash:       clientID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Quantity:   req.Quantity,
		Price:      req.Price,
		Type:       req.Type,
		ReduceOnly: req.ReduceOnly,
		Status:     domain.OrderStatusNew,
		CreatedAt:  time.UnixMilli(resp.UpdateTime),
	}, nil
}

// CancelOrder cancels an open order by its client order ID.
func (c *Client) CancelOrder(ctx context.Context, orderHash string) error {
	op := "CancelOrder"
	c.mu.Lock()
	tracked, ok := c.tracked[orderHash]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ports.ErrOrderNotFound, orderHash)
	}

	_, err := c.futuresClient.NewCancelOrderService().
		Symbol(tracked.symbol).
		OrigClientOrderID(orderHash).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}

	c.mu.Lock()
	tracked.terminal = true
	c.mu.Unlock()
	return nil
}

// ClosePosition closes the position on symbol with a reduce-only market
// order, fully when quantity is 0.
func (c *Client) ClosePosition(ctx context.Context, symbol string, quantity float64) (*domain.Order, error) {
	positions, err := c.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	var pos *domain.Position
	for _, p := range positions {
		if p.Symbol == symbol {
			pos = p
			break
		}
	}
	if pos == nil {
		return nil, fmt.Errorf("%w: no open position on %s", ports.ErrOrderPlacementFailed, symbol)
	}
	if quantity <= 0 || quantity > pos.Quantity {
		quantity = pos.Quantity
	}
	return c.PlaceOrder(ctx, ports.OrderRequest{
		Symbol:     symbol,
		Side:       domain.OrderForPosition(pos.Side).Opposite(),
		Quantity:   quantity,
		Type:       domain.OrderTypeMarket,
		ReduceOnly: true,
	})
}

// SetLeverage sets the leverage for a symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	op := "SetLeverage"
	_, err := c.futuresClient.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	return nil
}

// GetMarketPrice retrieves the mark price for a symbol.
func (c *Client) GetMarketPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetMarketPrice"
	res, err := c.futuresClient.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(res) == 0 {
		return 0, c.handleError(ctx, fmt.Errorf("no premium index data returned for %s", symbol), op)
	}
	price, parseErr := strconv.ParseFloat(res[0].MarkPrice, 64)
	if parseErr != nil {
		return 0, c.handleError(ctx, parseErr, op)
	}
	return price, nil
}

// GetCandles retrieves recent OHLCV data, newest last.
func (c *Client) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Candle, error) {
	op := "GetCandles"
	if limit <= 0 {
		limit = 100
	}
	klines, err := c.futuresClient.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	candles := make([]*domain.Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, &domain.Candle{
			OpenTime:  time.UnixMilli(k.OpenTime),
			CloseTime: time.UnixMilli(k.CloseTime),
			Symbol:    symbol,
			Interval:  interval,
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
		})
	}
	return candles, nil
}

// StreamOrderEvents polls tracked orders and emits synthesized lifecycle
// events: an ack on the first successful status read, settlements as the
// executed quantity grows, and a cancellation when the venue reports one.
func (c *Client) StreamOrderEvents(ctx context.Context, handler func(ev *domain.OrderEvent), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error) {
	wsCtx, cancel := context.WithCancel(ctx)
	doneCh = make(chan struct{})
	stopCh = make(chan struct{})

	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-wsCtx.Done():
		}
	}()

	go func() {
		defer close(doneCh)
		defer cancel()

		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-wsCtx.Done():
				return
			case <-ticker.C:
				c.pollOrders(wsCtx, handler, errHandler)
			}
		}
	}()

	return doneCh, stopCh, nil
}

func (c *Client) pollOrders(ctx context.Context, handler func(ev *domain.OrderEvent), errHandler func(err error)) {
	c.mu.Lock()
	pending := make(map[string]*trackedOrder, len(c.tracked))
	for id, tr := range c.tracked {
		if !tr.terminal {
			pending[id] = tr
		}
	}
	c.mu.Unlock()

	for clientID, tracked := range pending {
		order, err := c.futuresClient.NewGetOrderService().
			Symbol(tracked.symbol).
			OrigClientOrderID(clientID).
			Do(ctx)
		if err != nil {
			if errors.Is(c.handleError(ctx, err, "pollOrders"), ports.ErrOrderNotFound) {
				c.mu.Lock()
				tracked.terminal = true
				c.mu.Unlock()
			} else {
				errHandler(err)
			}
			continue
		}

		now := time.Now()
		if !tracked.acked {
			tracked.acked = true
			handler(&domain.OrderEvent{
				Type: domain.EventOrderAck, OrderHash: clientID,
				Symbol: tracked.symbol, Timestamp: now,
			})
		}

		executed := parseFloat(order.ExecutedQuantity)
		if executed > tracked.filled {
			handler(&domain.OrderEvent{
				Type:         domain.EventOrderSettlement,
				OrderHash:    clientID,
				Symbol:       tracked.symbol,
				FillPrice:    parseFloat(order.AvgPrice),
				FillQuantity: executed - tracked.filled,
				Timestamp:    now,
			})
			tracked.filled = executed
		}

		switch order.Status {
		case futures.OrderStatusTypeFilled:
			c.mu.Lock()
			tracked.terminal = true
			c.mu.Unlock()
		case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeExpired, futures.OrderStatusTypeRejected:
			c.mu.Lock()
			tracked.terminal = true
			c.mu.Unlock()
			handler(&domain.OrderEvent{
				Type: domain.EventOrderCancelledOnReversion, OrderHash: clientID,
				Symbol: tracked.symbol, Timestamp: now,
			})
		}
	}
}

// Ping checks connectivity to the venue.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.futuresClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	return nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

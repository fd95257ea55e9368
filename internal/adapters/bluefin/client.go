// Package bluefin implements the exchange client for the Bluefin perpetuals
// venue: signed REST calls for account and order management, and a websocket
// stream for order lifecycle events.
package bluefin

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"bluefinAgent/internal/domain"
	"bluefinAgent/internal/ports"
)

const (
	defaultBaseURL        = "https://dapi.api.sui-prod.bluefin.io"
	defaultWSURL          = "wss://dstream.api.sui-prod.bluefin.io/ws"
	defaultRequestsPerSec = 8
	defaultTimeout        = 10 * time.Second
)

// Config holds configuration for the Bluefin client.
type Config struct {
	BaseURL        string
	WSURL          string
	APIKey         string
	APISecret      string
	RequestsPerSec float64
	Timeout        time.Duration
	Logger         ports.Logger
}

// Client implements ports.ExchangeClient against the Bluefin REST and
// websocket APIs. A token-bucket limiter keeps request bursts inside the
// venue's rate limits.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     ports.Logger
}

// NewClient creates a Bluefin exchange client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for bluefin client")
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("%w: bluefin API key and secret are required", ports.ErrConfigurationError)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.WSURL == "" {
		cfg.WSURL = defaultWSURL
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = defaultRequestsPerSec
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), int(cfg.RequestsPerSec)),
		logger:     cfg.Logger,
	}, nil
}

// sign computes the request signature: HMAC-SHA256 over
// timestamp + method + path + body, hex encoded.
func (c *Client) sign(timestamp, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) doRequest(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", ports.ErrContextCanceled, err)
	}

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%w: marshal request: %v", ports.ErrInvalidRequest, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ports.ErrInvalidRequest, err)
	}
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("BF-API-KEY", c.cfg.APIKey)
	req.Header.Set("BF-API-TIMESTAMP", timestamp)
	req.Header.Set("BF-API-SIGNATURE", c.sign(timestamp, method, path, body))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ports.ErrConnectionFailed, method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ports.ErrConnectionFailed, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s %s: %s", ports.ErrAuthenticationFailed, method, path, respBody)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s %s", ports.ErrRateLimited, method, path)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", ports.ErrOrderNotFound, method, path)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s %s: status %d", ports.ErrExchangeUnavailable, method, path, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: %s %s: status %d: %s", ports.ErrInvalidRequest, method, path, resp.StatusCode, respBody)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("%w: parse response from %s: %v", ports.ErrExchangeUnavailable, path, err)
		}
	}
	return nil
}

type accountResponse struct {
	WalletBalance  string             `json:"walletBalance"`
	FreeCollateral string             `json:"freeCollateral"`
	Positions      []positionResponse `json:"positions"`
}

type positionResponse struct {
	Symbol           string `json:"symbol"`
	Side             string `json:"side"`
	Quantity         string `json:"quantity"`
	AvgEntryPrice    string `json:"avgEntryPrice"`
	Leverage         string `json:"leverage"`
	CreatedAtMillis  int64  `json:"createdAt"`
}

// GetAccountInfo retrieves balance, available margin and open positions.
func (c *Client) GetAccountInfo(ctx context.Context) (*ports.AccountInfo, error) {
	var resp accountResponse
	if err := c.doRequest(ctx, http.MethodGet, "/account", nil, &resp); err != nil {
		return nil, err
	}
	info := &ports.AccountInfo{
		Balance:         parseFloat(resp.WalletBalance),
		AvailableMargin: parseFloat(resp.FreeCollateral),
	}
	for _, p := range resp.Positions {
		info.Positions = append(info.Positions, toPosition(p))
	}
	return info, nil
}

// GetPositions retrieves the currently open positions.
func (c *Client) GetPositions(ctx context.Context) ([]*domain.Position, error) {
	var resp []positionResponse
	if err := c.doRequest(ctx, http.MethodGet, "/userPosition", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]*domain.Position, 0, len(resp))
	for _, p := range resp {
		out = append(out, toPosition(p))
	}
	return out, nil
}

func toPosition(p positionResponse) *domain.Position {
	side := domain.Long
	if p.Side == "SELL" || p.Side == "SHORT" {
		side = domain.Short
	}
	lev, _ := strconv.Atoi(p.Leverage)
	return &domain.Position{
		Symbol:     p.Symbol,
		Side:       side,
		Quantity:   parseFloat(p.Quantity),
		EntryPrice: parseFloat(p.AvgEntryPrice),
		Leverage:   lev,
		EntryTime:  time.UnixMilli(p.CreatedAtMillis),
	}
}

type orderPayload struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	OrderType     string `json:"orderType"`
	Quantity      string `json:"quantity"`
	Price         string `json:"price,omitempty"`
	ReduceOnly    bool   `json:"reduceOnly"`
	TimeInForce   string `json:"timeInForce,omitempty"`
	Leverage      string `json:"leverage,omitempty"`
	ClientOrderID string `json:"clientId"`
}

type orderResponse struct {
	Hash            string `json:"hash"`
	Symbol          string `json:"symbol"`
	Status          string `json:"orderStatus"`
	CreatedAtMillis int64  `json:"createdAt"`
}

// PlaceOrder submits an order and returns it in status NEW.
func (c *Client) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*domain.Order, error) {
	clientID := req.ClientOrderID
	if clientID == "" {
		clientID = uuid.New().String()
	}
	payload := orderPayload{
		Symbol:        req.Symbol,
		Side:          string(req.Side),
		OrderType:     string(req.Type),
		Quantity:      formatFloat(req.Quantity),
		ReduceOnly:    req.ReduceOnly,
		TimeInForce:   req.TimeInForce,
		ClientOrderID: clientID,
	}
	if req.Price > 0 {
		payload.Price = formatFloat(req.Price)
	}
	if req.Leverage > 0 {
		payload.Leverage = strconv.Itoa(req.Leverage)
	}

	var resp orderResponse
	if err := c.doRequest(ctx, http.MethodPost, "/orders", payload, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrOrderPlacementFailed, err)
	}
	hash := resp.Hash
	if hash == "" {
		hash = clientID
	}

	c.logger.Info(ctx, "placeOrder: order submitted", map[string]interface{}{
		"hash":   hash,
		"symbol": req.Symbol,
		"side":   string(req.Side),
		"type":   string(req.Type),
		"qty":    req.Quantity,
	})
	return &domain.Order{
		Hash:       hash,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Quantity:   req.Quantity,
		Price:      req.Price,
		Type:       req.Type,
		ReduceOnly: req.ReduceOnly,
		Status:     domain.OrderStatusNew,
		CreatedAt:  time.UnixMilli(resp.CreatedAtMillis),
	}, nil
}

// CancelOrder cancels an open order by its hash.
func (c *Client) CancelOrder(ctx context.Context, orderHash string) error {
	if err := c.doRequest(ctx, http.MethodDelete, "/orders/"+orderHash, nil, nil); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrOrderCancelFailed, err)
	}
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
	payload := map[string]string{
		"symbol":   symbol,
		"leverage": strconv.Itoa(leverage),
	}
	return c.doRequest(ctx, http.MethodPost, "/account/adjustLeverage", payload, nil)
}

type marketDataResponse struct {
	Symbol      string `json:"symbol"`
	MarketPrice string `json:"marketPrice"`
}

// GetMarketPrice retrieves the current market price for a symbol.
func (c *Client) GetMarketPrice(ctx context.Context, symbol string) (float64, error) {
	var resp marketDataResponse
	if err := c.doRequest(ctx, http.MethodGet, "/marketData?symbol="+symbol, nil, &resp); err != nil {
		return 0, err
	}
	price := parseFloat(resp.MarketPrice)
	if price <= 0 {
		return 0, fmt.Errorf("%w: bad market price %q for %s", ports.ErrExchangeUnavailable, resp.MarketPrice, symbol)
	}
	return price, nil
}

// GetCandles retrieves recent OHLCV data, newest last. The venue returns
// arrays of [openTime, open, high, low, close, volume, closeTime].
func (c *Client) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	path := fmt.Sprintf("/candlestickData?symbol=%s&interval=%s&limit=%d", symbol, interval, limit)
	var rows [][]json.Number
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &rows); err != nil {
		return nil, err
	}
	candles := make([]*domain.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			continue
		}
		openMs, _ := row[0].Int64()
		closeMs, _ := row[6].Int64()
		candles = append(candles, &domain.Candle{
			OpenTime:  time.UnixMilli(openMs),
			CloseTime: time.UnixMilli(closeMs),
			Symbol:    symbol,
			Interval:  interval,
			Open:      numToFloat(row[1]),
			High:      numToFloat(row[2]),
			Low:       numToFloat(row[3]),
			Close:     numToFloat(row[4]),
			Volume:    numToFloat(row[5]),
		})
	}
	return candles, nil
}

// Ping checks connectivity to the venue.
func (c *Client) Ping(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodGet, "/ping", nil, nil)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func numToFloat(n json.Number) float64 {
	f, _ := n.Float64()
	return f
}

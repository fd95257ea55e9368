package bluefin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bluefinAgent/internal/adapters/logger"
	"bluefinAgent/internal/domain"
	"bluefinAgent/internal/ports"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:   baseURL,
		APIKey:    "test-key",
		APISecret: "test-secret",
		Logger:    logger.NewStdLogger(logger.LevelError),
	})
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(Config{Logger: logger.NewStdLogger(logger.LevelError)})
	assert.Error(t, err)
}

func TestSignIsDeterministic(t *testing.T) {
	c := newTestClient(t, "http://localhost")
	a := c.sign("1693400000000", "POST", "/orders", []byte(`{"symbol":"SUI-PERP"}`))
	b := c.sign("1693400000000", "POST", "/orders", []byte(`{"symbol":"SUI-PERP"}`))
	assert.Equal(t, a, b)
	assert.Len(t, a, 64) // hex-encoded SHA-256

	// Any input change must change the signature.
	other := c.sign("1693400000001", "POST", "/orders", []byte(`{"symbol":"SUI-PERP"}`))
	assert.NotEqual(t, a, other)
}

func TestDoRequestSendsAuthHeaders(t *testing.T) {
	var gotKey, gotSig, gotTS string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("BF-API-KEY")
		gotSig = r.Header.Get("BF-API-SIGNATURE")
		gotTS = r.Header.Get("BF-API-TIMESTAMP")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	require.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, "test-key", gotKey)
	assert.NotEmpty(t, gotSig)
	assert.NotEmpty(t, gotTS)
}

func TestDoRequestStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, ports.ErrAuthenticationFailed},
		{"forbidden", http.StatusForbidden, ports.ErrAuthenticationFailed},
		{"rate limited", http.StatusTooManyRequests, ports.ErrRateLimited},
		{"not found", http.StatusNotFound, ports.ErrOrderNotFound},
		{"server error", http.StatusInternalServerError, ports.ErrExchangeUnavailable},
		{"bad request", http.StatusBadRequest, ports.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL)
			err := c.Ping(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "expected %v, got %v", tt.want, err)
		})
	}
}

func TestGetAccountInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/account", r.URL.Path)
		w.Write([]byte(`{
			"walletBalance": "10250.50",
			"freeCollateral": "8000.25",
			"positions": [
				{"symbol": "SUI-PERP", "side": "BUY", "quantity": "1000", "avgEntryPrice": "1.50", "leverage": "5", "createdAt": 1693400000000}
			]
		}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	info, err := c.GetAccountInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10250.50, info.Balance)
	assert.Equal(t, 8000.25, info.AvailableMargin)
	require.Len(t, info.Positions, 1)
	assert.Equal(t, domain.Long, info.Positions[0].Side)
	assert.Equal(t, 1000.0, info.Positions[0].Quantity)
	assert.Equal(t, 5, info.Positions[0].Leverage)
}

func TestPlaceOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders", r.URL.Path)
		w.Write([]byte(`{"hash": "0xabc123", "symbol": "SUI-PERP", "orderStatus": "PENDING", "createdAt": 1693400000000}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	order, err := c.PlaceOrder(context.Background(), ports.OrderRequest{
		Symbol:   "SUI-PERP",
		Side:     domain.Buy,
		Quantity: 1000,
		Price:    1.50,
		Type:     domain.OrderTypeLimit,
	})
	require.NoError(t, err)
	assert.Equal(t, "0xabc123", order.Hash)
	assert.Equal(t, domain.OrderStatusNew, order.Status)
	assert.Equal(t, 1000.0, order.Quantity)
}

func TestGetMarketPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol": "SUI-PERP", "marketPrice": "1.5123"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	price, err := c.GetMarketPrice(context.Background(), "SUI-PERP")
	require.NoError(t, err)
	assert.Equal(t, 1.5123, price)
}

func TestTranslateOrderUpdate(t *testing.T) {
	ev, err := translateOrderUpdate(&wsOrderUpdate{
		OrderHash:       "0xabc",
		Symbol:          "SUI-PERP",
		EventType:       "ORDER_SETTLEMENT",
		FillPrice:       "1.501",
		FillQuantity:    "400",
		Maker:           true,
		TimestampMillis: 1693400000000,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.EventOrderSettlement, ev.Type)
	assert.Equal(t, 1.501, ev.FillPrice)
	assert.Equal(t, 400.0, ev.FillQuantity)
	assert.True(t, ev.Maker)

	_, err = translateOrderUpdate(&wsOrderUpdate{EventType: "SOMETHING_ELSE"})
	assert.Error(t, err)
}

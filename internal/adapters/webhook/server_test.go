package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bluefinAgent/internal/adapters/logger"
	"bluefinAgent/internal/domain"
	"bluefinAgent/internal/metrics"
	"bluefinAgent/internal/ports"
)

// stubHandler implements AlertHandler with a canned response.
type stubHandler struct {
	order *domain.Order
	err   error
	got   *domain.RawAlert
}

func (h *stubHandler) HandleAlert(ctx context.Context, alert *domain.RawAlert) (*domain.Order, error) {
	h.got = alert
	return h.order, h.err
}

// stubResetter implements DailyResetter.
type stubResetter struct {
	calls int
}

func (r *stubResetter) ResetDaily(ctx context.Context) { r.calls++ }

func newTestServer(t *testing.T, handler AlertHandler, passphrase string) *Server {
	t.Helper()
	s, err := NewServer(Config{
		Passphrase: passphrase,
		Logger:     logger.NewStdLogger(logger.LevelError),
		Metrics:    metrics.New(),
		Resetter:   &stubResetter{},
	}, handler)
	require.NoError(t, err)
	return s
}

func postAlert(t *testing.T, s *Server, alert interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(alert)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func validAlert() *domain.RawAlert {
	return &domain.RawAlert{
		Indicator:  "vumanchu_cipher_b",
		Symbol:     "SUI/USDT",
		Timeframe:  "5m",
		SignalType: "GOLD_CIRCLE",
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, &stubHandler{}, "")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &stubHandler{}, "")
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookAccepted(t *testing.T) {
	h := &stubHandler{order: &domain.Order{Hash: "0xabc", Symbol: "SUI-PERP", Quantity: 1000}}
	s := newTestServer(t, h, "")

	rec := postAlert(t, s, validAlert())
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp["status"])
	assert.Equal(t, "0xabc", resp["order_hash"])
	require.NotNil(t, h.got)
	assert.Equal(t, "SUI/USDT", h.got.Symbol)
}

func TestWebhookBadJSON(t *testing.T) {
	s := newTestServer(t, &stubHandler{}, "")
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookPassphrase(t *testing.T) {
	h := &stubHandler{order: &domain.Order{Hash: "0xabc"}}
	s := newTestServer(t, h, "secret")

	// Missing passphrase is rejected.
	rec := postAlert(t, s, validAlert())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Correct passphrase passes through.
	alert := validAlert()
	alert.Passphrase = "secret"
	rec = postAlert(t, s, alert)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResetDailyEndpoint(t *testing.T) {
	resetter := &stubResetter{}
	s, err := NewServer(Config{
		Logger:   logger.NewStdLogger(logger.LevelError),
		Resetter: resetter,
	}, &stubHandler{})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/admin/reset-daily", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, resetter.calls)
}

func TestResetDailyRequiresPassphrase(t *testing.T) {
	resetter := &stubResetter{}
	s, err := NewServer(Config{
		Passphrase: "secret",
		Logger:     logger.NewStdLogger(logger.LevelError),
		Resetter:   resetter,
	}, &stubHandler{})
	require.NoError(t, err)

	// Missing passphrase is rejected without resetting.
	req := httptest.NewRequest(http.MethodPost, "/admin/reset-daily", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, resetter.calls)

	body, _ := json.Marshal(map[string]string{"passphrase": "secret"})
	req = httptest.NewRequest(http.MethodPost, "/admin/reset-daily", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, resetter.calls)
}

func TestWebhookErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantStatus string
	}{
		{"validation", fmt.Errorf("%w: missing symbol", ports.ErrValidation), http.StatusBadRequest, "error"},
		{"unsupported", fmt.Errorf("%w: DOGE-PERP", ports.ErrUnsupportedSignal), http.StatusUnprocessableEntity, "ignored"},
		{"risk rejected", fmt.Errorf("%w: Max open trades reached: 3/3", ports.ErrRiskRejected), http.StatusOK, "rejected"},
		{"drawdown halt", fmt.Errorf("%w", ports.ErrDrawdownHalt), http.StatusServiceUnavailable, "halted"},
		{"exchange down", fmt.Errorf("%w", ports.ErrExchangeUnavailable), http.StatusBadGateway, "error"},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &stubHandler{err: tt.err}, "")
			rec := postAlert(t, s, validAlert())
			assert.Equal(t, tt.wantCode, rec.Code)

			var resp map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp["status"])
		})
	}
}

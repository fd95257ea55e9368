// Package webhook exposes the HTTP ingestion surface: TradingView-style
// alert webhooks, a health probe, and the Prometheus metrics endpoint.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"bluefinAgent/internal/domain"
	"bluefinAgent/internal/metrics"
	"bluefinAgent/internal/ports"
)

// AlertHandler processes a raw alert end to end. The engine implements it.
type AlertHandler interface {
	HandleAlert(ctx context.Context, alert *domain.RawAlert) (*domain.Order, error)
}

// DailyResetter clears the daily P&L window, lifting an active drawdown
// halt. The performance ledger implements it.
type DailyResetter interface {
	ResetDaily(ctx context.Context)
}

// Config holds configuration for the webhook server.
type Config struct {
	Addr       string
	Passphrase string // Empty disables the shared-secret check
	Logger     ports.Logger
	Metrics    *metrics.Metrics
	Resetter   DailyResetter // Enables POST /admin/reset-daily when set
}

// Server is the alert ingestion HTTP server.
type Server struct {
	cfg     Config
	handler AlertHandler
	logger  ports.Logger
	httpSrv *http.Server
}

// NewServer creates the webhook server. Call Start to begin listening.
func NewServer(cfg Config, handler AlertHandler) (*Server, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for webhook server")
	}
	if handler == nil {
		return nil, fmt.Errorf("alert handler is required for webhook server")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	s := &Server{cfg: cfg, handler: handler, logger: cfg.Logger}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", s.handleHealth)
	router.POST("/webhook", s.handleWebhook)
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}
	if cfg.Resetter != nil {
		router.POST("/admin/reset-daily", s.handleResetDaily)
	}

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.httpSrv.Handler
}

// Start listens until the context is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "webhook server listening", map[string]interface{}{"addr": s.cfg.Addr})
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleWebhook(c *gin.Context) {
	var alert domain.RawAlert
	if err := c.ShouldBindJSON(&alert); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid JSON payload"})
		return
	}

	if s.cfg.Passphrase != "" && alert.Passphrase != s.cfg.Passphrase {
		s.logger.Warn(c.Request.Context(), "webhook: rejected alert with bad passphrase", map[string]interface{}{
			"remote": c.ClientIP(),
		})
		c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "invalid passphrase"})
		return
	}

	order, err := s.handler.HandleAlert(c.Request.Context(), &alert)
	if err != nil {
		s.writeError(c, err)
		return
	}

	resp := gin.H{"status": "accepted"}
	if order != nil {
		resp["order_hash"] = order.Hash
		resp["symbol"] = order.Symbol
		resp["quantity"] = order.Quantity
	}
	c.JSON(http.StatusOK, resp)
}

// handleResetDaily is the operator surface for the drawdown kill switch: it
// zeroes the daily P&L window on demand instead of waiting for the UTC
// rollover. Guarded by the same shared secret as the webhook.
func (s *Server) handleResetDaily(c *gin.Context) {
	var body struct {
		Passphrase string `json:"passphrase"`
	}
	_ = c.ShouldBindJSON(&body)

	if s.cfg.Passphrase != "" && body.Passphrase != s.cfg.Passphrase {
		s.logger.Warn(c.Request.Context(), "webhook: rejected daily reset with bad passphrase", map[string]interface{}{
			"remote": c.ClientIP(),
		})
		c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "invalid passphrase"})
		return
	}

	s.cfg.Resetter.ResetDaily(c.Request.Context())
	s.logger.Info(c.Request.Context(), "webhook: daily P&L window reset by operator", nil)
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

// writeError maps the error taxonomy onto HTTP statuses. Risk rejections are
// a normal outcome, not a client or server fault.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ports.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
	case errors.Is(err, ports.ErrUnsupportedSignal):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"status": "ignored", "message": err.Error()})
	case errors.Is(err, ports.ErrRiskRejected):
		c.JSON(http.StatusOK, gin.H{"status": "rejected", "message": err.Error()})
	case errors.Is(err, ports.ErrDrawdownHalt):
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "halted", "message": err.Error()})
	case errors.Is(err, ports.ErrExchangeUnavailable),
		errors.Is(err, ports.ErrConnectionFailed),
		errors.Is(err, ports.ErrOrderPlacementFailed):
		c.JSON(http.StatusBadGateway, gin.H{"status": "error", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
	}
}

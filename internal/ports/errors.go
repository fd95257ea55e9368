package ports

import "errors"

// Standard application-level errors.
// Adapters and core components wrap underlying errors with these sentinels so
// callers can branch with errors.Is without knowing the concrete source.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Signal Errors
	ErrValidation        = errors.New("malformed alert payload")
	ErrUnsupportedSignal = errors.New("unsupported signal")

	// Risk Errors
	ErrRiskRejected = errors.New("risk limits breached")
	ErrDrawdownHalt = errors.New("daily drawdown halt active")

	// Exchange Specific Errors
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the exchange")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrOrderNotFound        = errors.New("order not found on the exchange")
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrOrderCancelFailed    = errors.New("failed to cancel order")

	// Lifecycle Errors
	ErrUnknownOrderEvent = errors.New("event references an untracked order hash")

	// Ledger Errors
	ErrDuplicateEntry = errors.New("ledger record already exists")
	ErrTradeNotFound  = errors.New("trade not found in ledger")
	ErrStoreFailed    = errors.New("trade store operation failed")
)

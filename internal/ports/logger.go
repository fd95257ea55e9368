package ports

import "context"

// Logger is the structured logging capability used across the agent: signal
// handling, order lifecycle and venue adapters all log through it. Fields
// carry structured context such as symbol, order hash or trade ID.
type Logger interface {
	// Debug logs high-volume diagnostics, e.g. per-event lifecycle steps.
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	// Info logs normal operation: signals accepted, orders placed, positions
	// opened and closed.
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	// Warn logs recoverable anomalies, e.g. dropped events or rejected alerts.
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	// Error logs failures together with the causing error.
	Error(ctx context.Context, err error, msg string, fields ...map[string]interface{})
}

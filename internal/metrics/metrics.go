// Package metrics exposes Prometheus instrumentation for the trading agent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Signal outcome label values.
const (
	OutcomeAccepted     = "accepted"
	OutcomeRejectedRisk = "rejected_risk"
	OutcomeInvalid      = "invalid"
	OutcomeUnsupported  = "unsupported"
	OutcomeFailed       = "failed"
)

// Metrics holds all collectors on a private registry, so tests can build
// isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	SignalsTotal  *prometheus.CounterVec
	OrdersTotal   *prometheus.CounterVec
	RequeuesTotal prometheus.Counter
	Equity        prometheus.Gauge
	DailyPnL      prometheus.Gauge
	OpenPositions prometheus.Gauge
}

// New creates a Metrics set on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		SignalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trading_signals_total",
			Help: "Inbound signals by processing outcome.",
		}, []string{"outcome"}),
		OrdersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trading_orders_total",
			Help: "Orders submitted to the venue by final status.",
		}, []string{"status"}),
		RequeuesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "trading_order_requeues_total",
			Help: "Order requeue events received from the venue.",
		}),
		Equity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "trading_account_equity",
			Help: "Current account balance in quote currency.",
		}),
		DailyPnL: factory.NewGauge(prometheus.GaugeOpts{
			Name: "trading_daily_pnl",
			Help: "Realized P&L since the last daily reset.",
		}),
		OpenPositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "trading_open_positions",
			Help: "Number of currently open positions.",
		}),
	}
}

// Handler returns the HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

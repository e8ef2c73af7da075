// Package metrics registers the execution engine's prometheus gauges
// and counters on a package-level registry and serves them on a
// dedicated HTTP endpoint. Dashboards/visualization of these metrics
// stay out of scope; only emission lives here.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "execengine_orders_placed_total",
		Help: "Orders placed, by broker order kind (ENTRY/SL/TP).",
	}, []string{"kind"})

	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "execengine_orders_rejected_total",
		Help: "Orders rejected by the broker adapter.",
	}, []string{"kind"})

	Fills = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "execengine_fills_total",
		Help: "Fills applied, partial or full.",
	}, []string{"partial"})

	CircuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "execengine_circuit_breaker_trips_total",
		Help: "Circuit breaker transitions into OPEN (from CLOSED or HALF_OPEN), by endpoint.",
	}, []string{"endpoint"})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "execengine_open_positions",
		Help: "Currently open positions.",
	})

	AccountEquity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "execengine_account_equity",
		Help: "Most recent account equity from the broker's validate_account heartbeat.",
	})

	RealizedPnL = promauto.NewCounter(prometheus.CounterOpts{
		Name: "execengine_realized_pnl_total",
		Help: "Cumulative realized P&L of closed trades with non-negative P&L; losses are not subtracted (resets only on process restart).",
	})

	ReconciliationsRaised = promauto.NewCounter(prometheus.CounterOpts{
		Name: "execengine_reconciliations_raised_total",
		Help: "Reconciliation-required events raised.",
	})
)

// Handler returns the /metrics HTTP handler, mounted by the standalone
// metrics server rather than the admin server.
func Handler() http.Handler {
	return promhttp.Handler()
}

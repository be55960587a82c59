// Package metrics registers the prometheus instruments for the trading loop.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "polyswing_ticks_total", Help: "Evaluation ticks executed"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "polyswing_signals_total", Help: "Divergence signals by direction"},
		[]string{"asset", "direction"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "polyswing_orders_total", Help: "Orders submitted by kind and result"},
		[]string{"asset", "kind", "result"},
	)
	SettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "polyswing_settlements_total", Help: "Settled positions by outcome"},
		[]string{"asset", "outcome"},
	)
	RiskRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "polyswing_risk_rejections_total", Help: "Entries rejected by the risk manager"},
		[]string{"asset"},
	)
	BalanceUSDC = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "polyswing_balance_usdc", Help: "Last synced USDC balance"},
	)
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "polyswing_open_positions", Help: "Currently open positions"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal, SignalsTotal, OrdersTotal, SettlementsTotal,
		RiskRejectionsTotal, BalanceUSDC, OpenPositions,
	)
}

// Serve starts the /metrics endpoint and returns the server so callers can
// shut it down.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

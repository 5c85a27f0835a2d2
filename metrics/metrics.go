// Package metrics provides Prometheus metrics for the quoter.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quoter_actions_total",
		Help: "Order actions emitted by the reconciliation loop",
	}, []string{"action"})

	ActionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quoter_action_failures_total",
		Help: "Order actions that failed or timed out",
	}, []string{"action"})

	GateRejects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quoter_gate_rejects_total",
		Help: "Risk gate evaluations that refused quoting",
	})

	StaleSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quoter_stale_skips_total",
		Help: "Instruments skipped for stale or missing snapshots",
	})

	InvariantRepairs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quoter_invariant_repairs_total",
		Help: "Corrective cancels for duplicate same-side orders",
	})

	ReadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quoter_read_failures_total",
		Help: "Authoritative exchange reads that failed",
	})

	ActiveInstruments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quoter_active_instruments",
		Help: "Size of the current active instrument set",
	})

	OpenOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quoter_open_orders",
		Help: "Open resting orders across all instruments",
	})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quoter_tick_duration_seconds",
		Help:    "Wall time of one reconciliation tick",
		Buckets: prometheus.DefBuckets,
	})

	midPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quoter_mid_price",
		Help: "Latest mid price per instrument",
	}, []string{"instrument"})

	relSpread = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quoter_relative_spread",
		Help: "Latest relative spread per instrument",
	}, []string{"instrument"})

	position = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quoter_position",
		Help: "Signed position size per instrument",
	}, []string{"instrument"})
)

// UpdateSnapshot records per-instrument market data on feed updates.
func UpdateSnapshot(instrument string, mid, spread float64) {
	if instrument == "" {
		return
	}
	midPrice.WithLabelValues(instrument).Set(mid)
	relSpread.WithLabelValues(instrument).Set(spread)
}

// UpdatePosition records the signed position read back from the exchange.
func UpdatePosition(instrument string, size float64) {
	if instrument == "" {
		return
	}
	position.WithLabelValues(instrument).Set(size)
}

// StartServer exposes /metrics on addr. Empty addr disables the server.
func StartServer(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}

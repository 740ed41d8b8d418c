package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ndmikkelsen/btc-algo-trader/internal/domain"
	"github.com/ndmikkelsen/btc-algo-trader/internal/engine"
)

// Metrics holds the backtest collectors on a dedicated registry so several
// servers (or tests) can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	tradesTotal *prometheus.CounterVec
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "btcalgo_backtest_runs_total",
				Help: "Total number of backtest runs by outcome",
			},
			[]string{"strategy", "status"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "btcalgo_backtest_duration_seconds",
				Help:    "Backtest wall-clock duration in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"strategy"},
		),
		tradesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "btcalgo_backtest_trades_total",
				Help: "Total number of simulated trades by side",
			},
			[]string{"strategy", "side"},
		),
	}
}

// ObserveRun records one finished run. A nil receiver is a no-op.
func (m *Metrics) ObserveRun(strategy string, res *engine.Result, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.runsTotal.WithLabelValues(strategy, status).Inc()
	m.runDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())

	if res == nil {
		return
	}
	var buys, sells int
	for _, t := range res.Trades {
		if t.Side == domain.SideBuy {
			buys++
		} else {
			sells++
		}
	}
	m.tradesTotal.WithLabelValues(strategy, string(domain.SideBuy)).Add(float64(buys))
	m.tradesTotal.WithLabelValues(strategy, string(domain.SideSell)).Add(float64(sells))
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

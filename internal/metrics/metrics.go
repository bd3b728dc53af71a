// Package metrics holds the Prometheus collectors the bot updates while it
// runs. They are registered in init() and served at /metrics by cmd/bot.
//
//   - trendbot_ticks_total{result}              – scheduler cycles by outcome
//   - trendbot_tick_duration_seconds             – wall time of a cycle
//   - trendbot_signals_total{decision}          – confirmed-bar decisions
//   - trendbot_orders_total{intent,result}      – order submissions
//   - trendbot_instrument_errors_total{kind}    – per-instrument failures by class
//   - trendbot_reconciled_orders_total{status}  – ledger rows moved out of NEW
//   - trendbot_fill_slippage_pct                 – observed slippage of fills
//   - trendbot_optimizer_runs_total{outcome}    – tuning runs
//   - trendbot_optimizer_best_score{symbol}     – last best simulated return
//   - trendbot_equity_usd / trendbot_engine_running
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ticks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendbot_ticks_total",
			Help: "Scheduler cycles by result",
		},
		[]string{"result"}, // ok|failed|skipped_overlap
	)

	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trendbot_tick_duration_seconds",
			Help:    "Duration of one scheduler cycle",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendbot_signals_total",
			Help: "Decisions taken on confirmed bars",
		},
		[]string{"decision"},
	)

	orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendbot_orders_total",
			Help: "Order submissions by intent and result",
		},
		[]string{"intent", "result"}, // result: submitted|duplicate|rejected|failed
	)

	instrumentErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendbot_instrument_errors_total",
			Help: "Per-instrument failures by error class",
		},
		[]string{"kind"},
	)

	reconciled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendbot_reconciled_orders_total",
			Help: "Ledger rows moved to a terminal status",
		},
		[]string{"status"},
	)

	slippage = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trendbot_fill_slippage_pct",
			Help:    "Signed slippage of fills as a fraction of the snapshot price (positive is adverse)",
			Buckets: []float64{-0.01, -0.005, -0.002, -0.001, 0, 0.001, 0.002, 0.005, 0.01, 0.02},
		},
	)

	optimizerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendbot_optimizer_runs_total",
			Help: "Optimizer runs by outcome",
		},
		[]string{"outcome"},
	)

	optimizerBestScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trendbot_optimizer_best_score",
			Help: "Best simulated return of the last optimizer run",
		},
		[]string{"symbol"},
	)

	equity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trendbot_equity_usd",
			Help: "Account equity at the end of the last cycle",
		},
	)

	engineRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trendbot_engine_running",
			Help: "1 when the engine may open new positions",
		},
	)
)

func init() {
	prometheus.MustRegister(ticks, tickDuration, signals, orders, instrumentErrors)
	prometheus.MustRegister(reconciled, slippage)
	prometheus.MustRegister(optimizerRuns, optimizerBestScore)
	prometheus.MustRegister(equity, engineRunning)
}

func IncTick(result string)               { ticks.WithLabelValues(result).Inc() }
func ObserveTickDuration(seconds float64) { tickDuration.Observe(seconds) }
func IncSignal(decision string)           { signals.WithLabelValues(decision).Inc() }
func IncOrder(intent, result string)      { orders.WithLabelValues(intent, result).Inc() }
func IncInstrumentError(kind string)      { instrumentErrors.WithLabelValues(kind).Inc() }
func IncReconciled(status string)         { reconciled.WithLabelValues(status).Inc() }
func ObserveSlippage(pct float64)         { slippage.Observe(pct) }
func IncOptimizerRun(outcome string)      { optimizerRuns.WithLabelValues(outcome).Inc() }
func SetEquity(v float64)                 { equity.Set(v) }

// SetBestScore records the winning score of a symbol's last tuning run.
func SetBestScore(symbol string, score float64) {
	optimizerBestScore.WithLabelValues(symbol).Set(score)
}

// SetEngineRunning mirrors system_status.engine_running.
func SetEngineRunning(running bool) {
	if running {
		engineRunning.Set(1)
		return
	}
	engineRunning.Set(0)
}

// Package metrics exposes the Prometheus instrumentation surface.
// 자체 레지스트리를 사용해 기본 글로벌 레지스트리와 분리한다.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/wonny/kquant/internal/contracts"
)

// Metrics holds every collector the platform reports.
type Metrics struct {
	registry *prometheus.Registry

	signalsGenerated *prometheus.CounterVec
	tradesExecuted   *prometheus.CounterVec
	tradeRejections  prometheus.Counter
	orderValue       *prometheus.CounterVec

	portfolioValue *prometheus.GaugeVec
	cashBalance    *prometheus.GaugeVec
	positionCount  *prometheus.GaugeVec
	totalLossPct   *prometheus.GaugeVec
	drawdownPct    *prometheus.GaugeVec
	tradingHalted  *prometheus.GaugeVec

	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New builds the collector set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,

		signalsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kquant",
			Name:      "signals_generated_total",
			Help:      "Trading signals generated, by kind.",
		}, []string{"kind"}),
		tradesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kquant",
			Name:      "trades_executed_total",
			Help:      "Trades reaching a terminal status, by side and status.",
		}, []string{"side", "status"}),
		tradeRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kquant",
			Name:      "trade_rejections_total",
			Help:      "Signals rejected by validation before execution.",
		}),
		orderValue: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kquant",
			Name:      "order_value_krw_total",
			Help:      "Gross executed order value in KRW, by side.",
		}, []string{"side"}),

		portfolioValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kquant",
			Name:      "portfolio_total_value_krw",
			Help:      "Mark-to-market portfolio value.",
		}, []string{"user_id"}),
		cashBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kquant",
			Name:      "portfolio_cash_balance_krw",
			Help:      "Available cash balance.",
		}, []string{"user_id"}),
		positionCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kquant",
			Name:      "portfolio_position_count",
			Help:      "Open position count.",
		}, []string{"user_id"}),
		totalLossPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kquant",
			Name:      "portfolio_total_loss_pct",
			Help:      "Loss from initial capital, percent.",
		}, []string{"user_id"}),
		drawdownPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kquant",
			Name:      "portfolio_drawdown_pct",
			Help:      "Drawdown from peak value, percent.",
		}, []string{"user_id"}),
		tradingHalted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kquant",
			Name:      "trading_halted",
			Help:      "1 while the circuit breaker halt is active.",
		}, []string{"user_id"}),

		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kquant",
			Name:      "scheduler_job_runs_total",
			Help:      "Scheduler job completions, by job and outcome.",
		}, []string{"job", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kquant",
			Name:      "scheduler_job_duration_seconds",
			Help:      "Scheduler job wall time.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"job"}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kquant",
			Name:      "http_requests_total",
			Help:      "API requests, by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kquant",
			Name:      "http_request_duration_seconds",
			Help:      "API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		m.signalsGenerated, m.tradesExecuted, m.tradeRejections, m.orderValue,
		m.portfolioValue, m.cashBalance, m.positionCount,
		m.totalLossPct, m.drawdownPct, m.tradingHalted,
		m.jobRuns, m.jobDuration,
		m.httpRequests, m.httpDuration,
	)
	return m
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSignal counts a generated signal by kind.
func (m *Metrics) ObserveSignal(kind contracts.SignalKind) {
	m.signalsGenerated.WithLabelValues(string(kind)).Inc()
}

// ObserveTrade counts a terminal trade and its gross value.
func (m *Metrics) ObserveTrade(t *contracts.Trade) {
	m.tradesExecuted.WithLabelValues(string(t.Side), string(t.Status)).Inc()
	if t.ExecutedQty > 0 {
		gross, _ := t.ExecutedPrice.Mul(decimal.NewFromInt(t.ExecutedQty)).Float64()
		m.orderValue.WithLabelValues(string(t.Side)).Add(gross)
	}
}

// ObserveRejections adds validator rejections from a batch.
func (m *Metrics) ObserveRejections(n int) {
	if n > 0 {
		m.tradeRejections.Add(float64(n))
	}
}

// SetPortfolio publishes the latest risk rollup as gauges.
func (m *Metrics) SetPortfolio(r *contracts.RiskMetrics) {
	total, _ := r.TotalValue.Float64()
	cash, _ := r.CashBalance.Float64()
	loss, _ := r.TotalLossFromInitialPct.Float64()
	dd, _ := r.CurrentDrawdownPct.Float64()

	m.portfolioValue.WithLabelValues(r.UserID).Set(total)
	m.cashBalance.WithLabelValues(r.UserID).Set(cash)
	m.positionCount.WithLabelValues(r.UserID).Set(float64(r.PositionCount))
	m.totalLossPct.WithLabelValues(r.UserID).Set(loss)
	m.drawdownPct.WithLabelValues(r.UserID).Set(dd)

	halted := 0.0
	if r.TradingHalted {
		halted = 1
	}
	m.tradingHalted.WithLabelValues(r.UserID).Set(halted)
}

// ObserveJob records one scheduler job run.
func (m *Metrics) ObserveJob(job string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.jobRuns.WithLabelValues(job, outcome).Inc()
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// ObserveRequest records one API request.
func (m *Metrics) ObserveRequest(method, route, status string, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Package observability provides Prometheus metrics and health reporting.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Scheduler
	CycleRunsTotal *prometheus.CounterVec
	CycleDuration  *prometheus.HistogramVec
	CycleSkipped   *prometheus.CounterVec
	QueueDepth     prometheus.Gauge

	// AI consensus
	AICallsTotal *prometheus.CounterVec
	AILatency    *prometheus.HistogramVec
	AICacheHits  prometheus.Counter
	AIFallbacks  *prometheus.CounterVec

	// Market data
	SourceFetches   *prometheus.CounterVec
	MarketCacheHits *prometheus.CounterVec
	CandidatesFound prometheus.Gauge

	// Trading
	TradesTotal    *prometheus.CounterVec
	RiskRejections *prometheus.CounterVec
	OpenPositions  *prometheus.GaugeVec
	DrawdownPaused *prometheus.GaugeVec
	PortfolioSOL   *prometheus.GaugeVec

	// Storage
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "hivemind"
	}

	return &Metrics{
		CycleRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cycle_runs_total",
			Help:      "Cycle executions by cycle and status",
		}, []string{"cycle", "status"}),
		CycleDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cycle_duration_seconds",
			Help:      "Cycle execution duration",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"cycle"}),
		CycleSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cycle_skipped_total",
			Help:      "Cycles skipped because the same wallet cycle was still running",
		}, []string{"cycle"}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Jobs waiting in the local queue",
		}),

		AICallsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ai",
			Name:      "calls_total",
			Help:      "Provider calls by provider and outcome",
		}, []string{"provider", "outcome"}),
		AILatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ai",
			Name:      "call_duration_seconds",
			Help:      "Provider call latency",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20},
		}, []string{"provider"}),
		AICacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ai",
			Name:      "cache_hits_total",
			Help:      "Analyses served from the per-mint cache",
		}),
		AIFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ai",
			Name:      "fallback_total",
			Help:      "Requests answered with the neutral hold after every provider failed",
		}, []string{"kind"}),

		SourceFetches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "source_fetches_total",
			Help:      "Discovery source fetches by source and status",
		}, []string{"source", "status"}),
		MarketCacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "cache_hits_total",
			Help:      "Market cache hits by kind",
		}, []string{"kind"}),
		CandidatesFound: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "candidates",
			Help:      "Candidates returned by the last uncached fetch",
		}),

		TradesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "trades_total",
			Help:      "Trades by action and status",
		}, []string{"action", "status"}),
		RiskRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "risk_rejections_total",
			Help:      "Buy decisions rejected by the risk guard, by reason",
		}, []string{"reason"}),
		OpenPositions: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "open_positions",
			Help:      "Open positions per wallet",
		}, []string{"wallet"}),
		DrawdownPaused: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "drawdown_paused",
			Help:      "1 when the drawdown breaker blocks buys for the wallet",
		}, []string{"wallet"}),
		PortfolioSOL: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "portfolio_value_sol",
			Help:      "Portfolio value per wallet in SOL",
		}, []string{"wallet"}),

		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_errors_total",
			Help:      "Database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

func RecordCycle(cycle, status string, seconds float64) {
	DefaultMetrics.CycleRunsTotal.WithLabelValues(cycle, status).Inc()
	DefaultMetrics.CycleDuration.WithLabelValues(cycle).Observe(seconds)
}

func RecordCycleSkipped(cycle string) {
	DefaultMetrics.CycleSkipped.WithLabelValues(cycle).Inc()
}

func SetQueueDepth(n int) {
	DefaultMetrics.QueueDepth.Set(float64(n))
}

func RecordAICall(provider, outcome string, seconds float64) {
	DefaultMetrics.AICallsTotal.WithLabelValues(provider, outcome).Inc()
	DefaultMetrics.AILatency.WithLabelValues(provider).Observe(seconds)
}

func RecordAICacheHit() {
	DefaultMetrics.AICacheHits.Inc()
}

func RecordAIFallback(kind string) {
	DefaultMetrics.AIFallbacks.WithLabelValues(kind).Inc()
}

func RecordSourceFetch(source string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DefaultMetrics.SourceFetches.WithLabelValues(source, status).Inc()
}

func RecordMarketCacheHit(kind string) {
	DefaultMetrics.MarketCacheHits.WithLabelValues(kind).Inc()
}

func SetCandidatesFound(n int) {
	DefaultMetrics.CandidatesFound.Set(float64(n))
}

func RecordTrade(action, status string) {
	DefaultMetrics.TradesTotal.WithLabelValues(action, status).Inc()
}

func RecordRiskRejection(reason string) {
	DefaultMetrics.RiskRejections.WithLabelValues(reason).Inc()
}

func SetWalletState(wallet string, openPositions int, portfolioSOL float64, paused bool) {
	DefaultMetrics.OpenPositions.WithLabelValues(wallet).Set(float64(openPositions))
	DefaultMetrics.PortfolioSOL.WithLabelValues(wallet).Set(portfolioSOL)
	p := 0.0
	if paused {
		p = 1
	}
	DefaultMetrics.DrawdownPaused.WithLabelValues(wallet).Set(p)
}

// ForgetWallet drops per-wallet series once the wallet's state is evicted.
func ForgetWallet(wallet string) {
	DefaultMetrics.OpenPositions.DeleteLabelValues(wallet)
	DefaultMetrics.PortfolioSOL.DeleteLabelValues(wallet)
	DefaultMetrics.DrawdownPaused.DeleteLabelValues(wallet)
}

func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

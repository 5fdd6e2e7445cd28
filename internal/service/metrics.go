package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics covers the ledger and matching hot paths. A nil *Metrics disables
// collection everywhere it is passed.
type Metrics struct {
	LedgerOps          *prometheus.CounterVec
	LedgerOpLatency    *prometheus.HistogramVec
	MatchedTrades      *prometheus.CounterVec
	MatchLatency       prometheus.Histogram
	Settlements        *prometheus.CounterVec
	SettlementLatency  prometheus.Histogram
	Confirmations      *prometheus.CounterVec
	OrderSubmissions   *prometheus.CounterVec
	BookDepth          *prometheus.GaugeVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		LedgerOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_operations_total",
				Help: "Total ledger credit and debit operations.",
			},
			[]string{"direction", "status"},
		),
		LedgerOpLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_operation_latency_seconds",
				Help:    "Ledger operation latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"direction"},
		),
		MatchedTrades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "matching_trades_total",
				Help: "Trades produced by matching passes.",
			},
			[]string{"pair"},
		),
		MatchLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "matching_pass_latency_seconds",
				Help:    "Matching pass latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		),
		Settlements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlements_total",
				Help: "Settlement attempts by outcome.",
			},
			[]string{"status"},
		),
		SettlementLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "settlement_latency_seconds",
				Help:    "Settlement latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		),
		Confirmations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trade_confirmations_total",
				Help: "Deferred trade confirmations by outcome.",
			},
			[]string{"status"},
		),
		OrderSubmissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_submissions_total",
				Help: "Order submissions by outcome.",
			},
			[]string{"status"},
		),
		BookDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "order_book_depth",
				Help: "Resting orders per pair and side.",
			},
			[]string{"pair", "side"},
		),
	}

	registry.MustRegister(
		m.LedgerOps, m.LedgerOpLatency,
		m.MatchedTrades, m.MatchLatency,
		m.Settlements, m.SettlementLatency,
		m.Confirmations, m.OrderSubmissions, m.BookDepth,
	)
	return m
}

func (m *Metrics) ObserveLedgerOp(direction, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.LedgerOps.WithLabelValues(direction, status).Inc()
	m.LedgerOpLatency.WithLabelValues(direction).Observe(duration.Seconds())
}

func (m *Metrics) ObserveMatch(pair string, trades int, duration time.Duration) {
	if m == nil {
		return
	}
	m.MatchedTrades.WithLabelValues(pair).Add(float64(trades))
	m.MatchLatency.Observe(duration.Seconds())
}

func (m *Metrics) ObserveSettlement(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Settlements.WithLabelValues(status).Inc()
	m.SettlementLatency.Observe(duration.Seconds())
}

func (m *Metrics) ObserveConfirmation(status string) {
	if m == nil {
		return
	}
	m.Confirmations.WithLabelValues(status).Inc()
}

func (m *Metrics) SetBookDepth(pair, side string, depth float64) {
	if m == nil {
		return
	}
	m.BookDepth.WithLabelValues(pair, side).Set(depth)
}

func (m *Metrics) IncOrderSubmission(status string) {
	if m == nil {
		return
	}
	m.OrderSubmissions.WithLabelValues(status).Inc()
}

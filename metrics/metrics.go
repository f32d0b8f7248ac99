// Package metrics provides Prometheus metrics for the connector core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors for order tracking and transaction
// execution. A nil *Metrics is valid and records nothing, so components
// can be wired without observability in tests.
type Metrics struct {
	orderEvents   *prometheus.CounterVec
	fills         *prometheus.CounterVec
	lostOrders    prometheus.Counter
	droppedEvents *prometheus.CounterVec

	txAttempts *prometheus.CounterVec
	txOutcomes *prometheus.CounterVec
	txPolls    *prometheus.CounterVec
	feePerUnit *prometheus.GaugeVec
	feeCache   *prometheus.CounterVec
}

// New registers all collectors with reg. Tests pass a fresh
// prometheus.NewRegistry(); the binary passes prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		orderEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "connector_order_events_total",
			Help: "Order lifecycle events by kind",
		}, []string{"event"}),
		fills: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "connector_fills_total",
			Help: "Trade fills applied to tracked orders",
		}, []string{"pair"}),
		lostOrders: factory.NewCounter(prometheus.CounterOpts{
			Name: "connector_lost_orders_total",
			Help: "Orders quarantined after repeated not-found reports",
		}),
		droppedEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "connector_dropped_updates_total",
			Help: "Updates dropped by the tracker",
		}, []string{"reason"}),
		txAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "connector_tx_attempts_total",
			Help: "Transaction submission attempts",
		}, []string{"chain"}),
		txOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "connector_tx_outcomes_total",
			Help: "Terminal transaction outcomes",
		}, []string{"chain", "outcome"}),
		txPolls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "connector_tx_polls_total",
			Help: "Transaction status poll requests",
		}, []string{"chain"}),
		feePerUnit: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "connector_fee_per_compute_unit",
			Help: "Priority fee per compute unit used on the last submission",
		}, []string{"chain"}),
		feeCache: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "connector_fee_estimate_cache_total",
			Help: "Fee estimate cache lookups",
		}, []string{"result"}),
	}
}

// OrderEvent counts a lifecycle event (created, filled, cancelled, ...).
func (m *Metrics) OrderEvent(event string) {
	if m == nil {
		return
	}
	m.orderEvents.WithLabelValues(event).Inc()
}

// Fill counts an applied trade fill.
func (m *Metrics) Fill(pair string) {
	if m == nil {
		return
	}
	m.fills.WithLabelValues(pair).Inc()
}

// LostOrder counts a quarantined order.
func (m *Metrics) LostOrder() {
	if m == nil {
		return
	}
	m.lostOrders.Inc()
}

// DroppedUpdate counts an update the tracker dropped (unknown order,
// malformed update).
func (m *Metrics) DroppedUpdate(reason string) {
	if m == nil {
		return
	}
	m.droppedEvents.WithLabelValues(reason).Inc()
}

// TxAttempt counts a submission attempt.
func (m *Metrics) TxAttempt(chain string) {
	if m == nil {
		return
	}
	m.txAttempts.WithLabelValues(chain).Inc()
}

// TxOutcome counts a terminal transaction outcome (confirmed, failed,
// timed_out).
func (m *Metrics) TxOutcome(chain, outcome string) {
	if m == nil {
		return
	}
	m.txOutcomes.WithLabelValues(chain, outcome).Inc()
}

// TxPoll counts a status poll request.
func (m *Metrics) TxPoll(chain string) {
	if m == nil {
		return
	}
	m.txPolls.WithLabelValues(chain).Inc()
}

// FeePerUnit records the per-compute-unit fee used for a submission.
func (m *Metrics) FeePerUnit(chain string, fee int64) {
	if m == nil {
		return
	}
	m.feePerUnit.WithLabelValues(chain).Set(float64(fee))
}

// FeeCacheLookup counts a fee estimate cache hit or miss.
func (m *Metrics) FeeCacheLookup(result string) {
	if m == nil {
		return
	}
	m.feeCache.WithLabelValues(result).Inc()
}

// StartMetricsServer exposes /metrics on addr.
func StartMetricsServer(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, nil)
	}()
}

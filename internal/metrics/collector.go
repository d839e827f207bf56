// Package metrics exposes the engine's prometheus collectors
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the engine collectors and their registry. A nil
// collector accepts every call and records nothing.
type Collector struct {
	registry *prometheus.Registry

	evaluations *prometheus.CounterVec
	orders      *prometheus.CounterVec
	polls       *prometheus.CounterVec
	funds       *prometheus.GaugeVec
	goods       *prometheus.GaugeVec
	realized    *prometheus.GaugeVec
	exchange    *prometheus.HistogramVec
}

// NewCollector creates and registers the engine collectors
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_evaluations_total",
			Help: "Tracking cycles by decided action",
		}, []string{"symbol", "action"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_orders_total",
			Help: "Order attempts by side and outcome",
		}, []string{"side", "outcome"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_polls_total",
			Help: "Pending order polls by result",
		}, []string{"result"}),
		funds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grid_funds_available",
			Help: "Quote funds available per pair",
		}, []string{"symbol"}),
		goods: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grid_goods_available",
			Help: "Base holdings available per pair",
		}, []string{"symbol"}),
		realized: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grid_realized_pnl",
			Help: "Realized profit of the last settlement per pair",
		}, []string{"symbol"}),
		exchange: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grid_exchange_request_seconds",
			Help:    "Exchange request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}

	c.registry.MustRegister(
		c.evaluations, c.orders, c.polls,
		c.funds, c.goods, c.realized, c.exchange,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the registry for tests and custom handlers
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the text exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) RecordEvaluation(symbol, action string) {
	if c == nil {
		return
	}
	c.evaluations.WithLabelValues(symbol, action).Inc()
}

func (c *Collector) RecordOrder(side, outcome string) {
	if c == nil {
		return
	}
	c.orders.WithLabelValues(side, outcome).Inc()
}

func (c *Collector) RecordPoll(result string) {
	if c == nil {
		return
	}
	c.polls.WithLabelValues(result).Inc()
}

// SetPosition updates the per-pair gauges
func (c *Collector) SetPosition(symbol string, funds, goods float64) {
	if c == nil {
		return
	}
	c.funds.WithLabelValues(symbol).Set(funds)
	c.goods.WithLabelValues(symbol).Set(goods)
}

func (c *Collector) SetRealizedPnL(symbol string, pnl float64) {
	if c == nil {
		return
	}
	c.realized.WithLabelValues(symbol).Set(pnl)
}

// ForgetPosition drops the gauges of a removed pair
func (c *Collector) ForgetPosition(symbol string) {
	if c == nil {
		return
	}
	c.funds.DeleteLabelValues(symbol)
	c.goods.DeleteLabelValues(symbol)
}

func (c *Collector) ObserveExchange(endpoint string, seconds float64) {
	if c == nil {
		return
	}
	c.exchange.WithLabelValues(endpoint).Observe(seconds)
}

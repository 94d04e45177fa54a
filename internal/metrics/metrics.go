// Package metrics exposes the trade system's decisions as Prometheus series:
//
//	tradesys_trades_total{instrument,business,cause}  trades appended to a history
//	tradesys_delay_resubmits_total{instrument,business} delayed requests carried over a bad bar
//	tradesys_delay_drops_total{instrument,business}     delayed requests abandoned
//	tradesys_order_rejects_total{instrument,business,reason} orders that never reached the history
//	tradesys_equity{instrument}                         equity after the last bar of a run
package metrics

import (
	"net/http"
	"trade-system-go/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 实现 system.Recorder。一个实例可被所有并发副本共享。
type Metrics struct {
	trades    *prometheus.CounterVec
	resubmits *prometheus.CounterVec
	drops     *prometheus.CounterVec
	rejects   *prometheus.CounterVec
	equity    *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradesys_trades_total",
				Help: "Trades appended to a system history",
			},
			[]string{"instrument", "business", "cause"},
		),
		resubmits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradesys_delay_resubmits_total",
				Help: "Delayed requests carried over to the next bar",
			},
			[]string{"instrument", "business"},
		),
		drops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradesys_delay_drops_total",
				Help: "Delayed requests dropped after too many resubmissions",
			},
			[]string{"instrument", "business"},
		),
		rejects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradesys_order_rejects_total",
				Help: "Orders declined before reaching the history",
			},
			[]string{"instrument", "business", "reason"},
		),
		equity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradesys_equity",
				Help: "Ledger equity at the end of the last run",
			},
			[]string{"instrument"},
		),
	}

	for _, c := range []prometheus.Collector{m.trades, m.resubmits, m.drops, m.rejects, m.equity} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) TradeRecorded(r models.TradeRecord) {
	m.trades.WithLabelValues(r.Instrument, string(r.Business), string(r.Cause)).Inc()
}

func (m *Metrics) DelayResubmitted(inst string, business models.BusinessType) {
	m.resubmits.WithLabelValues(inst, string(business)).Inc()
}

func (m *Metrics) DelayDropped(inst string, business models.BusinessType) {
	m.drops.WithLabelValues(inst, string(business)).Inc()
}

func (m *Metrics) OrderRejected(inst string, business models.BusinessType, reason string) {
	m.rejects.WithLabelValues(inst, string(business), reason).Inc()
}

// SetEquity 记录某个标的运行结束时的权益
func (m *Metrics) SetEquity(inst string, equity float64) {
	m.equity.WithLabelValues(inst).Set(equity)
}

// Handler serves the series gathered by g in the text exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Package metrics counts checkout outcomes for Prometheus.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"tokokasir/backend/internal/events"
)

type Checkout struct {
	billsPaid     *prometheus.CounterVec
	revenue       *prometheus.CounterVec
	restockAlerts *prometheus.CounterVec
	depleted      *prometheus.CounterVec
}

// New registers the checkout collectors with registerer, or with the default
// registerer when nil.
func New(registerer prometheus.Registerer) *Checkout {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Checkout{
		billsPaid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_bills_paid_total",
			Help: "Bills that received a successful payment.",
		}, []string{"method", "channel"}),
		revenue: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_revenue_total",
			Help: "Sum of paid bill totals.",
		}, []string{"channel"}),
		restockAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_restock_alerts_total",
			Help: "Times an item fell to or below its restock level.",
		}, []string{"item"}),
		depleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_stock_depleted_total",
			Help: "Times an item ran out in its sale pool.",
		}, []string{"item"}),
	}
	registerer.MustRegister(m.billsPaid, m.revenue, m.restockAlerts, m.depleted)
	return m
}

// Kinds lists the events Handle consumes.
func (m *Checkout) Kinds() []events.Kind {
	return []events.Kind{events.KindBillPaid, events.KindRestockThreshold, events.KindStockDepleted}
}

// Handle is an events.Handler.
func (m *Checkout) Handle(_ context.Context, e events.Event) error {
	switch e.Kind {
	case events.KindBillPaid:
		m.billsPaid.WithLabelValues(e.Method, string(e.Channel)).Inc()
		if amount, _ := e.Amount.Decimal().Float64(); amount > 0 {
			m.revenue.WithLabelValues(string(e.Channel)).Add(amount)
		}
	case events.KindRestockThreshold:
		m.restockAlerts.WithLabelValues(e.ItemCode).Inc()
	case events.KindStockDepleted:
		m.depleted.WithLabelValues(e.ItemCode).Inc()
	}
	return nil
}

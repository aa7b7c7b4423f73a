package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CreditMetrics tracks ledger and settlement outcomes.
type CreditMetrics struct {
	adjustments   *prometheus.CounterVec
	clampedDebits prometheus.Counter
	settlements   *prometheus.CounterVec
	checkouts     *prometheus.CounterVec
}

var (
	defaultCreditMetrics     *CreditMetrics
	defaultCreditMetricsOnce sync.Once
)

// NewCreditMetrics builds a CreditMetrics recorder using the default registry.
func NewCreditMetrics() *CreditMetrics {
	defaultCreditMetricsOnce.Do(func() {
		defaultCreditMetrics = newCreditMetrics(prometheus.DefaultRegisterer)
	})
	return defaultCreditMetrics
}

// NewCreditMetricsWithRegisterer allows tests to provide a dedicated registry.
func NewCreditMetricsWithRegisterer(reg prometheus.Registerer) *CreditMetrics {
	return newCreditMetrics(reg)
}

func newCreditMetrics(reg prometheus.Registerer) *CreditMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &CreditMetrics{
		adjustments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cvadapt",
			Subsystem: "credits",
			Name:      "adjustments_total",
			Help:      "Committed ledger adjustments by reason and direction",
		}, []string{"reason", "direction"}),
		clampedDebits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cvadapt",
			Subsystem: "credits",
			Name:      "clamped_debits_total",
			Help:      "Debits that hit the zero floor",
		}),
		settlements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cvadapt",
			Subsystem: "credits",
			Name:      "settlements_total",
			Help:      "Checkout settlement attempts by outcome",
		}, []string{"outcome"}),
		checkouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cvadapt",
			Subsystem: "credits",
			Name:      "checkout_sessions_total",
			Help:      "Checkout sessions created by package",
		}, []string{"package"}),
	}
}

// RecordAdjustment counts a committed adjustment.
func (m *CreditMetrics) RecordAdjustment(reason string, delta int64, clamped bool) {
	if m == nil {
		return
	}
	direction := "credit"
	if delta < 0 {
		direction = "debit"
	}
	m.adjustments.WithLabelValues(reason, direction).Inc()
	if clamped && delta < 0 {
		m.clampedDebits.Inc()
	}
}

// RecordSettlement counts a settlement outcome.
func (m *CreditMetrics) RecordSettlement(outcome string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(outcome).Inc()
}

// RecordCheckout counts a created checkout session.
func (m *CreditMetrics) RecordCheckout(packageID string) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(packageID).Inc()
}

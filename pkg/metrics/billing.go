package metrics

import "github.com/prometheus/client_golang/prometheus"

// BillingMetrics tracks subscription reconciliation and ledger health.
type BillingMetrics struct {
	reconcile     *prometheus.CounterVec
	purchases     *prometheus.CounterVec
	inconsistency prometheus.Counter
}

// NewBillingMetrics registers the billing metrics on the provided registerer.
func NewBillingMetrics(reg prometheus.Registerer) *BillingMetrics {
	if reg == nil {
		return &BillingMetrics{}
	}
	reconcile := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "reconcile_total",
		Help:      "Subscription reconciliations by result.",
	}, []string{"result"})
	purchases := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "purchases_total",
		Help:      "Completed brushstroke pack purchases.",
	}, []string{"result"})
	inconsistency := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "inconsistencies_total",
		Help:      "Accounts whose cached balance disagrees with the ledger.",
	})
	reg.MustRegister(reconcile, purchases, inconsistency)
	return &BillingMetrics{
		reconcile:     reconcile,
		purchases:     purchases,
		inconsistency: inconsistency,
	}
}

// IncReconcile counts one reconciliation result (skipped, synced, renewed, cleared, degraded).
func (b *BillingMetrics) IncReconcile(result string) {
	if b == nil || b.reconcile == nil {
		return
	}
	b.reconcile.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncPurchase counts one purchase completion attempt (credited, duplicate, rejected).
func (b *BillingMetrics) IncPurchase(result string) {
	if b == nil || b.purchases == nil {
		return
	}
	b.purchases.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncInconsistency counts one account flagged by the ledger audit.
func (b *BillingMetrics) IncInconsistency() {
	if b == nil || b.inconsistency == nil {
		return
	}
	b.inconsistency.Inc()
}

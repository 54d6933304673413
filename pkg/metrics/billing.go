package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BillingMetrics records the billing cycle and transaction submission
// counters exposed by the workers and the API.
type BillingMetrics struct {
	cyclesProcessed  *prometheus.CounterVec
	cycleDuration    prometheus.Histogram
	transactionsSent *prometheus.CounterVec
	submitAttempts   prometheus.Histogram
	callbackEvents   *prometheus.CounterVec
	dueSubscriptions prometheus.Gauge
}

// NewBillingMetrics registers billing metrics on the provided registerer.
func NewBillingMetrics(reg prometheus.Registerer) *BillingMetrics {
	if reg == nil {
		return &BillingMetrics{}
	}
	cyclesProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_cycles_processed",
		Help: "Subscription cycles processed, labelled by outcome.",
	}, []string{"outcome"})
	cycleDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "billing_cycle_duration_seconds",
		Help:    "Duration of one subscription cycle end to end.",
		Buckets: prometheus.DefBuckets,
	})
	transactionsSent := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_transactions_submitted",
		Help: "Transactions submitted to the processor, labelled by type and outcome.",
	}, []string{"type", "outcome"})
	submitAttempts := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "billing_submit_attempts",
		Help:    "Attempts needed before a transaction submission resolved.",
		Buckets: []float64{1, 2, 3, 4, 5},
	})
	callbackEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_callback_events",
		Help: "Processor callback events received, labelled by outcome.",
	}, []string{"outcome"})
	dueSubscriptions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "billing_due_subscriptions",
		Help: "Subscriptions due at the last scheduler tick.",
	})
	reg.MustRegister(cyclesProcessed, cycleDuration, transactionsSent, submitAttempts, callbackEvents, dueSubscriptions)
	return &BillingMetrics{
		cyclesProcessed:  cyclesProcessed,
		cycleDuration:    cycleDuration,
		transactionsSent: transactionsSent,
		submitAttempts:   submitAttempts,
		callbackEvents:   callbackEvents,
		dueSubscriptions: dueSubscriptions,
	}
}

// ObserveCycle records one processed cycle with its outcome and duration.
func (b *BillingMetrics) ObserveCycle(outcome string, duration time.Duration) {
	if b == nil || b.cyclesProcessed == nil {
		return
	}
	b.cyclesProcessed.WithLabelValues(normalizeLabel(outcome)).Inc()
	b.cycleDuration.Observe(duration.Seconds())
}

// IncTransaction records one submitted transaction.
func (b *BillingMetrics) IncTransaction(txType, outcome string) {
	if b == nil || b.transactionsSent == nil {
		return
	}
	b.transactionsSent.WithLabelValues(normalizeLabel(txType), normalizeLabel(outcome)).Inc()
}

// ObserveSubmitAttempts records how many attempts one submission took.
func (b *BillingMetrics) ObserveSubmitAttempts(attempts int) {
	if b == nil || b.submitAttempts == nil {
		return
	}
	b.submitAttempts.Observe(float64(attempts))
}

// IncCallback records one received callback event.
func (b *BillingMetrics) IncCallback(outcome string) {
	if b == nil || b.callbackEvents == nil {
		return
	}
	b.callbackEvents.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// SetDueSubscriptions records the size of the last due batch.
func (b *BillingMetrics) SetDueSubscriptions(n int) {
	if b == nil || b.dueSubscriptions == nil {
		return
	}
	b.dueSubscriptions.Set(float64(n))
}

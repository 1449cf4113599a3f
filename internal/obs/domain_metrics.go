package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// SettlementAttemptTotal counts terminal settlement attempts by method and result.
	SettlementAttemptTotal *prometheus.CounterVec
	// PaymentIntentTotal counts payment intent creation outcomes per processor.
	PaymentIntentTotal *prometheus.CounterVec
	// PaymentConfirmDuration records card confirmation round-trip latency in milliseconds.
	PaymentConfirmDuration *prometheus.HistogramVec
	// CheckoutSessionsActive tracks open checkout terminals.
	CheckoutSessionsActive prometheus.Gauge
	// EventsPublishedTotal counts domain event publication outcomes.
	EventsPublishedTotal *prometheus.CounterVec
	// PaymentRecordRetryTotal counts deferred payment-record writes by outcome.
	PaymentRecordRetryTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers checkout-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		SettlementAttemptTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_attempt_total",
			Help:      "Count of settlement attempts by payment method and outcome.",
		}, []string{"method", "result"}))
		PaymentIntentTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_intent_total",
			Help:      "Count of payment intent creation outcomes.",
		}, []string{"processor", "result"}))
		PaymentConfirmDuration = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settlement_confirm_duration_ms",
			Help:      "Latency of card payment confirmation in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 15000},
		}, []string{"processor", "result"}))
		CheckoutSessionsActive = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkout_sessions_active",
			Help:      "Number of open checkout terminals.",
		}))
		EventsPublishedTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Count of domain events published by topic and outcome.",
		}, []string{"topic", "result"}))
		PaymentRecordRetryTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_record_retry_total",
			Help:      "Count of queued payment record writes by outcome.",
		}, []string{"result"}))
	})
}

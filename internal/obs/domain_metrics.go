package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentFlowTotal counts completed payment runs by strategy and outcome.
	PaymentFlowTotal *prometheus.CounterVec
	// PaymentTransitionTotal counts state transitions of the payment flow.
	PaymentTransitionTotal *prometheus.CounterVec
	// PaymentDuplicateTotal counts duplicate submissions caught before charging.
	PaymentDuplicateTotal *prometheus.CounterVec
	// PaymentIntentTotal counts processor intent calls.
	PaymentIntentTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts inbound payment webhook processing outcomes.
	PaymentWebhookTotal *prometheus.CounterVec
	// PaymentJobTotal counts background job outcomes.
	PaymentJobTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentFlowTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_flow_total",
			Help:      "Count of payment runs by strategy and outcome.",
		}, []string{"strategy", "outcome"})
		PaymentTransitionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_transition_total",
			Help:      "Count of payment state transitions.",
		}, []string{"from", "to"})
		PaymentDuplicateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_duplicate_total",
			Help:      "Count of duplicate payment submissions detected.",
		}, []string{"kind"})
		PaymentIntentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_intent_total",
			Help:      "Count of payment intent processing outcomes.",
		}, []string{"provider", "operation", "result"})
		PaymentWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment webhooks by outcome.",
		}, []string{"provider", "result"})
		PaymentJobTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_job_total",
			Help:      "Count of payment background jobs by kind and result.",
		}, []string{"kind", "result"})

		PaymentFlowTotal = registerOrReuse(reg, PaymentFlowTotal)
		PaymentTransitionTotal = registerOrReuse(reg, PaymentTransitionTotal)
		PaymentDuplicateTotal = registerOrReuse(reg, PaymentDuplicateTotal)
		PaymentIntentTotal = registerOrReuse(reg, PaymentIntentTotal)
		PaymentWebhookTotal = registerOrReuse(reg, PaymentWebhookTotal)
		PaymentJobTotal = registerOrReuse(reg, PaymentJobTotal)
	})
}

// IncCounter increments a counter vector when it has been registered.
func IncCounter(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}

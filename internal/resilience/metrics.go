package resilience

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	// BreakerState is 0 closed, 1 open, 2 half-open.
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "payflow",
		Name:      "breaker_state",
		Help:      "Current breaker state: 0=closed,1=open,2=half-open.",
	}, []string{"target"})
	BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payflow",
		Name:      "breaker_transition_total",
		Help:      "Breaker state transitions.",
	}, []string{"target", "from", "to"})
	BreakerOpenedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payflow",
		Name:      "breaker_open_total",
		Help:      "Times a breaker opened.",
	}, []string{"target"})
)

// RegisterMetrics exposes the breaker collectors on reg, the default
// registerer when nil.
func RegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	metricsOnce.Do(func() {
		reg.MustRegister(BreakerState, BreakerTransitions, BreakerOpenedTotal)
	})
}

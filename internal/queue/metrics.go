package queue

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "payflow",
			Name:      "queue_depth",
			Help:      "Ready tasks per kind",
		},
		[]string{"kind"},
	)
	QueueProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payflow",
			Name:      "queue_processed_total",
			Help:      "Task deliveries by outcome (ok, retry, dead)",
		},
		[]string{"kind", "status"},
	)
	QueueDLQSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "payflow",
			Name:      "queue_dlq_size",
			Help:      "Tasks parked in the dead-letter store",
		},
		[]string{"kind"},
	)

	registerOnce sync.Once
)

// RegisterMetrics adds the queue collectors to reg once per process.
func RegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	registerOnce.Do(func() {
		reg.MustRegister(QueueDepth, QueueProcessedTotal, QueueDLQSize)
	})
}
